package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/personpages/internal/db"
	"github.com/personpages/internal/metrics"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"gorm.io/gorm"
)

// 面向用户的头像处理提示。
const (
	MugshotMsgDirectoryMissing = "The directory application is not installed."
	MugshotMsgNoEntries        = "There are no directory entries to update."
	MugshotMsgNoImage          = "There is no image to crop."
	MugshotMsgDetectFailed     = "There was a problem automatically detecting a mugshot."
	MugshotMsgNoFace           = "No face detected in this image"
)

var (
	// ErrMugshotNoImage 表示主页没有可裁剪的照片。
	ErrMugshotNoImage = errors.New("page has no photo")
	// ErrMugshotNoFace 表示未能在照片中识别到人脸。
	ErrMugshotNoFace = errors.New("no face detected")
)

// MugshotWidth 是裁剪结果的宽度，高度按 4:5 计算。
const MugshotWidth = 240

// FaceDetector 在图片中定位人脸。
type FaceDetector interface {
	DetectFace(img image.Image) (image.Rectangle, bool)
}

// PortraitDetector 假定照片是头肩像，人脸位于上方居中位置。
// 适用于院系统一拍摄的证件照，未接入真正的人脸识别时使用。
type PortraitDetector struct{}

// DetectFace 实现 FaceDetector。
func (PortraitDetector) DetectFace(img image.Image) (image.Rectangle, bool) {
	b := img.Bounds()
	if b.Dx() < 16 || b.Dy() < 16 {
		return image.Rectangle{}, false
	}
	w := b.Dx() / 2
	h := b.Dy() * 2 / 5
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + b.Dy()/8
	return image.Rect(x0, y0, x0+w, y0+h), true
}

// NewFaceDetector 根据配置名称构造检测器，空字符串表示不启用头像功能。
func NewFaceDetector(name string) (FaceDetector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "portrait":
		return PortraitDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown face detector %q", name)
	}
}

// MugshotResult 是一次头像保存的结果，Error 非空时表示未做任何修改。
type MugshotResult struct {
	Page    *db.Page
	Updated int
	Message string
	Error   string
}

// MugshotService 从主页照片裁剪人脸并写入人员的目录条目。
type MugshotService struct {
	db       *gorm.DB
	storage  *FileStorage
	detector FaceDetector
}

// NewMugshotService 构造 MugshotService；detector 为 nil 时功能关闭。
func NewMugshotService(gdb *gorm.DB, storage *FileStorage, detector FaceDetector) *MugshotService {
	return &MugshotService{db: gdb, storage: storage, detector: detector}
}

// Enabled 判断是否配置了人脸检测。
func (s *MugshotService) Enabled() bool {
	return s != nil && s.detector != nil
}

// DirectoryInstalled 判断目录条目表是否存在。
func (s *MugshotService) DirectoryInstalled() bool {
	return s.db.Migrator().HasTable(&db.DirectoryEntry{})
}

// LoadPage 按 slug 加载激活的主页及其简介，没有简介时视为不存在。
func (s *MugshotService) LoadPage(slug string) (*db.Page, error) {
	var page db.Page
	err := s.db.Model(&db.Page{}).
		Scopes(db.ActivePages).
		Where("people.slug = ?", strings.TrimSpace(slug)).
		Preload("Person.Flags").
		Preload("Info").
		First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonPageNotFound
		}
		return nil, fmt.Errorf("load mugshot page: %w", err)
	}
	if page.Info == nil {
		return nil, ErrPersonPageNotFound
	}
	return &page, nil
}

// Preview 返回裁剪后的图片及原始格式。
func (s *MugshotService) Preview(page *db.Page) (image.Image, string, error) {
	if page == nil || page.Info == nil || strings.TrimSpace(page.Info.Photo) == "" {
		return nil, "", ErrMugshotNoImage
	}
	return s.crop(page.Info.Photo)
}

// Save 把裁剪结果写入人员的全部目录条目。
// 各种无法处理的情况以提示信息返回，不作为错误。
func (s *MugshotService) Save(page *db.Page) (*MugshotResult, error) {
	result := &MugshotResult{Page: page}

	if !s.DirectoryInstalled() {
		result.Error = MugshotMsgDirectoryMissing
		return result, nil
	}

	var entries []db.DirectoryEntry
	if err := s.db.Where("person_id = ?", page.PersonID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load directory entries: %w", err)
	}
	if len(entries) == 0 {
		result.Error = MugshotMsgNoEntries
		return result, nil
	}

	img, format, err := s.Preview(page)
	switch {
	case errors.Is(err, ErrMugshotNoImage):
		result.Error = MugshotMsgNoImage
		return result, nil
	case err != nil:
		log.Printf("[mugshot] crop failed for page %d (%s): %v", page.ID, photoFormat(page.Info.Photo), err)
		result.Error = MugshotMsgDetectFailed
		return result, nil
	}

	var buf bytes.Buffer
	if err := EncodeImage(&buf, img, format); err != nil {
		return nil, err
	}
	name := page.Person.SlugValue()
	if name == "" {
		name = "mugshot"
	}
	path, err := s.storage.Save(name+"."+imageExtension(format), &buf)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	if err := s.db.Model(&db.DirectoryEntry{}).Where("id IN ?", ids).Update("mugshot", path).Error; err != nil {
		_ = s.storage.Remove(path)
		return nil, fmt.Errorf("update mugshots: %w", err)
	}

	metrics.MugshotsUpdated.Add(float64(len(entries)))
	result.Updated = len(entries)
	if len(entries) == 1 {
		result.Message = "Mugshot updated"
	} else {
		result.Message = fmt.Sprintf("All mugshots updated (%d total)", len(entries))
	}
	return result, nil
}

func (s *MugshotService) crop(photo string) (image.Image, string, error) {
	if !s.Enabled() {
		return nil, "", ErrMugshotNoFace
	}

	f, err := s.storage.Open(photo)
	if err != nil {
		return nil, "", fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode photo: %w", err)
	}

	face, ok := s.detector.DetectFace(src)
	if !ok || face.Empty() {
		return nil, format, ErrMugshotNoFace
	}

	region := mugshotRegion(face, src.Bounds())
	height := MugshotWidth * 5 / 4
	dst := image.NewRGBA(image.Rect(0, 0, MugshotWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, region, draw.Over, nil)
	return dst, format, nil
}

// mugshotRegion 在人脸周围留出边距，保持 4:5 比例并限制在原图范围内。
func mugshotRegion(face, bounds image.Rectangle) image.Rectangle {
	w := face.Dx() * 2
	h := w * 5 / 4
	if w > bounds.Dx() {
		w = bounds.Dx()
		h = w * 5 / 4
	}
	if h > bounds.Dy() {
		h = bounds.Dy()
		w = h * 4 / 5
	}

	cx := face.Min.X + face.Dx()/2
	cy := face.Min.Y + face.Dy()/2
	x0 := clamp(cx-w/2, bounds.Min.X, bounds.Max.X-w)
	y0 := clamp(cy-h/2, bounds.Min.Y, bounds.Max.Y-h)
	return image.Rect(x0, y0, x0+w, y0+h)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeImage 按原格式编码；webp 没有编码器，改用 png。
func EncodeImage(w io.Writer, img image.Image, format string) error {
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "gif":
		err = gif.Encode(w, img, nil)
	case "bmp":
		err = bmp.Encode(w, img)
	default:
		err = png.Encode(w, img)
	}
	if err != nil {
		return fmt.Errorf("encode mugshot: %w", err)
	}
	return nil
}

// ImageContentType 返回编码结果对应的 MIME 类型。
func ImageContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}

func imageExtension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "gif", "bmp":
		return format
	default:
		return "png"
	}
}

// photoFormat 根据扩展名猜测格式，仅用于日志。
func photoFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
