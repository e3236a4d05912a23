package service

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrStoragePathInvalid 表示存储路径试图越过上传根目录。
var ErrStoragePathInvalid = errors.New("invalid storage path")

// FileStorage 将上传的照片与文件按日期分区保存在本地目录中。
type FileStorage struct {
	root         string
	urlPrefix    string
	pathTemplate string
	now          func() time.Time
}

// NewFileStorage 创建文件存储；pathTemplate 支持 %Y、%m、%d 占位符。
func NewFileStorage(root, urlPrefix, pathTemplate string) *FileStorage {
	return &FileStorage{
		root:         root,
		urlPrefix:    strings.TrimRight(urlPrefix, "/"),
		pathTemplate: pathTemplate,
		now:          time.Now,
	}
}

// WithClock 替换时间来源，主要面向测试。
func (s *FileStorage) WithClock(now func() time.Time) *FileStorage {
	if now != nil {
		s.now = now
	}
	return s
}

// Root 返回上传根目录。
func (s *FileStorage) Root() string {
	return s.root
}

// Dir 返回当前日期对应的相对目录。
func (s *FileStorage) Dir() string {
	now := s.now()
	replacer := strings.NewReplacer(
		"%Y", now.Format("2006"),
		"%m", now.Format("01"),
		"%d", now.Format("02"),
	)
	return strings.Trim(path.Clean("/"+replacer.Replace(s.pathTemplate)), "/")
}

// Save 写入文件并返回相对路径，文件名为日期前缀加 uuid，保留原扩展名。
func (s *FileStorage) Save(originalName string, r io.Reader) (string, error) {
	dir := s.Dir()
	if err := os.MkdirAll(filepath.Join(s.root, filepath.FromSlash(dir)), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	name := fmt.Sprintf("%s-%s%s", s.now().Format("20060102"), uuid.New().String(), ext)
	rel := path.Join(dir, name)

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	dst, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	_, copyErr := io.Copy(dst, r)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		// 写了一半的文件不会交给调用方，只能在这里删除
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			log.Printf("[storage] failed to remove partial upload %s: %v", rel, err)
		}
		if copyErr != nil {
			return "", fmt.Errorf("write upload file: %w", copyErr)
		}
		return "", fmt.Errorf("close upload file: %w", closeErr)
	}
	return rel, nil
}

// Open 打开已存储的文件。
func (s *FileStorage) Open(rel string) (*os.File, error) {
	full, err := s.fullPath(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Remove 删除已存储的文件，文件不存在时忽略。
func (s *FileStorage) Remove(rel string) error {
	if strings.TrimSpace(rel) == "" {
		return nil
	}
	full, err := s.fullPath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// URL 返回相对路径对应的公开地址，空路径返回空字符串。
func (s *FileStorage) URL(rel string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(rel), "/")
	if trimmed == "" {
		return ""
	}
	return s.urlPrefix + "/" + trimmed
}

func (s *FileStorage) fullPath(rel string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(rel))
	if cleaned == "/" {
		return "", ErrStoragePathInvalid
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}
