package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/personpages/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPersonPageNotFound 表示按 slug 未找到可用的个人主页。
	ErrPersonPageNotFound = errors.New("person page not found")
)

// PageService 负责个人主页及其附属记录的读取与创建。
type PageService struct {
	db      *gorm.DB
	storage *FileStorage
}

// NewPageService returns a new PageService instance.
func NewPageService(gdb *gorm.DB, storage *FileStorage) *PageService {
	return &PageService{db: gdb, storage: storage}
}

// GetOrCreate 原子地确保人员拥有一个主页。
// 使用 ON CONFLICT DO NOTHING 插入后再读取，并发触发时后到者读到已有记录。
func (s *PageService) GetOrCreate(tx *gorm.DB, personID uint) (*db.Page, bool, error) {
	if tx == nil {
		tx = s.db
	}
	if personID == 0 {
		return nil, false, errors.New("person id is required")
	}

	page := db.NewPage(personID)
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}},
		DoNothing: true,
	}).Create(&page)
	if result.Error != nil {
		return nil, false, fmt.Errorf("create person page: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return &page, true, nil
	}

	var existing db.Page
	if err := tx.Where("person_id = ?", personID).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("load person page: %w", err)
	}
	return &existing, false, nil
}

// FindByPerson 返回人员的主页，不存在时返回 ErrPersonPageNotFound。
func (s *PageService) FindByPerson(personID uint) (*db.Page, error) {
	var page db.Page
	if err := s.db.Where("person_id = ?", personID).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonPageNotFound
		}
		return nil, fmt.Errorf("find person page: %w", err)
	}
	return &page, nil
}

// ListPublished 返回所有可公开访问的主页，按人员名称排序。
func (s *PageService) ListPublished() ([]db.Page, error) {
	var pages []db.Page
	if err := s.db.Model(&db.Page{}).
		Scopes(db.PublishedPages).
		Preload("Person.Flags").
		Order("people.cn ASC, person_pages.id ASC").
		Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("list person pages: %w", err)
	}
	return pages, nil
}

// GetPublishedBySlug 按人员 slug 获取可公开访问的主页，并加载展示所需的附属记录。
func (s *PageService) GetPublishedBySlug(slug string) (*db.Page, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, ErrPersonPageNotFound
	}

	var page db.Page
	err := s.db.Model(&db.Page{}).
		Scopes(db.PublishedPages).
		Where("people.slug = ?", trimmed).
		Preload("Person.Flags").
		Preload("Info").
		Preload("Sections", db.VisibleSections).
		Preload("Files", db.PublicFiles).
		First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonPageNotFound
		}
		return nil, fmt.Errorf("get person page: %w", err)
	}
	return &page, nil
}

// GetActiveBySlug 仅要求主页处于激活状态，供日历等不要求公开发布的入口使用。
func (s *PageService) GetActiveBySlug(slug string) (*db.Page, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, ErrPersonPageNotFound
	}

	var page db.Page
	err := s.db.Model(&db.Page{}).
		Scopes(db.ActivePages).
		Where("people.slug = ?", trimmed).
		Preload("Person.Flags").
		Preload("Info").
		First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonPageNotFound
		}
		return nil, fmt.Errorf("get active person page: %w", err)
	}
	return &page, nil
}

// FileURL 解析模板中引用的个人文件地址，两个 slug 均不区分大小写。
// 未找到或主页未激活时返回空字符串。
func (s *PageService) FileURL(personSlug, fileSlug string) string {
	personSlug = strings.TrimSpace(personSlug)
	fileSlug = strings.TrimSpace(fileSlug)
	if personSlug == "" || fileSlug == "" {
		return ""
	}

	var file db.PageFile
	err := s.db.Model(&db.PageFile{}).
		Joins("JOIN person_pages ON person_pages.id = person_page_files.page_id").
		Joins("JOIN people ON people.id = person_pages.person_id").
		Where("person_pages.active = ?", true).
		Where("LOWER(people.slug) = LOWER(?)", personSlug).
		Where("LOWER(person_page_files.slug) = LOWER(?)", fileSlug).
		First(&file).Error
	if err != nil {
		return ""
	}
	return s.storage.URL(file.TheFile)
}

// StorageURL 返回已存储文件的公开地址。
func (s *PageService) StorageURL(path string) string {
	return s.storage.URL(path)
}
