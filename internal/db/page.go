package db

import (
	"time"
)

// Page 是某个人员的个人主页容器，人员本身并不直接编辑它。
type Page struct {
	ID              uint      `gorm:"primaryKey"`
	CreatedAt       time.Time `gorm:"column:created"`
	UpdatedAt       time.Time `gorm:"column:modified"`
	PersonID        uint      `gorm:"uniqueIndex;not null"`
	Person          Person    `gorm:"constraint:OnDelete:CASCADE"`
	Active          bool
	AllowOwnerEdits bool
	Info            *PageInfo     `gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE"`
	Sections        []PageSection `gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE"`
	Files           []PageFile    `gorm:"foreignKey:PageID;constraint:OnDelete:CASCADE"`
}

// TableName 返回自定义表名。
func (Page) TableName() string {
	return "person_pages"
}

// NewPage 构造带默认值的个人主页。
func NewPage(personID uint) Page {
	return Page{PersonID: personID, Active: true}
}

// AbsoluteURL 仅在人员处于激活状态、带有 directory 标记且 slug 非空时返回公开地址。
// 需要预先加载 Person 及其 Flags。
func (p *Page) AbsoluteURL() (string, bool) {
	if p == nil {
		return "", false
	}
	person := &p.Person
	if !person.Active {
		return "", false
	}
	if !person.HasFlag(FlagDirectory) {
		return "", false
	}
	slug := person.SlugValue()
	if slug == "" {
		return "", false
	}
	return PagePath(slug), true
}

// PagePath 返回个人主页详情的路径。
func PagePath(slug string) string {
	return "/people/" + slug + "/"
}

// String 返回人员名称。
func (p Page) String() string {
	return p.Person.String()
}

// PageInfo 保存主页的简介与照片，每个主页最多一条。
type PageInfo struct {
	ID           uint      `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"column:created"`
	UpdatedAt    time.Time `gorm:"column:modified"`
	PageID       uint      `gorm:"uniqueIndex;not null"`
	Photo        string    `gorm:"size:255"`
	Introduction string    `gorm:"type:text"`
}

// TableName 返回自定义表名。
func (PageInfo) TableName() string {
	return "person_page_infos"
}

// PageSection 是主页上的一个段落，按 Ordering 升序展示。
type PageSection struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"column:created"`
	UpdatedAt time.Time `gorm:"column:modified"`
	PageID    uint      `gorm:"index;not null"`
	Active    bool
	Ordering  int    `gorm:"not null;default:0"`
	Title     string `gorm:"size:250;not null"`
	Content   string `gorm:"type:text;not null"`
}

// TableName 返回自定义表名。
func (PageSection) TableName() string {
	return "person_page_sections"
}

// PageFile 是人员上传到主页的文件，同一主页内 slug 唯一。
type PageFile struct {
	ID          uint   `gorm:"primaryKey"`
	PageID      uint   `gorm:"not null;uniqueIndex:idx_person_page_file_slug"`
	Slug        string `gorm:"size:50;not null;uniqueIndex:idx_person_page_file_slug"`
	Description string `gorm:"size:250"`
	TheFile     string `gorm:"size:255;not null"`
	ShowLink    bool
}

// TableName 返回自定义表名。
func (PageFile) TableName() string {
	return "person_page_files"
}
