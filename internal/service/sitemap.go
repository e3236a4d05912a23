package service

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/personpages/internal/db"
	"gorm.io/gorm"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// SitemapURL 是 sitemap 中的一个条目。
type SitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Sitemap 对应 sitemap.xml 的根元素。
type Sitemap struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []SitemapURL `xml:"url"`
}

// SitemapBuilder 枚举已发布主页。
type SitemapBuilder struct {
	db      *gorm.DB
	baseURL string
}

// NewSitemapBuilder 构造 SitemapBuilder，baseURL 用于拼接绝对地址。
func NewSitemapBuilder(gdb *gorm.DB, baseURL string) *SitemapBuilder {
	return &SitemapBuilder{db: gdb, baseURL: strings.TrimRight(baseURL, "/")}
}

// Build 生成 sitemap。
func (b *SitemapBuilder) Build() (*Sitemap, error) {
	var pages []db.Page
	err := b.db.Model(&db.Page{}).
		Scopes(db.PublishedPages).
		Preload("Person.Flags").
		Order("person_pages.id ASC").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("load sitemap pages: %w", err)
	}

	sitemap := &Sitemap{Xmlns: sitemapNamespace}
	for i := range pages {
		loc, ok := pages[i].AbsoluteURL()
		if !ok {
			continue
		}
		entry := SitemapURL{Loc: b.baseURL + loc}
		if !pages[i].UpdatedAt.IsZero() {
			entry.LastMod = pages[i].UpdatedAt.UTC().Format("2006-01-02")
		}
		sitemap.URLs = append(sitemap.URLs, entry)
	}
	return sitemap, nil
}

// Render 输出带 XML 声明的 sitemap 文档。
func (b *SitemapBuilder) Render() ([]byte, error) {
	sitemap, err := b.Build()
	if err != nil {
		return nil, err
	}
	body, err := xml.MarshalIndent(sitemap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
