package service

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/personpages/internal/db"
	"gorm.io/gorm"
)

// 搜索文档的权重。
const (
	SearchDocumentBoost = 1.5
	SearchFieldBoost    = 10.0
)

// SearchDocument 是提供给外部搜索引擎的单个主页文档。
type SearchDocument struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	Text       string             `json:"text"`
	PubDate    time.Time          `json:"pub_date"`
	Author     string             `json:"author"`
	Title      string             `json:"title"`
	Boost      float64            `json:"boost"`
	FieldBoost map[string]float64 `json:"field_boost"`
}

var searchTextTemplate = template.Must(template.New("person_page_text").Parse(
	`{{ .Name }}
{{ .Username }}
{{ with .Introduction }}{{ . }}
{{ end }}{{ range .Sections }}{{ .Title }}
{{ .Content }}
{{ end }}`))

type searchTextData struct {
	Name         string
	Username     string
	Introduction string
	Sections     []searchTextSection
}

type searchTextSection struct {
	Title   string
	Content string
}

// SearchIndex 为每个已发布主页生成一个搜索文档。
type SearchIndex struct {
	db *gorm.DB
}

// NewSearchIndex 构造 SearchIndex。
func NewSearchIndex(gdb *gorm.DB) *SearchIndex {
	return &SearchIndex{db: gdb}
}

// Documents 返回全部已发布主页的搜索文档。
func (s *SearchIndex) Documents() ([]SearchDocument, error) {
	var pages []db.Page
	err := s.db.Model(&db.Page{}).
		Scopes(db.PublishedPages).
		Preload("Person.Flags").
		Preload("Info").
		Preload("Sections", db.VisibleSections).
		Order("person_pages.id ASC").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("load indexable pages: %w", err)
	}

	docs := make([]SearchDocument, 0, len(pages))
	for i := range pages {
		doc, err := BuildSearchDocument(&pages[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// BuildSearchDocument 根据已加载 Person、Info、Sections 的主页构造文档。
func BuildSearchDocument(page *db.Page) (SearchDocument, error) {
	data := searchTextData{
		Name:     page.Person.String(),
		Username: page.Person.Username,
	}
	if page.Info != nil {
		data.Introduction = PlainText(page.Info.Introduction)
	}
	for _, section := range page.Sections {
		if !section.Active {
			continue
		}
		data.Sections = append(data.Sections, searchTextSection{
			Title:   section.Title,
			Content: PlainText(section.Content),
		})
	}

	var buf bytes.Buffer
	if err := searchTextTemplate.Execute(&buf, data); err != nil {
		return SearchDocument{}, fmt.Errorf("render search text: %w", err)
	}

	url, _ := page.AbsoluteURL()
	display := page.Person.String()
	return SearchDocument{
		ID:      fmt.Sprintf("person_pages.personpage.%d", page.ID),
		URL:     url,
		Text:    strings.TrimSpace(buf.String()),
		PubDate: page.UpdatedAt,
		Author:  display,
		Title:   display,
		Boost:   SearchDocumentBoost,
		FieldBoost: map[string]float64{
			"author": SearchFieldBoost,
			"title":  SearchFieldBoost,
		},
	}, nil
}
