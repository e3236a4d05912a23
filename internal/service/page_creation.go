package service

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/goliatone/go-slug"
	"github.com/google/uuid"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/metrics"
	"gorm.io/gorm"
)

// maxSlugAttempts 是带数字后缀的候选 slug 数量上限，之后再尝试一次随机后缀。
const maxSlugAttempts = 50

// ErrSlugUnavailable 表示所有候选 slug 都已被占用。
var ErrSlugUnavailable = errors.New("no unused slug available")

// PageCreationForm 是人员编辑页中的主页子表单。
type PageCreationForm struct {
	Create          bool
	Active          bool
	AllowOwnerEdits bool
}

// DefaultPageCreationForm 默认勾选创建，主页默认激活。
func DefaultPageCreationForm() PageCreationForm {
	return PageCreationForm{Create: true, Active: true}
}

// FormFor 用已有主页回填子表单。
func FormFor(page *db.Page) PageCreationForm {
	if page == nil {
		return DefaultPageCreationForm()
	}
	return PageCreationForm{Create: true, Active: page.Active, AllowOwnerEdits: page.AllowOwnerEdits}
}

// PageCreator 处理管理员在人员编辑流程中创建或更新主页。
type PageCreator struct {
	db    *gorm.DB
	pages *PageService
}

// NewPageCreator 构造 PageCreator。
func NewPageCreator(gdb *gorm.DB, pages *PageService) *PageCreator {
	return &PageCreator{db: gdb, pages: pages}
}

// Load 返回人员及其主页，主页不存在时为 nil。
func (c *PageCreator) Load(personID uint) (*db.Person, *db.Page, error) {
	var person db.Person
	if err := c.db.Preload("Flags").First(&person, personID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrPersonNotFound
		}
		return nil, nil, fmt.Errorf("load person: %w", err)
	}

	page, err := c.pages.FindByPerson(personID)
	if errors.Is(err, ErrPersonPageNotFound) {
		return &person, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	page.Person = person
	return &person, page, nil
}

// Save 保存子表单。
// 已有主页时只更新字段；没有主页且未勾选创建时不做任何写入并返回 nil。
// 新建的主页总是激活的；创建时同时授予 directory 标记，并在人员缺少 slug 时根据名称生成。
func (c *PageCreator) Save(personID uint, form PageCreationForm) (*db.Page, error) {
	var saved *db.Page
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var person db.Person
		if err := tx.Preload("Flags").First(&person, personID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPersonNotFound
			}
			return fmt.Errorf("load person: %w", err)
		}

		var existing db.Page
		err := tx.Where("person_id = ?", personID).First(&existing).Error
		switch {
		case err == nil:
			page, err := applyPageForm(tx, &existing, form)
			saved = page
			return err
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("load person page: %w", err)
		}

		if !form.Create {
			return nil
		}
		form.Active = true

		// 自动创建策略可能已在同一时刻建好主页，此时沿用已有记录
		page, created, err := c.pages.GetOrCreate(tx, personID)
		if err != nil {
			return err
		}
		if page, err = applyPageForm(tx, page, form); err != nil {
			return err
		}
		if created {
			log.Printf("[pages] created page %d for person %d", page.ID, personID)
		}

		if err := addFlag(tx, &person, db.FlagDirectory); err != nil {
			return err
		}
		if person.SlugValue() == "" {
			if err := assignSlug(tx, &person); err != nil {
				return err
			}
		}
		page.Person = person
		saved = page
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func applyPageForm(tx *gorm.DB, page *db.Page, form PageCreationForm) (*db.Page, error) {
	page.Active = form.Active
	page.AllowOwnerEdits = form.AllowOwnerEdits
	if err := tx.Model(page).Select("active", "allow_owner_edits").Updates(page).Error; err != nil {
		return nil, fmt.Errorf("update person page: %w", err)
	}
	return page, nil
}

// assignSlug 依次尝试 base、base-1、base-2……，每次尝试在独立的保存点内执行。
func assignSlug(tx *gorm.DB, person *db.Person) error {
	base := slugBase(person)

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}
		ok, err := trySlug(tx, person, candidate)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	candidate := fmt.Sprintf("%s-%s", base, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	ok, err := trySlug(tx, person, candidate)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlugUnavailable, base)
	}
	return nil
}

func trySlug(tx *gorm.DB, person *db.Person, candidate string) (bool, error) {
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Model(&db.Person{}).Where("id = ?", person.ID).Update("slug", candidate).Error
	})
	if err == nil {
		person.Slug = db.StringPtr(candidate)
		return true, nil
	}
	if isUniqueViolation(err) {
		metrics.SlugRetries.Inc()
		return false, nil
	}
	return false, fmt.Errorf("assign person slug: %w", err)
}

// slugBase 先按字符表把重音字母转写为 ASCII，再去掉其余非法字符。
func slugBase(person *db.Person) string {
	for _, source := range []string{person.CN, person.Username} {
		if strings.TrimSpace(source) == "" {
			continue
		}
		folded, err := slug.HashNormalize(source)
		if err != nil {
			folded = source
		}
		if normalized, err := slug.Normalize(folded); err == nil && normalized != "" {
			return normalized
		}
	}
	return "person"
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}
