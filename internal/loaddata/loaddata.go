// Package loaddata 从 YAML 数据文件批量导入人员、主页与账号。
// 导入以批量来源写入人员，自动创建策略不会为导入的人员建主页。
package loaddata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/personpages/internal/db"
	"github.com/personpages/internal/service"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// ErrEmptyFixture 表示数据文件没有内容。
var ErrEmptyFixture = errors.New("fixture is empty")

// Fixture 是数据文件的顶层结构。
type Fixture struct {
	Flags  []FlagFixture   `yaml:"flags"`
	People []PersonFixture `yaml:"people"`
	Pages  []PageFixture   `yaml:"pages"`
	Users  []UserFixture   `yaml:"users"`
}

// FlagFixture 描述一个人员标记。
type FlagFixture struct {
	Slug        string `yaml:"slug"`
	VerboseName string `yaml:"verbose_name"`
}

// PersonFixture 描述一个人员及其目录条目。
type PersonFixture struct {
	Username         string   `yaml:"username"`
	CN               string   `yaml:"cn"`
	Slug             string   `yaml:"slug"`
	Active           *bool    `yaml:"active"`
	Flags            []string `yaml:"flags"`
	DirectoryEntries []string `yaml:"directory_entries"`
}

// PageFixture 描述一个主页，Person 为人员的 username。
type PageFixture struct {
	Person          string           `yaml:"person"`
	Active          *bool            `yaml:"active"`
	AllowOwnerEdits bool             `yaml:"allow_owner_edits"`
	Introduction    string           `yaml:"introduction"`
	Photo           string           `yaml:"photo"`
	Sections        []SectionFixture `yaml:"sections"`
	Files           []FileFixture    `yaml:"files"`
}

// SectionFixture 描述一个段落。
type SectionFixture struct {
	Title    string `yaml:"title"`
	Content  string `yaml:"content"`
	Ordering int    `yaml:"ordering"`
	Active   *bool  `yaml:"active"`
}

// FileFixture 描述一个已存储的文件。
type FileFixture struct {
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	Path        string `yaml:"path"`
	ShowLink    bool   `yaml:"show_link"`
}

// UserFixture 描述一个可登录账号。
type UserFixture struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Superuser   bool     `yaml:"superuser"`
	Permissions []string `yaml:"permissions"`
}

// Summary 统计一次导入写入的记录数。
type Summary struct {
	Flags  int
	People int
	Pages  int
	Users  int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d flags, %d people, %d pages, %d users", s.Flags, s.People, s.Pages, s.Users)
}

// Parse 解析 YAML 数据。
func Parse(data []byte) (*Fixture, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFixture
	}
	var fixture Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &fixture, nil
}

// Loader 把数据文件写入数据库。
type Loader struct {
	db     *gorm.DB
	people *service.PersonService
}

// NewLoader 构造 Loader；人员通过 PersonService 写入。
func NewLoader(gdb *gorm.DB, people *service.PersonService) *Loader {
	return &Loader{db: gdb, people: people}
}

// LoadFile 读取并导入数据文件。
func (l *Loader) LoadFile(path string) (Summary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	summary, err := l.LoadBytes(content)
	if err != nil {
		return summary, fmt.Errorf("%s: %w", path, err)
	}
	return summary, nil
}

// LoadReader 从 io.Reader 导入。
func (l *Loader) LoadReader(r io.Reader) (Summary, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, fmt.Errorf("read fixture: %w", err)
	}
	return l.LoadBytes(content)
}

// LoadBytes 解析并导入数据。
func (l *Loader) LoadBytes(data []byte) (Summary, error) {
	fixture, err := Parse(data)
	if err != nil {
		return Summary{}, err
	}
	return l.Load(fixture)
}

// Load 按标记、人员、主页、账号的顺序导入。
func (l *Loader) Load(fixture *Fixture) (Summary, error) {
	var summary Summary

	for _, flag := range fixture.Flags {
		if err := l.loadFlag(flag); err != nil {
			return summary, err
		}
		summary.Flags++
	}

	people := map[string]*db.Person{}
	for _, item := range fixture.People {
		person, err := l.loadPerson(item)
		if err != nil {
			return summary, err
		}
		people[person.Username] = person
		summary.People++
	}

	for _, item := range fixture.Pages {
		person, ok := people[item.Person]
		if !ok {
			var existing db.Person
			if err := l.db.Where("username = ?", item.Person).First(&existing).Error; err != nil {
				return summary, fmt.Errorf("page for unknown person %q: %w", item.Person, err)
			}
			person = &existing
		}
		if err := l.loadPage(person, item); err != nil {
			return summary, err
		}
		summary.Pages++
	}

	for _, item := range fixture.Users {
		if err := l.loadUser(item); err != nil {
			return summary, err
		}
		summary.Users++
	}

	log.Printf("[loaddata] loaded %s", summary)
	return summary, nil
}

func (l *Loader) loadFlag(item FlagFixture) error {
	slug := strings.TrimSpace(item.Slug)
	if slug == "" {
		return errors.New("flag slug is required")
	}
	flag := db.Flag{Slug: slug}
	if err := l.db.Where(db.Flag{Slug: slug}).Assign(db.Flag{VerboseName: item.VerboseName}).FirstOrCreate(&flag).Error; err != nil {
		return fmt.Errorf("load flag %s: %w", slug, err)
	}
	return nil
}

func (l *Loader) loadPerson(item PersonFixture) (*db.Person, error) {
	username := strings.TrimSpace(item.Username)
	if username == "" {
		return nil, errors.New("person username is required")
	}

	var person db.Person
	err := l.db.Where("username = ?", username).First(&person).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load person %s: %w", username, err)
	}

	person.Username = username
	person.CN = strings.TrimSpace(item.CN)
	person.Active = boolOr(item.Active, true)
	person.Slug = nil
	if slug := strings.TrimSpace(item.Slug); slug != "" {
		person.Slug = db.StringPtr(slug)
	}

	if err := l.people.Save(&person, service.SourceBulkLoad); err != nil {
		return nil, err
	}
	for _, flag := range item.Flags {
		if err := l.people.AddFlag(person.ID, strings.TrimSpace(flag), service.SourceBulkLoad); err != nil {
			return nil, err
		}
	}
	for _, title := range item.DirectoryEntries {
		entry := db.DirectoryEntry{PersonID: person.ID, Title: title}
		if err := l.db.Where("person_id = ? AND title = ?", person.ID, title).FirstOrCreate(&entry).Error; err != nil {
			return nil, fmt.Errorf("create directory entry for %s: %w", username, err)
		}
	}
	return &person, nil
}

func (l *Loader) loadPage(person *db.Person, item PageFixture) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		page := db.NewPage(person.ID)
		if err := tx.Where("person_id = ?", person.ID).FirstOrCreate(&page).Error; err != nil {
			return fmt.Errorf("create page for %s: %w", person.Username, err)
		}
		page.Active = boolOr(item.Active, true)
		page.AllowOwnerEdits = item.AllowOwnerEdits
		if err := tx.Model(&page).Select("active", "allow_owner_edits").Updates(&page).Error; err != nil {
			return fmt.Errorf("update page for %s: %w", person.Username, err)
		}

		if item.Introduction != "" || item.Photo != "" {
			info := db.PageInfo{PageID: page.ID}
			if err := tx.Where("page_id = ?", page.ID).FirstOrCreate(&info).Error; err != nil {
				return fmt.Errorf("create page info: %w", err)
			}
			info.Introduction = item.Introduction
			info.Photo = item.Photo
			if err := tx.Save(&info).Error; err != nil {
				return fmt.Errorf("save page info: %w", err)
			}
		}

		// 段落按标题匹配，重复导入时更新而不是追加
		for _, s := range item.Sections {
			section := db.PageSection{PageID: page.ID, Title: s.Title}
			if err := tx.Where("page_id = ? AND title = ?", page.ID, s.Title).FirstOrCreate(&section).Error; err != nil {
				return fmt.Errorf("create section %q: %w", s.Title, err)
			}
			section.Active = boolOr(s.Active, true)
			section.Ordering = s.Ordering
			section.Content = s.Content
			if err := tx.Save(&section).Error; err != nil {
				return fmt.Errorf("save section %q: %w", s.Title, err)
			}
		}

		for _, f := range item.Files {
			file := db.PageFile{PageID: page.ID, Slug: f.Slug}
			if err := tx.Where("page_id = ? AND slug = ?", page.ID, f.Slug).FirstOrCreate(&file).Error; err != nil {
				return fmt.Errorf("create file %s: %w", f.Slug, err)
			}
			file.Description = f.Description
			file.TheFile = f.Path
			file.ShowLink = f.ShowLink
			if err := tx.Save(&file).Error; err != nil {
				return fmt.Errorf("save file %s: %w", f.Slug, err)
			}
		}
		return nil
	})
}

func (l *Loader) loadUser(item UserFixture) error {
	username := strings.TrimSpace(item.Username)
	if username == "" || strings.TrimSpace(item.Password) == "" {
		return errors.New("user username and password are required")
	}

	var user db.User
	err := l.db.Where("username = ?", username).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hashed, err := bcrypt.GenerateFromPassword([]byte(item.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", username, err)
		}
		user = db.User{Username: username, Password: string(hashed), IsSuperuser: item.Superuser}
		if err := l.db.Create(&user).Error; err != nil {
			return fmt.Errorf("create user %s: %w", username, err)
		}
	case err != nil:
		return fmt.Errorf("load user %s: %w", username, err)
	}

	for _, codename := range item.Permissions {
		if err := db.GrantPermission(l.db, &user, codename); err != nil {
			return fmt.Errorf("grant %s to %s: %w", codename, username, err)
		}
	}
	return nil
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
