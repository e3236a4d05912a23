package service

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/personpages/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := db.Open(dsn, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return gdb
}

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fixed := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	return NewFileStorage(t.TempDir(), "/static/uploads", "personal/%Y/%m/%d").WithClock(func() time.Time {
		return fixed
	})
}

// createPerson 直接写入人员记录，不触发自动创建策略。
func createPerson(t *testing.T, gdb *gorm.DB, cn, username, slug string, active bool, flags ...string) *db.Person {
	t.Helper()

	person := &db.Person{CN: cn, Username: username, Active: active}
	if slug != "" {
		person.Slug = db.StringPtr(slug)
	}
	if err := gdb.Omit(clause.Associations).Create(person).Error; err != nil {
		t.Fatalf("failed to create person %s: %v", cn, err)
	}
	for _, flag := range flags {
		if err := ensureFlag(gdb, person, flag); err != nil {
			t.Fatalf("failed to add flag %s: %v", flag, err)
		}
	}
	return person
}

// createPublishedPage 创建一个带简介、两个段落和一个文件的已发布主页。
func createPublishedPage(t *testing.T, gdb *gorm.DB, storage *FileStorage, slug string) *db.Page {
	t.Helper()

	person := createPerson(t, gdb, "Jane Doe", slug, slug, true, db.FlagDirectory)
	page := db.NewPage(person.ID)
	if err := gdb.Create(&page).Error; err != nil {
		t.Fatalf("failed to create page: %v", err)
	}

	info := db.PageInfo{PageID: page.ID, Introduction: "Original introduction"}
	sections := []db.PageSection{
		{PageID: page.ID, Active: true, Ordering: 1, Title: "Research", Content: "Topology"},
		{PageID: page.ID, Active: true, Ordering: 2, Title: "Teaching", Content: "Calculus"},
	}
	if err := gdb.Create(&info).Error; err != nil {
		t.Fatalf("failed to create info: %v", err)
	}
	if err := gdb.Create(&sections).Error; err != nil {
		t.Fatalf("failed to create sections: %v", err)
	}

	stored, err := storage.Save("cv.pdf", bytes.NewReader([]byte("%PDF-1.4")))
	if err != nil {
		t.Fatalf("failed to store file: %v", err)
	}
	file := db.PageFile{PageID: page.ID, Slug: "cv", Description: "Curriculum vitae", TheFile: stored, ShowLink: true}
	if err := gdb.Create(&file).Error; err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	page.Person = *person
	return &page
}

func countPages(t *testing.T, gdb *gorm.DB, personID uint) int64 {
	t.Helper()
	var count int64
	if err := gdb.Model(&db.Page{}).Where("person_id = ?", personID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count pages: %v", err)
	}
	return count
}
