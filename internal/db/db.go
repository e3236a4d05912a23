package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DB 是一个全局的数据库连接实例
var DB *gorm.DB

// Init 初始化数据库连接并执行自动迁移。
// databasePath 为空时将回退到默认值 personpages.db。
func Init(databasePath string) error {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = "personpages.db"
	}

	if err := ensureParentDir(path); err != nil {
		return err
	}

	gdb, err := Open(path, &gorm.Config{})
	if err != nil {
		return err
	}

	if err := Migrate(gdb); err != nil {
		return err
	}

	DB = gdb
	return nil
}

// Open 打开 sqlite 数据库并启用外键约束。
func Open(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	cfg.TranslateError = true

	gdb, err := gorm.Open(sqlite.Open(withForeignKeys(dsn)), cfg)
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// Models 返回需要迁移的全部模型。
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Permission{},
		&Flag{},
		&Person{},
		&Page{},
		&PageInfo{},
		&PageSection{},
		&PageFile{},
		&DirectoryEntry{},
	}
}

// Migrate 为核心模型创建表并写入 directory 标记。
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return err
	}

	directory := Flag{Slug: FlagDirectory, VerboseName: "Directory"}
	return gdb.Where(Flag{Slug: FlagDirectory}).FirstOrCreate(&directory).Error
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_foreign_keys=on"
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
