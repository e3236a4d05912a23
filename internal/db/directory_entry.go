package db

import "time"

// DirectoryEntry 是目录应用中的人员条目，Mugshot 保存裁剪后的头像路径。
type DirectoryEntry struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	PersonID  uint   `gorm:"index;not null"`
	Person    Person `gorm:"constraint:OnDelete:CASCADE"`
	Title     string `gorm:"size:250"`
	Mugshot   string `gorm:"size:255"`
}

// TableName 返回自定义表名。
func (DirectoryEntry) TableName() string {
	return "directory_entries"
}
