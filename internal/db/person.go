package db

import (
	"strings"
	"time"
)

// FlagDirectory 标记可在公共目录中展示的人员。
const FlagDirectory = "directory"

// Person 定义人员目录中的一条记录。
// 个人主页模块只读取人员信息，自动创建流程中才会修改 slug 与标记。
type Person struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Username  string  `gorm:"size:150;index"`
	CN        string  `gorm:"column:cn;size:250;not null"`
	Slug      *string `gorm:"size:64;uniqueIndex"`
	Active    bool
	Flags     []Flag `gorm:"many2many:person_flags;constraint:OnDelete:CASCADE"`
}

// TableName 返回自定义表名。
func (Person) TableName() string {
	return "people"
}

// Flag 是人员上的命名标记，例如 directory。
type Flag struct {
	ID          uint   `gorm:"primaryKey"`
	Slug        string `gorm:"size:64;uniqueIndex;not null"`
	VerboseName string `gorm:"size:100"`
}

// TableName 返回自定义表名。
func (Flag) TableName() string {
	return "flags"
}

// SlugValue 返回 slug 字符串，未设置时为空。
func (p *Person) SlugValue() string {
	if p == nil || p.Slug == nil {
		return ""
	}
	return strings.TrimSpace(*p.Slug)
}

// HasFlag 判断已加载的标记中是否包含指定 slug。
func (p *Person) HasFlag(slug string) bool {
	if p == nil {
		return false
	}
	for _, flag := range p.Flags {
		if flag.Slug == slug {
			return true
		}
	}
	return false
}

// String 返回人员的展示名称。
func (p Person) String() string {
	if name := strings.TrimSpace(p.CN); name != "" {
		return name
	}
	return p.Username
}

// StringPtr 便于构造可空的 slug。
func StringPtr(value string) *string {
	return &value
}
