package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PermissionModifyPages 允许修改任意个人主页。
const PermissionModifyPages = "pages.modify"

// User 定义了可登录的账号
type User struct {
	gorm.Model
	Username    string       `gorm:"unique;not null"`
	Password    string       `gorm:"not null"`
	IsSuperuser bool         `gorm:"column:is_superuser"`
	Permissions []Permission `gorm:"many2many:user_permissions;"`
}

// Permission 是可授予账号的显式能力。
type Permission struct {
	ID       uint   `gorm:"primaryKey"`
	Codename string `gorm:"size:100;uniqueIndex;not null"`
}

// HasPermission 判断已加载的权限中是否包含 codename。
func (u *User) HasPermission(codename string) bool {
	if u == nil {
		return false
	}
	for _, perm := range u.Permissions {
		if perm.Codename == codename {
			return true
		}
	}
	return false
}

// EnsureUser 存在性检查：若提供的用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的超级管理员。
func EnsureUser(gdb *gorm.DB, username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if gdb == nil {
		return errors.New("database not initialized")
	}

	var existing User
	if err := gdb.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return gdb.Create(&User{Username: trimmedUser, Password: string(hashed), IsSuperuser: true}).Error
	}

	return nil
}

// GrantPermission 为账号授予指定能力，重复授予不会报错。
func GrantPermission(gdb *gorm.DB, user *User, codename string) error {
	perm := Permission{Codename: codename}
	if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&perm).Error; err != nil {
		return err
	}
	if err := gdb.Where("codename = ?", codename).First(&perm).Error; err != nil {
		return err
	}
	return gdb.Model(user).Association("Permissions").Append(&perm)
}
