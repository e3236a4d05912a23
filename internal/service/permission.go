package service

import (
	"strings"

	"github.com/personpages/internal/db"
)

// Actor 描述发起请求的登录用户。
type Actor struct {
	Username    string
	IsSuperuser bool
	Permissions []string
}

// ActorFromUser 根据账号记录构造 Actor，需要预加载 Permissions。
func ActorFromUser(user *db.User) *Actor {
	if user == nil {
		return nil
	}
	perms := make([]string, 0, len(user.Permissions))
	for _, perm := range user.Permissions {
		perms = append(perms, perm.Codename)
	}
	return &Actor{
		Username:    user.Username,
		IsSuperuser: user.IsSuperuser,
		Permissions: perms,
	}
}

// HasPermission 判断是否拥有指定能力。
func (a *Actor) HasPermission(codename string) bool {
	if a == nil {
		return false
	}
	for _, perm := range a.Permissions {
		if perm == codename {
			return true
		}
	}
	return false
}

// CanEditPage 超级管理员、拥有 pages.modify 能力的账号，
// 或在主页允许本人编辑时用户名与主页人员一致的账号可以编辑。
// page.Person 需要已加载。
func CanEditPage(actor *Actor, page *db.Page) bool {
	if actor == nil || page == nil {
		return false
	}
	if actor.IsSuperuser {
		return true
	}
	if actor.HasPermission(db.PermissionModifyPages) {
		return true
	}
	if !page.AllowOwnerEdits {
		return false
	}
	username := strings.TrimSpace(actor.Username)
	return username != "" && username == page.Person.Username
}
