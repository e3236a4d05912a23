package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/service"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	sessionUserIDKey   = "user_id"
	sessionUsernameKey = "username"
	actorContextKey    = "__actor"

	loginPath = "/accounts/login"
)

// ShowLoginPage 渲染登录页面
func (a *API) ShowLoginPage(c *gin.Context) {
	a.renderHTML(c, http.StatusOK, "login.html", gin.H{
		"title": "Log in",
		"next":  safeNext(c.Query("next"), ""),
	})
}

// Login 校验用户名密码并写入会话，成功后跳转到 next 指定的站内地址。
func (a *API) Login(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")
	next := safeNext(c.PostForm("next"), "/people/")

	fail := func() {
		a.renderHTML(c, http.StatusUnauthorized, "login.html", gin.H{
			"title":    "Log in",
			"error":    "Please enter a correct username and password.",
			"username": username,
			"next":     next,
		})
	}

	var user db.User
	if err := a.db.Where("username = ?", username).First(&user).Error; err != nil {
		fail()
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		fail()
		return
	}

	session := sessions.Default(c)
	session.Set(sessionUserIDKey, user.ID)
	session.Set(sessionUsernameKey, user.Username)
	if err := session.Save(); err != nil {
		log.Printf("[auth] save session for %s: %v", user.Username, err)
		a.renderHTML(c, http.StatusInternalServerError, "login.html", gin.H{
			"title": "Log in",
			"error": "Could not start a session, please try again.",
			"next":  next,
		})
		return
	}

	c.Redirect(http.StatusFound, next)
}

// Logout 清除会话
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.Redirect(http.StatusFound, loginPath)
}

// LoginRequired 未登录时跳转到登录页，并在 next 中带上原始地址。
func (a *API) LoginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := a.currentActor(c)
		if err != nil {
			c.Error(err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if actor == nil {
			c.Redirect(http.StatusFound, loginPath+"?next="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRequired 仅允许超级管理员访问，需放在 LoginRequired 之后。
func (a *API) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := a.currentActor(c)
		if err != nil {
			c.Error(err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if actor == nil || !actor.IsSuperuser {
			a.forbidden(c, "You do not have permission to access this page.")
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentActor 返回会话中的登录用户，未登录时为 nil。
func (a *API) currentActor(c *gin.Context) (*service.Actor, error) {
	if cached, exists := c.Get(actorContextKey); exists {
		if actor, ok := cached.(*service.Actor); ok {
			return actor, nil
		}
	}

	session := sessions.Default(c)
	userID, ok := sessionUserID(session.Get(sessionUserIDKey))
	if !ok {
		return nil, nil
	}

	var user db.User
	if err := a.db.Preload("Permissions").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session user: %w", err)
	}

	actor := service.ActorFromUser(&user)
	c.Set(actorContextKey, actor)
	return actor, nil
}

func sessionUserID(value interface{}) (uint, bool) {
	switch v := value.(type) {
	case uint:
		return v, v != 0
	case int:
		return uint(v), v > 0
	case int64:
		return uint(v), v > 0
	case uint64:
		return uint(v), v != 0
	default:
		return 0, false
	}
}

// forbidden 优先渲染 403.html，模板不存在时退回纯文本。
func (a *API) forbidden(c *gin.Context, message string) {
	if a.hasTemplate("403.html") {
		a.renderHTML(c, http.StatusForbidden, "403.html", gin.H{
			"title":         "Forbidden",
			"test_fail_msg": message,
		})
		return
	}
	c.String(http.StatusForbidden, message)
}

func (a *API) notFound(c *gin.Context, message string) {
	if a.hasTemplate("404.html") {
		a.renderHTML(c, http.StatusNotFound, "404.html", gin.H{
			"title":   "Not found",
			"message": message,
		})
		return
	}
	c.String(http.StatusNotFound, message)
}

func (a *API) serverError(c *gin.Context, err error) {
	log.Printf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.String(http.StatusInternalServerError, "Internal server error")
}

type adminPersonRow struct {
	Person  db.Person
	Page    *db.Page
	PageURL string
}

// ShowDashboard 列出全部人员及其主页状态
func (a *API) ShowDashboard(c *gin.Context) {
	people, err := a.people.List()
	if err != nil {
		a.serverError(c, err)
		return
	}

	var pages []db.Page
	if err := a.db.Find(&pages).Error; err != nil {
		a.serverError(c, err)
		return
	}
	byPerson := make(map[uint]*db.Page, len(pages))
	for i := range pages {
		byPerson[pages[i].PersonID] = &pages[i]
	}

	rows := make([]adminPersonRow, 0, len(people))
	for _, person := range people {
		row := adminPersonRow{Person: person, Page: byPerson[person.ID]}
		if row.Page != nil {
			row.Page.Person = person
			if href, ok := row.Page.AbsoluteURL(); ok {
				row.PageURL = href
			}
		}
		rows = append(rows, row)
	}

	a.renderHTML(c, http.StatusOK, "admin_people.html", gin.H{
		"title":  "People",
		"people": rows,
	})
}

type personPayload struct {
	CN     *string `json:"cn"`
	Slug   *string `json:"slug"`
	Active *bool   `json:"active"`
}

// UpdatePerson 修改人员的名称、slug 或激活状态，保存时触发自动创建策略。
func (a *API) UpdatePerson(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的人员ID")
		return
	}

	var payload personPayload
	if !bindJSON(c, &payload, "人员数据格式不正确") {
		return
	}

	person, err := a.people.Get(id)
	if err != nil {
		if errors.Is(err, service.ErrPersonNotFound) {
			respondError(c, http.StatusNotFound, "人员不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "加载人员失败")
		return
	}

	if payload.CN != nil {
		person.CN = strings.TrimSpace(*payload.CN)
	}
	if payload.Slug != nil {
		person.Slug = db.StringPtr(strings.TrimSpace(*payload.Slug))
	}
	if payload.Active != nil {
		person.Active = *payload.Active
	}

	if err := a.people.Save(person, service.SourceInteractive); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respondError(c, http.StatusConflict, "slug 已被占用")
			return
		}
		respondError(c, http.StatusInternalServerError, "保存人员失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"person": personJSON(person, a.pageFor(person.ID))})
}

// AddPersonFlag 为人员添加标记。
func (a *API) AddPersonFlag(c *gin.Context) {
	a.changePersonFlag(c, true)
}

// RemovePersonFlag 移除人员的标记。
func (a *API) RemovePersonFlag(c *gin.Context) {
	a.changePersonFlag(c, false)
}

func (a *API) changePersonFlag(c *gin.Context, add bool) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的人员ID")
		return
	}
	flag := strings.TrimSpace(c.Param("flag"))
	if flag == "" {
		respondError(c, http.StatusBadRequest, "标记不能为空")
		return
	}

	if add {
		err = a.people.AddFlag(id, flag, service.SourceInteractive)
	} else {
		err = a.people.RemoveFlag(id, flag, service.SourceInteractive)
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPersonNotFound):
			respondError(c, http.StatusNotFound, "人员不存在")
		case errors.Is(err, service.ErrFlagNotFound):
			respondError(c, http.StatusNotFound, "标记不存在")
		default:
			respondError(c, http.StatusInternalServerError, "修改标记失败")
		}
		return
	}

	person, err := a.people.Get(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "加载人员失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"person": personJSON(person, a.pageFor(id))})
}

func (a *API) pageFor(personID uint) *db.Page {
	page, err := a.pages.FindByPerson(personID)
	if err != nil {
		return nil
	}
	return page
}

func personJSON(person *db.Person, page *db.Page) gin.H {
	flags := make([]string, 0, len(person.Flags))
	for _, flag := range person.Flags {
		flags = append(flags, flag.Slug)
	}
	result := gin.H{
		"id":       person.ID,
		"username": person.Username,
		"cn":       person.CN,
		"slug":     person.SlugValue(),
		"active":   person.Active,
		"flags":    flags,
		"page":     nil,
	}
	if page != nil {
		result["page"] = gin.H{
			"id":                page.ID,
			"active":            page.Active,
			"allow_owner_edits": page.AllowOwnerEdits,
		}
	}
	return result
}
