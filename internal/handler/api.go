package handler

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/config"
	"github.com/personpages/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	people    *service.PersonService
	pages     *service.PageService
	editor    *service.PageEditor
	creator   *service.PageCreator
	search    *service.SearchIndex
	sitemap   *service.SitemapBuilder
	calendar  service.CalendarFeed
	mugshots  *service.MugshotService
	storage   *service.FileStorage
	settings  *config.Settings
	siteName  string
	templates *template.Template
}

type flashMessage struct {
	Level string
	Text  string
}

const (
	flashSuccess = "success"
	flashError   = "error"
)

// NewAPI constructs a handler set with shared services.
// 自动创建策略与人脸检测器都由配置决定，名称未知时返回错误。
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, settings *config.Settings) (*API, error) {
	if settings == nil {
		settings = config.DefaultSettings()
	}

	storage := service.NewFileStorage(cfg.UploadDir, cfg.UploadURLPath, settings.Get(config.SettingUploadPath))
	pages := service.NewPageService(gdb, storage)

	people := service.NewPersonService(gdb)
	policy, err := service.NewAutoCreatePolicy(cfg.AutoCreatePolicy, pages)
	if err != nil {
		return nil, err
	}
	if err := people.RegisterAutoCreatePolicy(policy); err != nil {
		return nil, err
	}

	detector, err := service.NewFaceDetector(cfg.MugshotDetector)
	if err != nil {
		return nil, err
	}

	siteName := strings.TrimSpace(cfg.SiteName)
	if siteName == "" {
		siteName = "People"
	}

	return &API{
		db:       gdb,
		people:   people,
		pages:    pages,
		editor:   service.NewPageEditor(gdb, storage, service.DefaultEditorOptions()),
		creator:  service.NewPageCreator(gdb, pages),
		search:   service.NewSearchIndex(gdb),
		sitemap:  service.NewSitemapBuilder(gdb, cfg.SiteBaseURL),
		calendar: service.EmptyCalendarFeed{ProductID: fmt.Sprintf("-//%s//Personal Pages//EN", siteName)},
		mugshots: service.NewMugshotService(gdb, storage, detector),
		storage:  storage,
		settings: settings,
		siteName: siteName,
	}, nil
}

// People 返回注册了自动创建策略的人员服务。
func (a *API) People() *service.PersonService {
	return a.people
}

// MugshotEnabled 判断是否需要注册头像相关路由。
func (a *API) MugshotEnabled() bool {
	return a.mugshots.Enabled()
}

// UploadRoot 返回上传文件的本地根目录。
func (a *API) UploadRoot() string {
	return a.storage.Root()
}

// SetCalendarFeed 替换日历内容的提供方。
func (a *API) SetCalendarFeed(feed service.CalendarFeed) {
	if feed != nil {
		a.calendar = feed
	}
}

// UseTemplates 记录已加载的模板，用于判断 403 等页面模板是否存在。
func (a *API) UseTemplates(t *template.Template) {
	a.templates = t
}

func (a *API) hasTemplate(name string) bool {
	return a.templates != nil && a.templates.Lookup(name) != nil
}

// renderHTML 在渲染模板时自动附加站点名称、登录用户与一次性提示。
func (a *API) renderHTML(c *gin.Context, status int, template string, data gin.H) {
	payload := gin.H{}
	for key, value := range data {
		payload[key] = value
	}

	if _, exists := payload["siteName"]; !exists {
		payload["siteName"] = a.siteName
	}
	if _, exists := payload["currentUser"]; !exists {
		if actor, err := a.currentActor(c); err == nil && actor != nil {
			payload["currentUser"] = actor.Username
		}
	}
	if _, exists := payload["messages"]; !exists {
		payload["messages"] = popFlashes(c)
	}

	c.HTML(status, template, payload)
}

func addFlash(c *gin.Context, level, text string) {
	session := sessions.Default(c)
	session.AddFlash(text, level)
	_ = session.Save()
}

func popFlashes(c *gin.Context) []flashMessage {
	session := sessions.Default(c)
	var messages []flashMessage
	for _, level := range []string{flashSuccess, flashError} {
		for _, raw := range session.Flashes(level) {
			if text, ok := raw.(string); ok {
				messages = append(messages, flashMessage{Level: level, Text: text})
			}
		}
	}
	if len(messages) > 0 {
		_ = session.Save()
	}
	return messages
}
