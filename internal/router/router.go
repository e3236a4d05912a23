package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/config"
	"github.com/personpages/internal/handler"
	"github.com/personpages/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionName = "personpages_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(cfg config.AppConfig, api *handler.API) (*gin.Engine, error) {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	// 加载内嵌模板并添加自定义函数
	templates, err := web.Templates(api.TemplateFuncs())
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	r.SetHTMLTemplate(templates)
	api.UseTemplates(templates)

	// 上传文件
	uploadURL := "/" + strings.Trim(cfg.UploadURLPath, "/")
	r.Static(uploadURL, api.UploadRoot())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/sitemap.xml", api.ShowSitemap)

	accounts := r.Group("/accounts")
	{
		accounts.GET("/login", api.ShowLoginPage)
		accounts.POST("/login", api.Login)
		accounts.GET("/logout", api.Logout)
	}

	people := r.Group("/people")
	{
		people.GET("/", api.ListPages)
		people.GET("/:slug/", api.ShowPage)
		people.GET("/:slug/calendar", api.ShowPageCalendar)

		auth := people.Group("")
		auth.Use(api.LoginRequired())
		{
			auth.GET("/:slug/update", api.ShowPageEditor)
			auth.POST("/:slug/update", api.UpdatePage)

			// 只有配置了人脸检测时才提供头像路由
			if api.MugshotEnabled() {
				auth.GET("/:slug/mugshot-preview", api.ShowMugshotPreview)
				auth.GET("/:slug/mugshot-preview-img", api.MugshotPreviewImage)
				auth.GET("/:slug/mugshot-save", api.SaveMugshot)
				auth.POST("/:slug/mugshot-save", api.SaveMugshot)
			}
		}
	}

	// 后台管理路由
	admin := r.Group("/admin")
	admin.Use(api.LoginRequired(), api.AdminRequired())
	{
		admin.GET("/", api.ShowDashboard)
		admin.GET("/people/:id/page", api.ShowPersonPageForm)
		admin.POST("/people/:id/page", api.SavePersonPageForm)

		// API路由
		adminAPI := admin.Group("/api")
		{
			adminAPI.GET("/search-index", api.GetSearchIndex)
			adminAPI.PUT("/people/:id", api.UpdatePerson)
			adminAPI.POST("/people/:id/flags/:flag", api.AddPersonFlag)
			adminAPI.DELETE("/people/:id/flags/:flag", api.RemovePersonFlag)
		}
	}

	return r, nil
}
