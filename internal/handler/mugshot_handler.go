package handler

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/service"
)

const forbiddenAccessMessage = "You do not have permission to access this page."

// ShowMugshotPreview 渲染头像裁剪预览页
func (a *API) ShowMugshotPreview(c *gin.Context) {
	slug := c.Param("slug")
	page, err := a.pages.GetPublishedBySlug(slug)
	if err != nil {
		if errors.Is(err, service.ErrPersonPageNotFound) {
			a.notFound(c, "No person page found matching the query")
			return
		}
		a.serverError(c, err)
		return
	}
	if !a.canEdit(c, page) {
		return
	}

	a.renderHTML(c, http.StatusOK, "mugshot_preview.html", gin.H{
		"title":      "Mugshot preview for " + page.Person.String(),
		"page":       page,
		"slug":       slug,
		"pageURL":    db.PagePath(slug),
		"previewURL": db.PagePath(slug) + "mugshot-preview-img",
		"saveURL":    db.PagePath(slug) + "mugshot-save",
	})
}

// MugshotPreviewImage 返回裁剪后的图片；识别不到人脸时跳转到原图。
func (a *API) MugshotPreviewImage(c *gin.Context) {
	page, ok := a.loadMugshotPage(c)
	if !ok {
		return
	}

	img, format, err := a.mugshots.Preview(page)
	switch {
	case errors.Is(err, service.ErrMugshotNoImage):
		a.notFound(c, "Image not found")
		return
	case errors.Is(err, service.ErrMugshotNoFace):
		c.Redirect(http.StatusFound, a.storage.URL(page.Info.Photo))
		return
	case err != nil:
		a.serverError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := service.EncodeImage(&buf, img, format); err != nil {
		a.serverError(c, err)
		return
	}
	c.Data(http.StatusOK, service.ImageContentType(format), buf.Bytes())
}

// SaveMugshot 把裁剪结果写入人员的全部目录条目，成功后回到主页。
func (a *API) SaveMugshot(c *gin.Context) {
	page, ok := a.loadMugshotPage(c)
	if !ok {
		return
	}

	result, err := a.mugshots.Save(page)
	if err != nil {
		a.serverError(c, err)
		return
	}
	if result.Error != "" {
		a.renderHTML(c, http.StatusOK, "mugshot_save.html", gin.H{
			"title": "Mugshot",
			"page":  page,
			"error": result.Error,
		})
		return
	}

	addFlash(c, flashSuccess, result.Message)
	target, ok := page.AbsoluteURL()
	if !ok {
		target = db.PagePath(page.Person.SlugValue())
	}
	c.Redirect(http.StatusFound, target)
}

func (a *API) loadMugshotPage(c *gin.Context) (*db.Page, bool) {
	page, err := a.mugshots.LoadPage(c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrPersonPageNotFound) {
			a.notFound(c, "No page info found matching the query")
			return nil, false
		}
		a.serverError(c, err)
		return nil, false
	}
	if !a.canEdit(c, page) {
		return nil, false
	}
	return page, true
}

// canEdit 检查权限，不通过时已写出 403 响应。
func (a *API) canEdit(c *gin.Context, page *db.Page) bool {
	actor, err := a.currentActor(c)
	if err != nil {
		a.serverError(c, err)
		return false
	}
	if !service.CanEditPage(actor, page) {
		a.forbidden(c, forbiddenAccessMessage)
		return false
	}
	return true
}
