package handler

import (
	"errors"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/config"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/service"
)

const forbiddenEditMessage = "You do not have permission to edit this page."

type pageListItem struct {
	Name string
	URL  string
}

type pageFileLink struct {
	Slug        string
	Description string
	URL         string
}

// ListPages 列出所有公开的个人主页
func (a *API) ListPages(c *gin.Context) {
	pages, err := a.pages.ListPublished()
	if err != nil {
		a.serverError(c, err)
		return
	}

	items := make([]pageListItem, 0, len(pages))
	for i := range pages {
		href, ok := pages[i].AbsoluteURL()
		if !ok {
			continue
		}
		items = append(items, pageListItem{Name: pages[i].Person.String(), URL: href})
	}

	a.renderHTML(c, http.StatusOK, "page_list.html", gin.H{
		"title":     "People",
		"page_list": items,
	})
}

// ShowPage 展示单个公开主页：简介、可见段落与页脚文件链接。
func (a *API) ShowPage(c *gin.Context) {
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

	actor, err := a.currentActor(c)
	if err != nil {
		a.serverError(c, err)
		return
	}
	canEdit := service.CanEditPage(actor, page)

	files := make([]pageFileLink, 0, len(page.Files))
	for _, file := range page.Files {
		files = append(files, pageFileLink{
			Slug:        file.Slug,
			Description: file.Description,
			URL:         a.storage.URL(file.TheFile),
		})
	}

	var photoURL string
	if page.Info != nil {
		photoURL = a.storage.URL(page.Info.Photo)
	}

	a.renderHTML(c, http.StatusOK, "page_detail.html", gin.H{
		"title":       page.Person.String(),
		"page":        page,
		"slug":        page.Person.SlugValue(),
		"info":        page.Info,
		"photoURL":    photoURL,
		"sections":    page.Sections,
		"files":       files,
		"canEdit":     canEdit,
		"showMugshot": canEdit && a.mugshots.Enabled(),
	})
}

// ShowPageEditor 渲染编辑表单
func (a *API) ShowPageEditor(c *gin.Context) {
	slug := c.Param("slug")
	state, err := a.editor.LoadEditState(slug)
	if err != nil {
		if errors.Is(err, service.ErrPersonPageNotFound) {
			a.notFound(c, "No person page found matching the query")
			return
		}
		a.serverError(c, err)
		return
	}

	actor, err := a.currentActor(c)
	if err != nil {
		a.serverError(c, err)
		return
	}
	if !service.CanEditPage(actor, state.Page) {
		a.forbidden(c, forbiddenEditMessage)
		return
	}

	a.renderHTML(c, http.StatusOK, "page_form.html", a.editorPayload(slug, state))
}

// UpdatePage 保存编辑表单；任一集合校验失败时带着错误重新渲染表单。
func (a *API) UpdatePage(c *gin.Context) {
	slug := c.Param("slug")
	actor, err := a.currentActor(c)
	if err != nil {
		a.serverError(c, err)
		return
	}

	submission, bindErr := bindEditSubmission(c)
	if bindErr != nil {
		a.rejectSubmission(c, slug, actor, bindErr)
		return
	}
	state, err := a.editor.SubmitEdit(slug, actor, submission)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.Is(err, service.ErrPersonPageNotFound):
			a.notFound(c, "No person page found matching the query")
		case errors.Is(err, service.ErrPageEditForbidden):
			a.forbidden(c, forbiddenEditMessage)
		case errors.As(err, &verr):
			a.renderHTML(c, http.StatusOK, "page_form.html", a.editorPayload(slug, state))
		default:
			a.serverError(c, err)
		}
		return
	}

	addFlash(c, flashSuccess, "Your page was updated.")
	target, ok := state.Page.AbsoluteURL()
	if !ok {
		target = pageUpdatePath(slug)
	}
	c.Redirect(http.StatusFound, target)
}

// rejectSubmission 在表单无法绑定时，带着表单级错误重新渲染当前内容。
func (a *API) rejectSubmission(c *gin.Context, slug string, actor *service.Actor, verr *service.ValidationError) {
	state, err := a.editor.LoadEditState(slug)
	if err != nil {
		if errors.Is(err, service.ErrPersonPageNotFound) {
			a.notFound(c, "No person page found matching the query")
			return
		}
		a.serverError(c, err)
		return
	}
	if !service.CanEditPage(actor, state.Page) {
		a.forbidden(c, forbiddenEditMessage)
		return
	}
	log.Printf("[pages] rejected edit of %s: %v", slug, verr)
	state.Errors = verr
	a.renderHTML(c, http.StatusOK, "page_form.html", a.editorPayload(slug, state))
}

func (a *API) editorPayload(slug string, state *service.EditState) gin.H {
	errs := state.Errors.Map()
	return gin.H{
		"title":      "Update " + state.Page.Person.String(),
		"page":       state.Page,
		"slug":       slug,
		"action":     pageUpdatePath(slug),
		"info":       state.Info,
		"sections":   state.Sections,
		"files":      state.Files,
		"errors":     errs,
		"hasErrors":  len(errs) > 0,
		"markupHelp": template.HTML(a.settings.Get(config.SettingRestructuredTextHelp)),
		"photoHelp":  a.settings.Get(config.SettingPhotoHelp),
	}
}

// ShowPageCalendar 输出人员的 iCalendar 日历，只要求主页处于激活状态。
func (a *API) ShowPageCalendar(c *gin.Context) {
	page, err := a.pages.GetActiveBySlug(c.Param("slug"))
	if err != nil {
		if errors.Is(err, service.ErrPersonPageNotFound) {
			a.notFound(c, "No person page found matching the query")
			return
		}
		a.serverError(c, err)
		return
	}

	body, err := a.calendar.Feed(&page.Person)
	if err != nil {
		a.serverError(c, err)
		return
	}

	filename := strings.TrimSpace(page.Person.SlugValue())
	if filename == "" {
		filename = "calendar"
	}
	c.Header("Content-Disposition", `inline; filename="`+filename+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", body)
}

func pageUpdatePath(slug string) string {
	return db.PagePath(slug) + "update"
}
