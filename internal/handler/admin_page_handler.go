package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/service"
)

// ShowPersonPageForm 渲染人员编辑流程中的主页子表单。
func (a *API) ShowPersonPageForm(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		a.notFound(c, "Person not found")
		return
	}

	person, page, err := a.creator.Load(id)
	if err != nil {
		if errors.Is(err, service.ErrPersonNotFound) {
			a.notFound(c, "Person not found")
			return
		}
		a.serverError(c, err)
		return
	}

	form := service.DefaultPageCreationForm()
	if page != nil {
		form = service.FormFor(page)
	}
	a.renderPersonPageForm(c, http.StatusOK, person, page, form, "")
}

// SavePersonPageForm 保存主页子表单；未勾选创建且主页不存在时不做任何修改。
func (a *API) SavePersonPageForm(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		a.notFound(c, "Person not found")
		return
	}

	form := service.PageCreationForm{
		Create:          formBool(c.PostForm("create")),
		Active:          formBool(c.PostForm("active")),
		AllowOwnerEdits: formBool(c.PostForm("allow_owner_edits")),
	}

	page, err := a.creator.Save(id, form)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPersonNotFound):
			a.notFound(c, "Person not found")
		case errors.Is(err, service.ErrSlugUnavailable):
			person, existing, loadErr := a.creator.Load(id)
			if loadErr != nil {
				a.serverError(c, loadErr)
				return
			}
			a.renderPersonPageForm(c, http.StatusConflict, person, existing, form,
				"Could not find an unused slug for this person; set one by hand.")
		default:
			a.serverError(c, err)
		}
		return
	}

	if page == nil {
		addFlash(c, flashSuccess, "No personal page was created.")
	} else {
		addFlash(c, flashSuccess, fmt.Sprintf("Personal page for %s saved.", page.Person.String()))
	}
	c.Redirect(http.StatusFound, fmt.Sprintf("/admin/people/%d/page", id))
}

func (a *API) renderPersonPageForm(c *gin.Context, status int, person *db.Person, page *db.Page, form service.PageCreationForm, formError string) {
	var pageURL string
	if page != nil {
		page.Person = *person
		if href, ok := page.AbsoluteURL(); ok {
			pageURL = href
		}
	}

	a.renderHTML(c, status, "person_page_admin.html", gin.H{
		"title":   "Personal page for " + person.String(),
		"person":  person,
		"page":    page,
		"pageURL": pageURL,
		"form":    form,
		"error":   formError,
	})
}
