package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/service"
)

// 编辑表单的上传大小上限。
const maxUploadMemory = 32 << 20

const managementFormMessage = "ManagementForm data is missing or has been tampered with."

// bindEditSubmission 把 <集合>-<行号>-<字段> 形式的表单字段绑定为一次编辑提交。
// 行数由 <集合>-TOTAL_FORMS 决定；请求体无法解析或缺少任一 TOTAL_FORMS 时返回表单级错误。
func bindEditSubmission(c *gin.Context) (service.EditSubmission, *service.ValidationError) {
	var submission service.EditSubmission

	// 普通 urlencoded 表单返回 ErrNotMultipart，PostForm 仍可读取
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return submission, managementFormError(service.FormErrorKey, fmt.Sprintf("The submitted form could not be read: %v", err))
	}
	for _, collection := range []string{service.CollectionInfo, service.CollectionSections, service.CollectionFiles} {
		if _, ok := c.GetPostForm(collection + "-TOTAL_FORMS"); !ok {
			return submission, managementFormError(collection, managementFormMessage)
		}
	}

	for i := 0; i < formsetTotal(c, service.CollectionInfo); i++ {
		field := rowField(service.CollectionInfo, i)
		submission.Info = append(submission.Info, service.InfoRow{
			ID:           parseUintValue(c.PostForm(field("id"))),
			Introduction: c.PostForm(field("introduction")),
			Photo:        formUpload(c, field("photo")),
			ClearPhoto:   formBool(c.PostForm(field("photo-clear"))),
		})
	}

	for i := 0; i < formsetTotal(c, service.CollectionSections); i++ {
		field := rowField(service.CollectionSections, i)
		submission.Sections = append(submission.Sections, service.SectionRow{
			ID:       parseUintValue(c.PostForm(field("id"))),
			Active:   formBool(c.PostForm(field("active"))),
			Ordering: parseIntValue(c.PostForm(field("ordering"))),
			Title:    c.PostForm(field("title")),
			Content:  c.PostForm(field("content")),
			Delete:   formBool(c.PostForm(field("DELETE"))),
		})
	}

	for i := 0; i < formsetTotal(c, service.CollectionFiles); i++ {
		field := rowField(service.CollectionFiles, i)
		submission.Files = append(submission.Files, service.FileRow{
			ID:          parseUintValue(c.PostForm(field("id"))),
			Slug:        c.PostForm(field("slug")),
			Description: c.PostForm(field("description")),
			ShowLink:    formBool(c.PostForm(field("show_link"))),
			File:        formUpload(c, field("the_file")),
			Delete:      formBool(c.PostForm(field("DELETE"))),
		})
	}

	return submission, nil
}

func managementFormError(collection, message string) *service.ValidationError {
	return &service.ValidationError{Fields: []service.FieldError{{Collection: collection, Row: -1, Message: message}}}
}

func rowField(collection string, row int) func(string) string {
	prefix := fmt.Sprintf("%s-%d-", collection, row)
	return func(name string) string {
		return prefix + name
	}
}

func formUpload(c *gin.Context, name string) *service.Upload {
	fh, err := c.FormFile(name)
	if err != nil || fh == nil || strings.TrimSpace(fh.Filename) == "" {
		return nil
	}
	return service.UploadFromHeader(fh)
}
