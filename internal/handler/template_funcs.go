package handler

import (
	"html/template"

	"github.com/personpages/internal/service"
)

// TemplateFuncs 返回模板可用的辅助函数。
//
//	personalfile_url "jdoe" "cv"  个人文件地址，找不到时为空字符串
//	markup .Content               解析个人文件引用后渲染并清洗的 HTML
func (a *API) TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"personalfile_url": a.pages.FileURL,
		"markup":           a.renderContent,
		"storage_url":      a.storage.URL,
		"field_errors":     fieldErrors,
	}
}

// fieldErrors 取出某一行某个字段的错误信息。
func fieldErrors(errs map[string][]string, collection string, row int, field string) []string {
	if errs == nil {
		return nil
	}
	return errs[service.FieldError{Collection: collection, Row: row, Field: field}.Key()]
}

func (a *API) renderContent(text string) template.HTML {
	return service.RenderContent(text, a.pages.FileURL)
}
