// Package web 内嵌页面模板，运行时不依赖工作目录。
package web

import (
	"embed"
	"html/template"
)

//go:embed template/*.html
var templateFS embed.FS

// Templates 使用给定的辅助函数解析全部页面模板，模板名为文件名。
func Templates(funcs template.FuncMap) (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(templateFS, "template/*.html")
}
