package service

import (
	"bytes"
	htmlstd "html"
	"html/template"
	"log"
	"strings"
	texttemplate "text/template"
	"text/template/parse"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markupEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	markupSanitizer = bluemonday.UGCPolicy()
)

// RenderMarkup 将简介与段落中的轻量标记渲染为经过清洗的 HTML。
func RenderMarkup(text string) template.HTML {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := markupEngine.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(markupSanitizer.SanitizeBytes(buf.Bytes()))
}

// FileURLFunc 按人员 slug 与文件 slug 解析个人文件地址。
type FileURLFunc func(personSlug, fileSlug string) string

// Prerender 把简介或段落当作模板执行，只允许形如
// {{ personalfile_url "jdoe" "cv" }} 的动作，参数必须是字符串字面量。
// 含有其他动作或执行失败时原样返回。
func Prerender(text string, fileURL FileURLFunc) string {
	if fileURL == nil || !strings.Contains(text, "{{") {
		return text
	}

	funcs := texttemplate.FuncMap{"personalfile_url": fileURL}
	tmpl, err := texttemplate.New("content").Funcs(funcs).Parse(text)
	if err != nil {
		return text
	}
	if !onlyFileURLActions(tmpl.Tree.Root) {
		return text
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		log.Printf("[markup] prerender failed: %v", err)
		return text
	}
	return buf.String()
}

func onlyFileURLActions(list *parse.ListNode) bool {
	if list == nil {
		return true
	}
	for _, node := range list.Nodes {
		switch n := node.(type) {
		case *parse.TextNode:
		case *parse.ActionNode:
			if n.Pipe == nil || len(n.Pipe.Decl) > 0 || len(n.Pipe.Cmds) != 1 {
				return false
			}
			args := n.Pipe.Cmds[0].Args
			if len(args) != 3 {
				return false
			}
			if ident, ok := args[0].(*parse.IdentifierNode); !ok || ident.Ident != "personalfile_url" {
				return false
			}
			for _, arg := range args[1:] {
				if _, ok := arg.(*parse.StringNode); !ok {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

// RenderContent 先解析内容中的个人文件引用，再渲染标记。
func RenderContent(text string, fileURL FileURLFunc) template.HTML {
	return RenderMarkup(Prerender(text, fileURL))
}

// PlainText 去掉渲染后的所有标签，用于搜索索引。
func PlainText(text string) string {
	rendered := RenderMarkup(text)
	if rendered == "" {
		return ""
	}
	stripped := bluemonday.StrictPolicy().Sanitize(string(rendered))
	return strings.Join(strings.Fields(htmlstd.UnescapeString(stripped)), " ")
}
