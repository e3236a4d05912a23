package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSearchIndex 以 JSON 形式导出全部公开主页的搜索文档。
func (a *API) GetSearchIndex(c *gin.Context) {
	docs, err := a.search.Documents()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "生成搜索索引失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

// ShowSitemap 输出公开主页的站点地图
func (a *API) ShowSitemap(c *gin.Context) {
	body, err := a.sitemap.Render()
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", body)
}
