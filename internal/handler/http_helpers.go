package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// 单个集合允许提交的最大行数。
const maxFormsetRows = 1000

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

// parseUintValue 解析表单中的主键，空值与非法值都视为 0。
func parseUintValue(raw string) uint {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	id, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// parseIntValue 解析整数字段，非法值返回 -1 以便校验报错。
func parseIntValue(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return -1
	}
	return value
}

// formBool 按复选框语义解析：缺省与 false/0/off 为假。
func formBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

// formsetTotal 读取 <prefix>-TOTAL_FORMS，限制在 [0, maxFormsetRows]。
func formsetTotal(c *gin.Context, prefix string) int {
	raw := strings.TrimSpace(c.PostForm(prefix + "-TOTAL_FORMS"))
	total, err := strconv.Atoi(raw)
	if err != nil || total < 0 {
		return 0
	}
	if total > maxFormsetRows {
		return maxFormsetRows
	}
	return total
}

// safeNext 只接受站内路径，防止登录后跳转到外部地址。
func safeNext(raw, fallback string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "//") || strings.Contains(trimmed, "\\") {
		return fallback
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host != "" || parsed.Scheme != "" {
		return fallback
	}
	return trimmed
}
