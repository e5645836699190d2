package security

import (
	"strings"
)

// ContentFilter 内容过滤器。对主题与正文做粗粒度的危险内容筛查，
// 不是完整的消毒器：下游渲染 HTML 正文时仍须独立转义/清洗。
type ContentFilter struct {
	// 危险内容子串（在小写化后的内容上匹配）
	dangerousPatterns []string
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		dangerousPatterns: []string{
			"javascript:",
			"<script",
			"data:text/html",
			"vbscript:",
			"onload=",
			"onerror=",
		},
	}
}

// Screen 筛查内容。命中危险子串时返回 false 与命中的子串。
func (cf *ContentFilter) Screen(content string) (bool, string) {
	lowered := strings.ToLower(content)
	for _, pattern := range cf.dangerousPatterns {
		if strings.Contains(lowered, pattern) {
			return false, pattern
		}
	}
	return true, ""
}
