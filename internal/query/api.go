package query

import (
	"context"
	"fmt"
	"net/http"
)

// Record 一条测绘记录中与域名相关的字段
type Record struct {
	Host   string
	Domain string
}

// Page 单页解析结果
type Page struct {
	Records []Record
	// Total 平台报告的结果总数，未知时为 0
	Total int
	// Skipped 格式不符被跳过的记录数
	Skipped int
}

// Empty 页内既无有效记录也无被跳过记录，视为结果已取完
func (p Page) Empty() bool {
	return len(p.Records) == 0 && p.Skipped == 0
}

// API 分页测绘接口
type API interface {
	Name() string
	// Query 返回用于日志显示的查询语法
	Query(target string) string
	NewRequest(ctx context.Context, target string, page, size int) (*http.Request, error)
	ParsePage(body []byte) (Page, error)
}

// APIError 接口返回的业务错误（HTTP 200 但 error 字段为真）
type APIError struct {
	Platform string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Platform, e.Message)
}

// stringFromAny 助手函数，interface{}转string
func stringFromAny(value any) (string, bool) {
	v, ok := value.(string)
	return v, ok
}

// intFromAny 助手函数，接口转int
func intFromAny(value any) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// recordFromObject 从对象形式的记录中取 host/domain 字段，hostKeys 依次尝试
func recordFromObject(item map[string]any, hostKeys ...string) (Record, bool) {
	var rec Record
	if d, ok := stringFromAny(item["domain"]); ok {
		rec.Domain = d
	}
	for _, key := range hostKeys {
		if h, ok := stringFromAny(item[key]); ok && h != "" {
			rec.Host = h
			break
		}
	}
	if rec.Host == "" && rec.Domain == "" {
		return rec, false
	}
	return rec, true
}
