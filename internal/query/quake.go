package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// QuakeAPI 360 Quake 服务数据接口，按 start 偏移翻页
type QuakeAPI struct {
	BaseURL string
	APIKey  string
}

// QuakeAPIResponse 定义API返回结构
type QuakeAPIResponse struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Meta    struct {
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
	Data []map[string]any `json:"data"`
}

func (QuakeAPI) Name() string { return "Quake" }

func (QuakeAPI) Query(target string) string {
	return fmt.Sprintf(`domain:"%s"`, target)
}

// buildQuakePayload 构造查询体
func (a QuakeAPI) buildQuakePayload(target string, page, size int) map[string]any {
	return map[string]any{
		"query":        a.Query(target),
		"start":        (page - 1) * size,
		"size":         size,
		"include":      []string{"domain", "service.http.host"},
		"ignore_cache": false,
		"latest":       true,
	}
}

func (a QuakeAPI) NewRequest(ctx context.Context, target string, page, size int) (*http.Request, error) {
	body, err := json.Marshal(a.buildQuakePayload(target, page, size))
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("X-QuakeToken", a.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a QuakeAPI) ParsePage(body []byte) (Page, error) {
	var resp QuakeAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if code := intFromAny(resp.Code); code != 0 {
		return Page{}, &APIError{Platform: a.Name(), Message: resp.Message}
	}

	page := Page{Total: resp.Meta.Pagination.Total}
	for _, item := range resp.Data {
		rec, ok := convertQuakeItem(item)
		if !ok {
			page.Skipped++
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// convertQuakeItem host 优先取 service.http.host
func convertQuakeItem(item map[string]any) (Record, bool) {
	rec, ok := recordFromObject(item, "hostname")
	if service, isMap := item["service"].(map[string]any); isMap {
		if httpMap, isMap := service["http"].(map[string]any); isMap {
			if h, isStr := stringFromAny(httpMap["host"]); isStr && h != "" {
				rec.Host = h
				ok = true
			}
		}
	}
	return rec, ok
}
