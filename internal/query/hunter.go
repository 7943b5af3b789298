package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// HunterAPI 奇安信 Hunter 搜索接口
type HunterAPI struct {
	BaseURL string
	APIKey  string
}

// HunterAPIResponse 定义API返回结构
type HunterAPIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Total int              `json:"total"`
		Arr   []map[string]any `json:"arr"`
	} `json:"data"`
}

func (HunterAPI) Name() string { return "Hunter" }

func (HunterAPI) Query(target string) string {
	return fmt.Sprintf(`domain.suffix="%s"`, target)
}

// buildHunterQuery 构造Hunter查询参数（search 使用 base64url 编码）
func (a HunterAPI) buildHunterQuery(target string, page, pageSize int) url.Values {
	params := url.Values{}
	params.Set("api-key", a.APIKey)
	params.Set("search", base64.URLEncoding.EncodeToString([]byte(a.Query(target))))
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("is_web", "3") // 3代表全部资产类型
	return params
}

func (a HunterAPI) NewRequest(ctx context.Context, target string, page, size int) (*http.Request, error) {
	reqURL := a.BaseURL + "?" + a.buildHunterQuery(target, page, size).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	return req, nil
}

func (a HunterAPI) ParsePage(body []byte) (Page, error) {
	var resp HunterAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if resp.Code != 200 {
		return Page{}, &APIError{Platform: a.Name(), Message: resp.Message}
	}

	page := Page{Total: resp.Data.Total}
	for _, item := range resp.Data.Arr {
		rec, ok := recordFromObject(item, "url")
		if !ok {
			page.Skipped++
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}
