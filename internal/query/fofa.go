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

// fofaFields 只取域名相关字段，结果为 [host, domain] 数组
const fofaFields = "host,domain"

// FofaAPI FOFA 搜索接口
type FofaAPI struct {
	BaseURL string
	APIKey  string
}

// FofaAPIResponse 定义API返回结构
type FofaAPIResponse struct {
	Error   bool   `json:"error"`
	ErrMsg  string `json:"errmsg"`
	Size    int    `json:"size"`
	Page    int    `json:"page"`
	Mode    string `json:"mode"`
	Query   string `json:"query"`
	Results []any  `json:"results"`
}

func (FofaAPI) Name() string { return "FOFA" }

// Query 域名和证书两个维度一起查
func (FofaAPI) Query(target string) string {
	return fmt.Sprintf(`domain="%s"||cert="%s"`, target, target)
}

// buildFofaQuery 构造FOFA查询参数
func (a FofaAPI) buildFofaQuery(target string, page, size int) url.Values {
	params := url.Values{}
	params.Set("qbase64", base64.StdEncoding.EncodeToString([]byte(a.Query(target))))
	params.Set("fields", fofaFields)
	params.Set("page", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(size))
	params.Set("full", "false")
	params.Set("key", a.APIKey)
	return params
}

func (a FofaAPI) NewRequest(ctx context.Context, target string, page, size int) (*http.Request, error) {
	reqURL := a.BaseURL + "?" + a.buildFofaQuery(target, page, size).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	return req, nil
}

func (a FofaAPI) ParsePage(body []byte) (Page, error) {
	var resp FofaAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if resp.Error {
		return Page{}, &APIError{Platform: a.Name(), Message: resp.ErrMsg}
	}

	page := Page{Total: resp.Size}
	for _, row := range resp.Results {
		rec, ok := convertFofaRow(row)
		if !ok {
			page.Skipped++
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// convertFofaRow 解析一行 [host, domain]，单字段查询时为字符串
func convertFofaRow(row any) (Record, bool) {
	switch v := row.(type) {
	case string:
		return Record{Host: v}, v != ""
	case []any:
		if len(v) == 0 {
			return Record{}, false
		}
		host, ok := stringFromAny(v[0])
		if !ok {
			return Record{}, false
		}
		rec := Record{Host: host}
		if len(v) > 1 && v[1] != nil {
			domain, ok := stringFromAny(v[1])
			if !ok {
				return Record{}, false
			}
			rec.Domain = domain
		}
		return rec, rec.Host != "" || rec.Domain != ""
	}
	return Record{}, false
}
