package model

import (
	"encoding/json"
	"time"
)

// AliveResult 单个域名的存活探测结果，构造后不可修改
type AliveResult struct {
	domain        string
	url           string
	alive         bool
	protocol      string
	statusCode    *int
	title         *string
	contentLength *int64
	responseTime  *time.Duration
	finalURL      *string
	errText       *string
	headers       map[string]string
}

// AliveResponse 存活响应的可选字段
type AliveResponse struct {
	StatusCode    int
	Title         *string
	ContentLength *int64
	ResponseTime  time.Duration
	FinalURL      string
	Headers       map[string]string
}

// NewAliveResult 构造存活结果
func NewAliveResult(domain, url, protocol string, resp AliveResponse) AliveResult {
	status := resp.StatusCode
	rt := resp.ResponseTime
	r := AliveResult{
		domain:        domain,
		url:           url,
		alive:         true,
		protocol:      protocol,
		statusCode:    &status,
		title:         resp.Title,
		contentLength: resp.ContentLength,
		responseTime:  &rt,
		headers:       copyHeaders(resp.Headers),
	}
	if resp.FinalURL != "" {
		final := resp.FinalURL
		r.finalURL = &final
	}
	return r
}

// NewDeadResult 构造失活结果
func NewDeadResult(domain, url, errText string) AliveResult {
	r := AliveResult{domain: domain, url: url}
	if errText != "" {
		r.errText = &errText
	}
	return r
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func (r AliveResult) Domain() string   { return r.domain }
func (r AliveResult) URL() string      { return r.url }
func (r AliveResult) IsAlive() bool    { return r.alive }
func (r AliveResult) Protocol() string { return r.protocol }

// StatusCode 未取得响应时 ok 为 false
func (r AliveResult) StatusCode() (int, bool) {
	if r.statusCode == nil {
		return 0, false
	}
	return *r.statusCode, true
}

func (r AliveResult) Title() (string, bool) {
	if r.title == nil {
		return "", false
	}
	return *r.title, true
}

func (r AliveResult) ContentLength() (int64, bool) {
	if r.contentLength == nil {
		return 0, false
	}
	return *r.contentLength, true
}

func (r AliveResult) ResponseTime() (time.Duration, bool) {
	if r.responseTime == nil {
		return 0, false
	}
	return *r.responseTime, true
}

func (r AliveResult) FinalURL() (string, bool) {
	if r.finalURL == nil {
		return "", false
	}
	return *r.finalURL, true
}

func (r AliveResult) Error() (string, bool) {
	if r.errText == nil {
		return "", false
	}
	return *r.errText, true
}

// Header 返回响应头副本中的单个值
func (r AliveResult) Header(name string) string {
	return r.headers[name]
}

// Headers 返回响应头副本
func (r AliveResult) Headers() map[string]string {
	return copyHeaders(r.headers)
}

type aliveJSON struct {
	Domain        string            `json:"domain"`
	URL           string            `json:"url"`
	IsAlive       bool              `json:"is_alive"`
	Protocol      string            `json:"protocol,omitempty"`
	StatusCode    *int              `json:"status_code"`
	Title         *string           `json:"title"`
	ContentLength *int64            `json:"content_length"`
	ResponseTime  *float64          `json:"response_time"`
	FinalURL      *string           `json:"final_url"`
	Error         *string           `json:"error"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// MarshalJSON 用于存活缓存，响应时间以秒记录
func (r AliveResult) MarshalJSON() ([]byte, error) {
	out := aliveJSON{
		Domain:        r.domain,
		URL:           r.url,
		IsAlive:       r.alive,
		Protocol:      r.protocol,
		StatusCode:    r.statusCode,
		Title:         r.title,
		ContentLength: r.contentLength,
		FinalURL:      r.finalURL,
		Error:         r.errText,
		Headers:       r.headers,
	}
	if r.responseTime != nil {
		secs := r.responseTime.Seconds()
		out.ResponseTime = &secs
	}
	return json.Marshal(out)
}

// UnmarshalJSON 读取存活缓存
func (r *AliveResult) UnmarshalJSON(data []byte) error {
	var in aliveJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = AliveResult{
		domain:        in.Domain,
		url:           in.URL,
		alive:         in.IsAlive,
		protocol:      in.Protocol,
		statusCode:    in.StatusCode,
		title:         in.Title,
		contentLength: in.ContentLength,
		finalURL:      in.FinalURL,
		errText:       in.Error,
		headers:       in.Headers,
	}
	if in.ResponseTime != nil {
		rt := time.Duration(*in.ResponseTime * float64(time.Second))
		r.responseTime = &rt
	}
	return nil
}

// AliveSnapshot 存活检测缓存文件
type AliveSnapshot struct {
	Domain    string        `json:"domain"`
	Timestamp float64       `json:"timestamp"`
	Results   []AliveResult `json:"results"`
}
