package collector

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"deepx/internal/model"
)

// ArchiveURL Wayback Machine CDX 接口地址
const ArchiveURL = "https://web.archive.org/cdx/search"

// Archive Wayback Machine 历史 URL 数据源，逐行读取 CDX 文本输出
type Archive struct {
	BaseURL string
	fetch   fetcher
}

func init() {
	Register("archive", func(deps Deps) Collector { return NewArchive(deps) })
}

// NewArchive 创建 Wayback 数据源
func NewArchive(deps Deps) *Archive {
	return &Archive{BaseURL: ArchiveURL, fetch: newFetcher("archive", deps)}
}

func (a *Archive) Name() string { return "archive" }

func (a *Archive) Collect(ctx context.Context, target string) (model.DomainSet, error) {
	params := url.Values{}
	params.Set("url", target)
	params.Set("matchType", "domain")
	params.Set("output", "text")
	params.Set("fl", "original")
	params.Set("collapse", "urlkey")
	params.Set("limit", "10000000")
	reqURL := a.BaseURL + "?" + params.Encode()

	var found model.DomainSet
	err := a.fetch.get(ctx, reqURL, func(resp *http.Response) error {
		// 每次尝试重新收集，避免重试时混入半截结果
		found = model.NewDomainSet()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !strings.Contains(line, "://") {
				line = "http://" + line
			}
			u, err := url.Parse(line)
			if err != nil {
				continue
			}
			addInScope(found, u.Hostname(), target)
		}
		if err := scanner.Err(); err != nil {
			// 读取中断，网络错误会触发重试
			return fmt.Errorf("read cdx stream: %w", err)
		}
		return nil
	})
	if found == nil {
		found = model.NewDomainSet()
	}
	return found, err
}
