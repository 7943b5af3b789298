package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"deepx/internal/model"
)

// CrtURL crt.sh 查询地址
const CrtURL = "https://crt.sh/"

// Crt 证书透明日志数据源，解析 crt.sh 的 HTML 结果表
type Crt struct {
	BaseURL string
	fetch   fetcher
}

func init() {
	Register("crt", func(deps Deps) Collector { return NewCrt(deps) })
}

// NewCrt 创建 crt.sh 数据源
func NewCrt(deps Deps) *Crt {
	return &Crt{BaseURL: CrtURL, fetch: newFetcher("crt", deps)}
}

func (c *Crt) Name() string { return "crt" }

func (c *Crt) Collect(ctx context.Context, target string) (model.DomainSet, error) {
	found := model.NewDomainSet()
	reqURL := c.BaseURL + "?q=" + url.QueryEscape(target)

	err := c.fetch.get(ctx, reqURL, func(resp *http.Response) error {
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return fmt.Errorf("解析 crt.sh 页面失败: %w", err)
		}
		doc.Find("td").Each(func(_ int, cell *goquery.Selection) {
			// 同一单元格内的多个名称以 <br> 分隔
			cell.Contents().Each(func(_ int, node *goquery.Selection) {
				if goquery.NodeName(node) != "#text" {
					return
				}
				for _, name := range strings.Fields(node.Text()) {
					name = strings.TrimPrefix(name, "*.")
					if strings.Contains(name, "*") {
						continue
					}
					addInScope(found, name, target)
				}
			})
		})
		return nil
	})
	return found, err
}
