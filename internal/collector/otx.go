package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"deepx/internal/model"
)

// OtxURL AlienVault OTX 接口地址
const OtxURL = "https://otx.alienvault.com/api/v1/indicators/domain/"

// Otx AlienVault OTX 的 url_list 数据源
type Otx struct {
	BaseURL string
	fetch   fetcher
}

type otxResponse struct {
	URLList []struct {
		Hostname string `json:"hostname"`
		URL      string `json:"url"`
	} `json:"url_list"`
}

func init() {
	Register("otx", func(deps Deps) Collector { return NewOtx(deps) })
}

// NewOtx 创建 OTX 数据源
func NewOtx(deps Deps) *Otx {
	return &Otx{BaseURL: OtxURL, fetch: newFetcher("otx", deps)}
}

func (o *Otx) Name() string { return "otx" }

func (o *Otx) Collect(ctx context.Context, target string) (model.DomainSet, error) {
	found := model.NewDomainSet()
	reqURL := o.BaseURL + url.PathEscape(target) + "/url_list?limit=10000&page=1"

	err := o.fetch.get(ctx, reqURL, func(resp *http.Response) error {
		var body otxResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("json decode failed: %w", err)
		}
		for _, item := range body.URLList {
			addInScope(found, item.Hostname, target)
		}
		return nil
	})
	return found, err
}
