package collector

import (
	"context"
	"strings"

	"deepx/internal/model"
	"deepx/internal/query"
)

// Searcher 分页测绘客户端
type Searcher interface {
	Name() string
	Collect(ctx context.Context, target string) model.DomainSet
}

// Search 将测绘平台客户端包装为被动数据源
type Search struct {
	client Searcher
}

func init() {
	Register("hunter", func(deps Deps) Collector {
		if deps.Config == nil || deps.Config.Hunter.APIKey == "" {
			return nil
		}
		return NewSearch(query.NewHunterClient(deps.Config.Hunter, nil, deps.Log))
	})
	Register("quake", func(deps Deps) Collector {
		if deps.Config == nil || deps.Config.Quake.APIKey == "" {
			return nil
		}
		return NewSearch(query.NewQuakeClient(deps.Config.Quake, nil, deps.Log))
	})
}

// NewSearch 包装测绘客户端
func NewSearch(client Searcher) *Search {
	return &Search{client: client}
}

func (s *Search) Name() string { return strings.ToLower(s.client.Name()) }

func (s *Search) Collect(ctx context.Context, target string) (model.DomainSet, error) {
	return s.client.Collect(ctx, target), nil
}
