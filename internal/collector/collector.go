package collector

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/retry"
	"deepx/internal/util"
)

// Collector 被动子域名数据源
type Collector interface {
	Name() string
	Collect(ctx context.Context, target string) (model.DomainSet, error)
}

// Deps 构造数据源所需的共享依赖
type Deps struct {
	Config *config.Config
	HTTP   *http.Client
	Log    logger.Logger
	// Sleep 替换重试等待，测试使用
	Sleep func(ctx context.Context, d time.Duration) error
}

// Factory 数据源构造函数，返回 nil 表示该数据源在当前配置下不可用
type Factory func(deps Deps) Collector

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register 注册数据源
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Names 已注册的数据源名称
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

// Build 按名称构造数据源，未知名称返回错误
func Build(names []string, deps Deps) ([]Collector, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out []Collector
	seen := map[string]bool{}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("未知的数据源: %s (可选: %s)", raw, strings.Join(namesLocked(), ", "))
		}
		if c := f(deps); c != nil {
			out = append(out, c)
		} else if deps.Log != nil {
			deps.Log.Warn("数据源 %s 未配置，跳过", name)
		}
	}
	return out, nil
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set 并发运行的一组数据源
type Set struct {
	collectors []Collector
	log        logger.Logger
}

// Result 汇总结果与各数据源计数
type Result struct {
	Domains model.DomainSet
	Counts  map[string]int
	Failed  map[string]error
}

// NewSet 创建数据源集合
func NewSet(log logger.Logger, collectors ...Collector) *Set {
	if log == nil {
		log = logger.Nop()
	}
	return &Set{collectors: collectors, log: log}
}

// Run 并发执行全部数据源，单个失败不影响其他
func (s *Set) Run(ctx context.Context, target string) Result {
	target = util.NormalizeDomain(target)
	res := Result{
		Domains: model.NewDomainSet(),
		Counts:  map[string]int{},
		Failed:  map[string]error{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.collectors {
		c := c
		g.Go(func() error {
			s.log.Info("[%s] 开始收集: %s", c.Name(), target)
			found, err := c.Collect(gctx, target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Error("[%s] 收集失败: %v", c.Name(), err)
				res.Failed[c.Name()] = err
			}
			n := 0
			for d := range found {
				if util.InScope(d, target) {
					res.Domains.Add(util.NormalizeDomain(d))
					n++
				}
			}
			res.Counts[c.Name()] = n
			if err == nil {
				s.log.Success("[%s] 收集完成: %d个子域名", c.Name(), n)
			}
			// 始终返回 nil，单个数据源失败不取消其他数据源
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// fetcher 数据源共用的 HTTP 获取逻辑
type fetcher struct {
	name      string
	http      *http.Client
	userAgent string
	log       logger.Logger
	policy    retry.Policy
}

func newFetcher(name string, deps Deps) fetcher {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	client := deps.HTTP
	if client == nil {
		client = &http.Client{Timeout: cfg.Collectors.Timeout}
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return fetcher{
		name:      name,
		http:      client,
		userAgent: cfg.HTTP.UserAgent,
		log:       log,
		policy: retry.Policy{
			MaxAttempts: cfg.Collectors.RetryCount,
			BaseDelay:   cfg.Collectors.RetryDelay,
			Factor:      2,
			JitterMin:   0.5,
			JitterMax:   1.5,
			Sleep:       deps.Sleep,
			OnRetry: func(failures int, err error, wait time.Duration) {
				log.Warn("[%s] 第%d次请求失败: %v，%.1f秒后重试", name, failures, err, wait.Seconds())
			},
		},
	}
}

// get 发起 GET 请求并交由 handle 处理响应体，5xx 与网络错误会重试
func (f fetcher) get(ctx context.Context, rawURL string, handle func(resp *http.Response) error) error {
	return retry.Do(ctx, f.policy, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("request creation failed: %w", err))
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}
		resp, err := f.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return retry.Transient(fmt.Errorf("http request failed: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("HTTP %d: %w", resp.StatusCode, retry.ErrRateLimited)
		case resp.StatusCode >= 500:
			return retry.Transient(fmt.Errorf("HTTP %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("HTTP %d", resp.StatusCode))
		}
		return handle(resp)
	})
}

// addInScope 归一化后加入集合
func addInScope(set model.DomainSet, host, target string) {
	host = util.NormalizeDomain(host)
	if host != "" && util.InScope(host, target) {
		set.Add(host)
	}
}
