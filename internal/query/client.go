package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/retry"
	"deepx/internal/util"
)

// 单页响应体上限
const maxBodySize = 32 << 20

// Client 带限速与重试的分页查询客户端
type Client struct {
	api  API
	cfg  config.SearchAPIConfig
	http *http.Client
	log  logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64

	mu       sync.Mutex
	rateHits int // 滚动 429 计数，成功一页减一
}

// Option 客户端可选项
type Option func(*Client)

// WithSleep 替换等待函数，测试中用于跳过真实等待
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithRand 替换抖动随机源
func WithRand(fn func() float64) Option {
	return func(c *Client) { c.rand = fn }
}

// NewClient 创建查询客户端，httpClient 为空时按配置超时新建
func NewClient(api API, cfg config.SearchAPIConfig, httpClient *http.Client, log logger.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		api:   api,
		cfg:   cfg,
		http:  httpClient,
		log:   log,
		sleep: retry.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFofaClient 按配置创建 FOFA 客户端
func NewFofaClient(cfg config.SearchAPIConfig, httpClient *http.Client, log logger.Logger, opts ...Option) *Client {
	return NewClient(FofaAPI{BaseURL: cfg.APIURL, APIKey: cfg.APIKey}, cfg, httpClient, log, opts...)
}

// NewHunterClient 按配置创建 Hunter 客户端
func NewHunterClient(cfg config.SearchAPIConfig, httpClient *http.Client, log logger.Logger, opts ...Option) *Client {
	return NewClient(HunterAPI{BaseURL: cfg.APIURL, APIKey: cfg.APIKey}, cfg, httpClient, log, opts...)
}

// NewQuakeClient 按配置创建 Quake 客户端
func NewQuakeClient(cfg config.SearchAPIConfig, httpClient *http.Client, log logger.Logger, opts ...Option) *Client {
	return NewClient(QuakeAPI{BaseURL: cfg.APIURL, APIKey: cfg.APIKey}, cfg, httpClient, log, opts...)
}

// Name 平台名称
func (c *Client) Name() string { return c.api.Name() }

// Configured 是否配置了 API Key
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// Collect 查询目标域名的子域名，失败时返回已取得的部分结果
func (c *Client) Collect(ctx context.Context, target string) model.DomainSet {
	name := c.api.Name()
	results := model.NewDomainSet()
	if !c.Configured() {
		c.log.Error("[%s] 未配置 API Key，跳过查询", name)
		return results
	}
	target = util.NormalizeDomain(target)
	c.log.Info("[%s] 开始查询: %s (查询语法: %s)", name, target, c.api.Query(target))

	var mu sync.Mutex
	merge := func(page int, p Page) {
		mu.Lock()
		defer mu.Unlock()
		before := results.Len()
		for _, rec := range p.Records {
			for _, candidate := range []string{util.ExtractHost(rec.Host), util.NormalizeDomain(rec.Domain)} {
				if candidate != "" && util.InScope(candidate, target) {
					results.Add(candidate)
				}
			}
		}
		c.log.Info("[%s] 第%d页完成: %d条记录，新增%d个子域名", name, page, len(p.Records), results.Len()-before)
	}

	first, err := c.fetchPage(ctx, target, 1)
	if err != nil {
		c.log.Error("[%s] 第1页查询失败: %v", name, err)
		return results
	}
	if first.Empty() {
		c.log.Warn("[%s] 未查询到结果: %s", name, target)
		return results
	}
	merge(1, first)

	totalPages := c.totalPages(first)
	c.log.Debug("[%s] 结果总数%d，计划查询%d页", name, first.Total, totalPages)

	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrent))
	var done atomic.Bool
	var wg sync.WaitGroup

	for page := 2; page <= totalPages; page++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if done.Load() {
			sem.Release(1)
			break
		}
		if err := c.sleep(ctx, c.pageInterval(page)); err != nil {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			defer sem.Release(1)

			p, err := c.fetchPage(ctx, target, page)
			if err != nil {
				c.log.Error("[%s] 第%d页查询失败，跳过: %v", name, page, err)
				return
			}
			if p.Empty() {
				c.log.Debug("[%s] 第%d页无数据，停止翻页", name, page)
				done.Store(true)
				return
			}
			merge(page, p)
		}(page)
	}
	wg.Wait()

	c.log.Success("[%s] 查询完成: %s -> 共%d个子域名", name, target, results.Len())
	return results
}

// totalPages 由首页总数计算页数，不超过 MaxPages
func (c *Client) totalPages(first Page) int {
	pages := c.cfg.MaxPages
	if first.Total > 0 {
		pages = int(math.Ceil(float64(first.Total) / float64(c.cfg.PageSize)))
	} else if len(first.Records)+first.Skipped < c.cfg.PageSize {
		pages = 1
	}
	if pages > c.cfg.MaxPages {
		pages = c.cfg.MaxPages
	}
	return pages
}

// pageInterval 翻页前等待，随页码线性增长
func (c *Client) pageInterval(page int) time.Duration {
	growth := 1 + float64(page-1)*c.cfg.PageIntervalGrowth
	return time.Duration(float64(c.cfg.PageInterval) * growth)
}

// retryWait 第 failures 次失败后的基础等待（抖动前）
func (c *Client) retryWait(page, failures int) time.Duration {
	factor := c.cfg.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	base := float64(c.cfg.BaseWait) * (1 + float64(page)*0.2)
	backoff := float64(c.cfg.RetryDelay) * math.Pow(factor, float64(failures-1))
	return time.Duration(base + backoff)
}

// cooldown 429 冷却时间，hits 为当前滚动计数
func (c *Client) cooldown(hits int) time.Duration {
	d := time.Duration(float64(c.cfg.RetryDelay) * math.Pow(2, float64(hits)))
	if c.cfg.MaxCooldown > 0 && d > c.cfg.MaxCooldown {
		d = c.cfg.MaxCooldown
	}
	return d
}

func (c *Client) noteRateLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateHits++
	return c.rateHits
}

func (c *Client) noteSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateHits > 0 {
		c.rateHits--
	}
}

// RateHits 当前滚动 429 计数
func (c *Client) RateHits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateHits
}

func (c *Client) fetchPage(ctx context.Context, target string, page int) (Page, error) {
	var result Page
	policy := retry.Policy{
		MaxAttempts: c.cfg.RetryCount,
		JitterMin:   0.5,
		JitterMax:   1.5,
		Backoff: func(failures int) time.Duration {
			return c.retryWait(page, failures)
		},
		OnRetry: func(failures int, err error, wait time.Duration) {
			c.log.Warn("[%s] 第%d页第%d次请求失败: %v，%.1f秒后重试", c.api.Name(), page, failures, err, wait.Seconds())
		},
		Sleep: c.sleep,
		Rand:  c.rand,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		p, err := c.doRequest(ctx, target, page)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	return result, err
}

func (c *Client) doRequest(ctx context.Context, target string, page int) (Page, error) {
	req, err := c.api.NewRequest(ctx, target, page, c.cfg.PageSize)
	if err != nil {
		return Page{}, retry.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, retry.Permanent(ctxErr)
		}
		return Page{}, retry.Transient(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Page{}, retry.Transient(fmt.Errorf("read response failed: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hits := c.noteRateLimit()
		return Page{}, &retry.RateLimitError{
			Cooldown: c.cooldown(hits),
			Err:      fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return Page{}, retry.Transient(fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.log.Error("[%s] 第%d页返回状态码 %d", c.api.Name(), page, resp.StatusCode)
		return Page{}, retry.Permanent(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	p, err := c.api.ParsePage(body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && retry.IsRetryable(err) {
			hits := c.noteRateLimit()
			return Page{}, &retry.RateLimitError{Cooldown: c.cooldown(hits), Err: err}
		}
		return Page{}, retry.Permanent(err)
	}
	if p.Skipped > 0 {
		c.log.Debug("[%s] 第%d页跳过%d条格式异常记录", c.api.Name(), page, p.Skipped)
	}
	c.noteSuccess()
	return p, nil
}
