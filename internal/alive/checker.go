package alive

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/retry"
)

// 批大小被限制在该区间内
const (
	minBatchSize = 20
	maxBatchSize = 50
)

// Checker HTTP/HTTPS 测活
type Checker struct {
	cfg       config.AliveConfig
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	log       logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient 测活使用的连接池客户端，跳过证书校验，限制重定向次数
// MaxRedirects 为 0 时不跟随重定向
func NewHTTPClient(cfg config.AliveConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          cfg.ConnectionLimit,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}
	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects <= 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > maxRedirects {
				return fmt.Errorf("重定向次数超过%d次", maxRedirects)
			}
			return nil
		},
	}
}

// NewChecker 创建测活器，client 为 nil 时使用 NewHTTPClient
func NewChecker(cfg config.AliveConfig, client *http.Client, userAgent string, log logger.Logger) *Checker {
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	if log == nil {
		log = logger.Nop()
	}
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	c := &Checker{
		cfg:       cfg,
		client:    client,
		userAgent: userAgent,
		log:       log,
		sleep:     retry.Sleep,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// Check 依次尝试各协议，任一协议拿到 100-599 的响应即视为存活
func (c *Checker) Check(ctx context.Context, domain string) model.AliveResult {
	var errs []string
	for _, proto := range c.cfg.Protocols {
		url := proto + "://" + domain
		res, err := c.probe(ctx, domain, url, proto)
		if err == nil {
			return res
		}
		errs = append(errs, fmt.Sprintf("%s: %v", proto, err))
		c.log.Debug("[Alive] %s 探测失败: %v", url, err)
		if ctx.Err() != nil {
			break
		}
	}
	first := "https"
	if len(c.cfg.Protocols) > 0 {
		first = c.cfg.Protocols[0]
	}
	return model.NewDeadResult(domain, first+"://"+domain, strings.Join(errs, "; "))
}

func (c *Checker) probe(ctx context.Context, domain, url, proto string) (model.AliveResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.AliveResult{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return model.AliveResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 100 || resp.StatusCode >= 600 {
		return model.AliveResult{}, fmt.Errorf("异常状态码: %d", resp.StatusCode)
	}

	out := model.AliveResponse{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		Headers:    flattenHeaders(resp.Header),
	}
	var length int64
	if resp.ContentLength > 0 {
		length = resp.ContentLength
	}

	contentType := resp.Header.Get("Content-Type")
	if c.cfg.CheckTitle && strings.Contains(strings.ToLower(contentType), "text/html") {
		limit := c.cfg.BodyLimit
		if limit <= 0 {
			limit = 1 << 20
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			c.log.Debug("[Alive] 读取 %s 响应体失败: %v", url, err)
		}
		if title, ok := ExtractTitle(body, contentType); ok {
			out.Title = &title
		}
		if length == 0 {
			length = int64(len(body))
		}
	}
	out.ContentLength = &length
	out.ResponseTime = time.Since(start)
	return model.NewAliveResult(domain, url, proto, out), nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// CheckAll 分批测活，批间短暂停顿，批内并发受 ConnectionLimit 限制
// 结果顺序与输入一致，取消后未开始的域名不再探测
func (c *Checker) CheckAll(ctx context.Context, domains []string) []model.AliveResult {
	total := len(domains)
	results := make([]model.AliveResult, 0, total)
	if total == 0 {
		return results
	}
	c.log.Module(fmt.Sprintf("测活模块 - 检测域名存活性: %d 个域名", total))

	batch := min(max(c.cfg.BatchSize, minBatchSize), maxBatchSize)
	limit := c.cfg.ConnectionLimit
	if limit <= 0 {
		limit = 100
	}
	sem := semaphore.NewWeighted(int64(limit))

	aliveCount := 0
	for start := 0; start < total; start += batch {
		if ctx.Err() != nil {
			break
		}
		end := min(start+batch, total)
		c.log.Info("测活进度: %d/%d (%.1f%%)", start, total, float64(start)/float64(total)*100)

		out := c.runBatch(ctx, sem, domains[start:end])
		for _, r := range out {
			if r.IsAlive() {
				aliveCount++
				c.log.Success("%s", ReportLine(r))
			} else {
				c.log.Warn("%s", ReportLine(r))
			}
		}
		results = append(results, out...)

		if end < total {
			if err := c.sleep(ctx, c.cfg.BatchPause); err != nil {
				break
			}
		}
	}

	c.log.Success("测活完成: 总计 %d 个域名, 存活 %d 个, 不存活 %d 个", len(results), aliveCount, len(results)-aliveCount)
	return results
}

func (c *Checker) runBatch(ctx context.Context, sem *semaphore.Weighted, domains []string) []model.AliveResult {
	out := make([]model.AliveResult, len(domains))
	var wg sync.WaitGroup
	dispatched := 0
	for i, domain := range domains {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				sem.Release(1)
				break
			}
		}
		dispatched++
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			defer sem.Release(1)
			out[i] = c.Check(ctx, domain)
		}(i, domain)
	}
	wg.Wait()
	return out[:dispatched]
}

// Partition 按存活状态拆分域名
func Partition(results []model.AliveResult) (alive, dead model.DomainSet) {
	alive, dead = model.NewDomainSet(), model.NewDomainSet()
	for _, r := range results {
		if r.IsAlive() {
			alive.Add(r.Domain())
		} else {
			dead.Add(r.Domain())
		}
	}
	return alive, dead
}

// ReportLine 单条结果的报告行
// 存活: url [status] [title] [length]，失活: url [dead]
func ReportLine(r model.AliveResult) string {
	if !r.IsAlive() {
		return r.URL() + " [dead]"
	}
	status, _ := r.StatusCode()
	title, ok := r.Title()
	if !ok || title == "" {
		title = "N/A"
	}
	length, _ := r.ContentLength()
	return fmt.Sprintf("%s [%d] [%s] [%d]", r.URL(), status, title, length)
}

// ReportLines 详细报告内容
func ReportLines(results []model.AliveResult) []string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, ReportLine(r))
	}
	return lines
}
