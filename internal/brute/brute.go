package brute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/semaphore"

	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/util"
)

// 每完成多少个查询打印一次进度
const progressEvery = 100

// WordSource 字典来源
type WordSource interface {
	Words() ([]string, error)
}

// Stats 一次爆破的统计
type Stats struct {
	Total    int
	Found    int
	NotFound int
	Timeouts int
	Errors   int
	Elapsed  time.Duration
}

// Bruteforcer 并发 DNS 爆破器
type Bruteforcer struct {
	resolver    Resolver
	limiter     *Limiter
	concurrency int
	log         logger.Logger

	showProgress bool
	progressOut  io.Writer

	lastStats Stats
}

// New 根据配置创建爆破器，resolver 为空时使用 DNSResolver
func New(cfg config.BruteConfig, resolver Resolver, log logger.Logger) *Bruteforcer {
	if resolver == nil {
		resolver = NewDNSResolver(cfg.Nameservers, cfg.Timeout, cfg.Tries)
	}
	if log == nil {
		log = logger.Nop()
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Bruteforcer{
		resolver:     resolver,
		limiter:      NewLimiter(cfg.RateLimit, cfg.SmartAdjust),
		concurrency:  concurrency,
		log:          log,
		showProgress: cfg.ShowProgress,
		progressOut:  os.Stderr,
	}
}

// Limiter 爆破使用的限速器
func (b *Bruteforcer) Limiter() *Limiter { return b.limiter }

// Stats 最近一次 Run 的统计
func (b *Bruteforcer) Stats() Stats { return b.lastStats }

// RunDictionary 加载字典后爆破，字典不可用时返回空集合
func (b *Bruteforcer) RunDictionary(ctx context.Context, target string, src WordSource) model.DomainSet {
	words, err := src.Words()
	if err != nil {
		b.log.Error("[Brute] 加载字典失败，跳过爆破: %v", err)
		return model.NewDomainSet()
	}
	if len(words) == 0 {
		b.log.Error("[Brute] 字典为空，跳过爆破")
		return model.NewDomainSet()
	}
	return b.Run(ctx, target, words)
}

// candidates 生成待查询域名，去重并丢弃非法前缀
func candidates(target string, words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.Trim(strings.TrimSpace(w), "."))
		if w == "" {
			continue
		}
		fqdn := w + "." + target
		if !util.IsValidDomain(fqdn) {
			continue
		}
		if _, ok := seen[fqdn]; ok {
			continue
		}
		seen[fqdn] = struct{}{}
		out = append(out, fqdn)
	}
	return out
}

// Run 对 words 中的每个前缀查询 <word>.<target>，返回存在的域名
func (b *Bruteforcer) Run(ctx context.Context, target string, words []string) model.DomainSet {
	target = util.NormalizeDomain(target)
	found := model.NewDomainSet()
	list := candidates(target, words)
	total := len(list)
	start := time.Now()

	b.log.Info("[Brute] 开始爆破: %s，字典%d条，并发%d，速率%.0f/s", target, total, b.concurrency, b.limiter.Rate())

	var bar *progressbar.ProgressBar
	if b.showProgress && total > 0 {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.progressOut),
			progressbar.OptionSetDescription("[Brute] "+target),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed atomic.Int64
		notFound  atomic.Int64
		timeouts  atomic.Int64
		failures  atomic.Int64
	)
	sem := semaphore.NewWeighted(int64(b.concurrency))

	for _, fqdn := range list {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(fqdn string) {
			defer wg.Done()
			defer sem.Release(1)

			if err := b.limiter.Wait(ctx); err != nil {
				return
			}
			err := b.resolver.Resolve(ctx, fqdn)
			switch {
			case err == nil:
				b.limiter.OnSuccess()
				mu.Lock()
				found.Add(fqdn)
				mu.Unlock()
				b.log.Success("[Brute] 发现: %s", fqdn)
			case errors.Is(err, ErrNotFound):
				b.limiter.OnNotFound()
				notFound.Add(1)
			case errors.Is(err, ErrTimeout):
				b.limiter.OnTimeout()
				timeouts.Add(1)
			default:
				failures.Add(1)
				b.log.Debug("[Brute] 查询 %s 失败: %v", fqdn, err)
			}

			done := completed.Add(1)
			if bar != nil {
				_ = bar.Add(1)
			}
			if done%progressEvery == 0 {
				mu.Lock()
				n := found.Len()
				mu.Unlock()
				remaining := total - int(done)
				b.log.Info("[Brute] 进度 %d/%d，发现%d个，速率%.1f/s，预计剩余%s",
					done, total, n, b.limiter.RecentRate(), formatETA(b.limiter.ETA(remaining)))
			}
		}(fqdn)
	}
	wg.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	b.lastStats = Stats{
		Total:    total,
		Found:    found.Len(),
		NotFound: int(notFound.Load()),
		Timeouts: int(timeouts.Load()),
		Errors:   int(failures.Load()),
		Elapsed:  time.Since(start),
	}
	if ctx.Err() != nil {
		b.log.Warn("[Brute] 爆破被中断，已完成%d/%d", completed.Load(), total)
	}
	b.log.Success("[Brute] 爆破完成: %s -> 发现%d个子域名，超时%d个，用时%s",
		target, b.lastStats.Found, b.lastStats.Timeouts, b.lastStats.Elapsed.Round(time.Second))
	return found
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "未知"
	}
	return fmt.Sprint(d.Round(time.Second))
}
