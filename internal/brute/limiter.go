package brute

import (
	"context"
	"sync"
	"time"

	"deepx/internal/retry"
)

const (
	// 连续成功多少次后提速
	successStreak = 10
	// 连续超时多少次后降速
	timeoutStreak = 3
	speedUp       = 1.1
	slowDown      = 0.8
	// 速率区间为目标速率的 [0.1, 2] 倍
	minRateFactor = 0.1
	maxRateFactor = 2.0
	// ETA 采样数
	etaSamples = 50
)

// Limiter 滑动窗口限速器，根据查询结果自适应调整速率
type Limiter struct {
	mu sync.Mutex

	target  float64
	rate    float64
	minRate float64
	maxRate float64
	smart   bool

	window   []time.Time // 最近 1 秒内的请求时间
	capacity int
	history  []time.Time // 最近 etaSamples 次请求时间

	successes int
	timeouts  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter target 为每秒目标请求数，smart 为 false 时不做自适应调整
func NewLimiter(target int, smart bool) *Limiter {
	if target < 1 {
		target = 1
	}
	capacity := 2 * target
	if capacity < 100 {
		capacity = 100
	}
	t := float64(target)
	return &Limiter{
		target:   t,
		rate:     t,
		minRate:  t * minRateFactor,
		maxRate:  t * maxRateFactor,
		smart:    smart,
		capacity: capacity,
		now:      time.Now,
		sleep:    retry.Sleep,
	}
}

// Wait 阻塞直到最近 1 秒内的请求数低于当前速率，然后记录本次请求
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if float64(len(l.window)) < l.rate {
			l.record(now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window[0].Add(time.Second).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

func (l *Limiter) record(now time.Time) {
	if len(l.window) >= l.capacity {
		l.window = append(l.window[:0], l.window[1:]...)
	}
	l.window = append(l.window, now)

	if len(l.history) >= etaSamples {
		l.history = append(l.history[:0], l.history[1:]...)
	}
	l.history = append(l.history, now)
}

// OnSuccess 查询成功（域名存在）
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeouts = 0
	if !l.smart {
		return
	}
	l.successes++
	if l.successes >= successStreak {
		l.rate = min(l.rate*speedUp, l.maxRate)
		l.successes = 0
	}
}

// OnTimeout 查询超时
func (l *Limiter) OnTimeout() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes = 0
	if !l.smart {
		return
	}
	l.timeouts++
	if l.timeouts >= timeoutStreak {
		l.rate = max(l.rate*slowDown, l.minRate)
		l.timeouts = 0
	}
}

// OnNotFound 域名不存在，不影响速率，只打断连续超时
func (l *Limiter) OnNotFound() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeouts = 0
}

// Rate 当前速率上限
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Bounds 速率上下限
func (l *Limiter) Bounds() (lo, hi float64) {
	return l.minRate, l.maxRate
}

// RecentRate 根据最近的请求时间估算实际速率（次/秒）
func (l *Limiter) RecentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.history)
	if n < 2 {
		return 0
	}
	span := l.history[n-1].Sub(l.history[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}

// ETA 估算剩余 remaining 个请求所需时间，速率未知时返回 0
func (l *Limiter) ETA(remaining int) time.Duration {
	rate := l.RecentRate()
	if rate <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}
