package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// ErrRateLimited 服务端限流（HTTP 429 或接口返回的频率限制提示）
var ErrRateLimited = errors.New("rate limited")

// RateLimitError 携带限流冷却时间，冷却会叠加到下一次重试等待上
type RateLimitError struct {
	Cooldown time.Duration
	Err      error
}

func (e *RateLimitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rate limited, cooldown %s", e.Cooldown)
	}
	return fmt.Sprintf("rate limited, cooldown %s: %v", e.Cooldown, e.Err)
}

func (e *RateLimitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRateLimited}
	}
	return []error{ErrRateLimited, e.Err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient 标记错误可重试（网络错误、5xx 等）
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// 接口返回的限流提示
var retryableMessages = []string{
	"请求太多",
	"稍后再试",
	"rate limit",
	"too many requests",
	"quota exceeded",
	"api limit",
	"请求频率过高",
	"请求过于频繁",
	"请求超限",
	"请求限制",
}

// IsRetryable 判断是否为可重试的错误
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var tr *transientError
	if errors.As(err, &tr) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, msg := range retryableMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}
	return false
}

// Policy 重试策略
type Policy struct {
	MaxAttempts int           // 总尝试次数，含第一次
	BaseDelay   time.Duration // 第一次重试前的基础等待
	Factor      float64       // 指数因子，<=0 时按 1 处理
	MaxDelay    time.Duration // 单次等待上限，0 表示不限

	// 抖动系数区间，等待时间乘以 [JitterMin, JitterMax] 内的随机数；均为 0 时不抖动
	JitterMin float64
	JitterMax float64

	// Backoff 覆盖默认的指数退避，failures 为已失败次数
	Backoff func(failures int) time.Duration
	// Retryable 覆盖默认的错误分类
	Retryable func(err error) bool
	// OnRetry 每次重试前回调，用于日志
	OnRetry func(failures int, err error, wait time.Duration)

	// Sleep 与 Rand 供测试替换
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// Delay 计算第 failures 次失败后的等待时间（不含限流冷却）
func (p Policy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	var d time.Duration
	if p.Backoff != nil {
		d = p.Backoff(failures)
	} else {
		factor := p.Factor
		if factor <= 0 {
			factor = 1
		}
		d = time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(failures-1)))
	}
	d = time.Duration(float64(d) * p.jitter())
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (p Policy) jitter() float64 {
	lo, hi := p.JitterMin, p.JitterMax
	if lo == 0 && hi == 0 {
		return 1
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	return lo + r()*(hi-lo)
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// Do 按策略执行 fn，attempt 从 1 开始
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (上次错误: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !p.retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) {
			wait += rl.Cooldown
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("重试%d次后仍然失败: %w", attempts, lastErr)
}

// Sleep 可被 ctx 取消的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
