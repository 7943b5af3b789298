package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func recordSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Factor:      2,
		Sleep:       recordSleep(&waits),
	}

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if fmt.Sprint(waits) != fmt.Sprint(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	base := errors.New("bad key")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4}, func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(base)
	})
	if !errors.Is(err, base) {
		t.Fatalf("Do() error = %v, want %v", err, base)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Sleep: recordSleep(&waits)}, func(ctx context.Context, attempt int) error {
		calls++
		return fmt.Errorf("FOFA: %w", ErrRateLimited)
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Do() error = %v, want ErrRateLimited", err)
	}
	if calls != 3 || len(waits) != 2 {
		t.Fatalf("calls = %d waits = %d, want 3 and 2", calls, len(waits))
	}
}

func TestDoAddsCooldown(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxAttempts: 2, BaseDelay: time.Second, Sleep: recordSleep(&waits)}
	_ = Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		return &RateLimitError{Cooldown: 10 * time.Second}
	})
	if len(waits) != 1 || waits[0] != 11*time.Second {
		t.Fatalf("waits = %v, want [11s]", waits)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		p := Policy{BaseDelay: 4 * time.Second, Factor: 2, JitterMin: 0.5, JitterMax: 1.5, Rand: func() float64 { return r }}
		for failures := 1; failures <= 4; failures++ {
			nominal := time.Duration(float64(4*time.Second) * float64(int(1)<<(failures-1)))
			d := p.Delay(failures)
			if d < nominal/2 || d > nominal*3/2 {
				t.Fatalf("Delay(%d) with r=%v = %v, outside [%v, %v]", failures, r, d, nominal/2, nominal*3/2)
			}
		}
	}
}

func TestDelayCap(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, Factor: 10, MaxDelay: 5 * time.Minute}
	if d := p.Delay(6); d != 5*time.Minute {
		t.Fatalf("Delay(6) = %v, want 5m", d)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid key"), false},
		{"message en", errors.New("API Rate Limit exceeded"), true},
		{"message zh", errors.New("请求过于频繁，请稍后"), true},
		{"transient", Transient(errors.New("502")), true},
		{"rate limited", &RateLimitError{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"permanent", Permanent(errors.New("too many requests")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
