package brute

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"

	"deepx/internal/config"
	"deepx/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func newTestLimiter(target int, smart bool) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewLimiter(target, smart)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestLimiterBoundsUnderAnySequence(t *testing.T) {
	l, _ := newTestLimiter(50, true)
	lo, hi := l.Bounds()
	if lo != 5 || hi != 100 {
		t.Fatalf("Bounds() = %v, %v; want 5, 100", lo, hi)
	}

	for i := 0; i < 500; i++ {
		l.OnSuccess()
		if r := l.Rate(); r > hi || r < lo {
			t.Fatalf("rate %v escaped [%v, %v] after %d successes", r, lo, hi, i+1)
		}
	}
	if r := l.Rate(); r != hi {
		t.Fatalf("rate after many successes = %v, want %v", r, hi)
	}

	for i := 0; i < 500; i++ {
		l.OnTimeout()
		if r := l.Rate(); r > hi || r < lo {
			t.Fatalf("rate %v escaped [%v, %v] after %d timeouts", r, lo, hi, i+1)
		}
	}
	if r := l.Rate(); r != lo {
		t.Fatalf("rate after many timeouts = %v, want %v", r, lo)
	}

	// mixed sequence
	for i := 0; i < 1000; i++ {
		switch i % 7 {
		case 0, 3:
			l.OnTimeout()
		case 5:
			l.OnNotFound()
		default:
			l.OnSuccess()
		}
		if r := l.Rate(); r > hi || r < lo {
			t.Fatalf("rate %v escaped [%v, %v] at step %d", r, lo, hi, i)
		}
	}
}

func TestLimiterStreaks(t *testing.T) {
	l, _ := newTestLimiter(100, true)
	for i := 0; i < 9; i++ {
		l.OnSuccess()
	}
	if r := l.Rate(); r != 100 {
		t.Fatalf("rate after 9 successes = %v, want 100", r)
	}
	l.OnSuccess()
	if r := l.Rate(); r < 109.99 || r > 110.01 {
		t.Fatalf("rate after 10 successes = %v, want 110", r)
	}

	l.OnTimeout()
	l.OnTimeout()
	l.OnNotFound() // breaks the timeout streak
	l.OnTimeout()
	l.OnTimeout()
	if r := l.Rate(); r < 109.99 || r > 110.01 {
		t.Fatalf("rate changed without 3 consecutive timeouts: %v", r)
	}
	l.OnTimeout()
	if r := l.Rate(); r < 87.99 || r > 88.01 {
		t.Fatalf("rate after 3 timeouts = %v, want 88", r)
	}
}

func TestLimiterWithoutSmartAdjust(t *testing.T) {
	l, _ := newTestLimiter(10, false)
	for i := 0; i < 50; i++ {
		l.OnSuccess()
		l.OnTimeout()
	}
	if r := l.Rate(); r != 10 {
		t.Fatalf("rate = %v, want 10", r)
	}
}

func TestLimiterWaitEnforcesWindow(t *testing.T) {
	l, clock := newTestLimiter(3, false)
	start := clock.Now()
	for i := 0; i < 7; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// 3 per second: requests 4..6 wait until t+1s, request 7 until t+2s
	if elapsed := clock.Now().Sub(start); elapsed != 2*time.Second {
		t.Fatalf("elapsed = %v, want 2s", elapsed)
	}
	if r := l.RecentRate(); r < 2.9 || r > 3.1 {
		t.Fatalf("RecentRate() = %v, want about 3", r)
	}
	if eta := l.ETA(30); eta < 9*time.Second || eta > 11*time.Second {
		t.Fatalf("ETA(30) = %v, want about 10s", eta)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(1, false)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

type fakeResolver struct {
	exists   map[string]bool
	timeouts map[string]bool
	mu       sync.Mutex
	queried  []string
}

func (f *fakeResolver) Resolve(ctx context.Context, fqdn string) error {
	f.mu.Lock()
	f.queried = append(f.queried, fqdn)
	f.mu.Unlock()
	switch {
	case f.exists[fqdn]:
		return nil
	case f.timeouts[fqdn]:
		return fmt.Errorf("%s: %w", fqdn, ErrTimeout)
	}
	return ErrNotFound
}

func testBruteConfig() config.BruteConfig {
	cfg := config.Default().Brute
	cfg.RateLimit = 100000
	cfg.Concurrency = 8
	cfg.ShowProgress = false
	return cfg
}

func TestRunFindsExistingNames(t *testing.T) {
	res := &fakeResolver{
		exists:   map[string]bool{"www.example.com": true, "mail.example.com": true},
		timeouts: map[string]bool{"slow.example.com": true},
	}
	b := New(testBruteConfig(), res, logger.Nop())

	words := []string{"www", "mail", "ftp", "slow", "WWW", "", "bad_word!", "dev"}
	got := b.Run(context.Background(), "Example.com", words)

	if fmt.Sprint(got.Sorted()) != "[mail.example.com www.example.com]" {
		t.Fatalf("Run() = %v", got.Sorted())
	}
	st := b.Stats()
	if st.Total != 5 || st.Found != 2 || st.Timeouts != 1 || st.NotFound != 2 {
		t.Fatalf("Stats() = %+v", st)
	}
	if len(res.queried) != 5 {
		t.Fatalf("queried %d names, want 5: %v", len(res.queried), res.queried)
	}
}

type staticWords struct {
	words []string
	err   error
}

func (s staticWords) Words() ([]string, error) { return s.words, s.err }

func TestRunDictionaryUnavailable(t *testing.T) {
	res := &fakeResolver{}
	b := New(testBruteConfig(), res, logger.Nop())

	if got := b.RunDictionary(context.Background(), "example.com", staticWords{err: errors.New("missing")}); got.Len() != 0 {
		t.Fatalf("RunDictionary(error) = %v", got.Sorted())
	}
	if got := b.RunDictionary(context.Background(), "example.com", staticWords{}); got.Len() != 0 {
		t.Fatalf("RunDictionary(empty) = %v", got.Sorted())
	}
	if len(res.queried) != 0 {
		t.Fatalf("resolver called %d times", len(res.queried))
	}
}

func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch {
		case q.Name == "www.example.com." && q.Qtype == dns.TypeA:
			rr, _ := dns.NewRR("www.example.com. 60 IN A 192.0.2.1")
			m.Answer = append(m.Answer, rr)
		case q.Name == "alias.example.com." && q.Qtype == dns.TypeCNAME:
			rr, _ := dns.NewRR("alias.example.com. 60 IN CNAME www.example.com.")
			m.Answer = append(m.Answer, rr)
		case q.Name == "alias.example.com.":
			// A query answered with NOERROR and no data
		default:
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	r := NewDNSResolver([]string{addr}, time.Second, 2)
	ctx := context.Background()

	if err := r.Resolve(ctx, "www.example.com"); err != nil {
		t.Fatalf("Resolve(www) = %v, want nil", err)
	}
	if err := r.Resolve(ctx, "alias.example.com"); err != nil {
		t.Fatalf("Resolve(alias) = %v, want nil", err)
	}
	if err := r.Resolve(ctx, "nope.example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve(nope) = %v, want ErrNotFound", err)
	}
}

func TestDNSResolverTimeout(t *testing.T) {
	// a listener that never answers
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	r := NewDNSResolver([]string{pc.LocalAddr().String()}, 100*time.Millisecond, 2)
	if err := r.Resolve(context.Background(), "www.example.com"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Resolve() = %v, want ErrTimeout", err)
	}
}
