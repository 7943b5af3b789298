package brute

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

var (
	// ErrNotFound 域名不存在（NXDOMAIN 或无 A/CNAME 记录）
	ErrNotFound = errors.New("domain not found")
	// ErrTimeout 所有尝试均未得到响应
	ErrTimeout = errors.New("dns timeout")
)

// Resolver 判断域名是否存在
type Resolver interface {
	Resolve(ctx context.Context, fqdn string) error
}

// DNSResolver 基于 miekg/dns 的解析器，A 记录优先，CNAME 兜底
type DNSResolver struct {
	client  *dns.Client
	servers []string
	tries   int
	next    atomic.Uint64
}

// NewDNSResolver servers 为空时使用默认公共 DNS，服务器顺序随机打乱
func NewDNSResolver(servers []string, timeout time.Duration, tries int) *DNSResolver {
	if tries < 1 {
		tries = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	return &DNSResolver{
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		servers: addrs,
		tries:   tries,
	}
}

// Resolve 存在返回 nil，不存在返回 ErrNotFound，超时返回 ErrTimeout
func (r *DNSResolver) Resolve(ctx context.Context, fqdn string) error {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeCNAME} {
		resp, err := r.query(ctx, fqdn, qtype)
		if err != nil {
			return err
		}
		if resp.Rcode == dns.RcodeNameError {
			return ErrNotFound
		}
		for _, rr := range resp.Answer {
			switch rr.(type) {
			case *dns.A, *dns.CNAME:
				return nil
			}
		}
	}
	return ErrNotFound
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) (*dns.Msg, error) {
	if len(r.servers) == 0 {
		return nil, fmt.Errorf("no nameserver configured: %w", ErrTimeout)
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for attempt := 0; attempt < r.tries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		srv := r.servers[int(r.next.Add(1)-1)%len(r.servers)]
		resp, _, err := r.client.ExchangeContext(ctx, msg, srv)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeServerFailure || resp.Rcode == dns.RcodeRefused {
			lastErr = fmt.Errorf("%s rcode %s", srv, dns.RcodeToString[resp.Rcode])
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%s: %v: %w", host, lastErr, ErrTimeout)
}
