package util

import (
	"net"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// 域名匹配正则（RFC 1035 简化版）
	domainRegexp = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-_]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z0-9\-]{2,}$`)

	// 从 URL 或 host 中截取主机部分
	hostRegexp = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9+.\-]*://)?([^/:?#\s]+)`)
)

// NormalizeDomain 统一域名格式：去空白、去末尾点、小写、IDN 转 punycode
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(raw)
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "*.")
	if d == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(d); err == nil {
		d = ascii
	}
	return strings.ToLower(d)
}

// IsValidDomain 验证是否为合法域名（排除 IP）
func IsValidDomain(domain string) bool {
	domain = strings.TrimSpace(domain)
	if domain == "" || len(domain) > 253 {
		return false
	}
	if net.ParseIP(domain) != nil {
		return false
	}
	return domainRegexp.MatchString(domain)
}

// InScope 判断 host 是否等于目标域名或为其子域名
func InScope(host, target string) bool {
	h := NormalizeDomain(host)
	t := NormalizeDomain(target)
	if h == "" || t == "" {
		return false
	}
	return h == t || strings.HasSuffix(h, "."+t)
}

// ExtractHost 从 URL 或 host:port 中提取小写主机名
func ExtractHost(urlOrHost string) string {
	m := hostRegexp.FindStringSubmatch(strings.TrimSpace(urlOrHost))
	if len(m) < 2 {
		return ""
	}
	host := m[1]
	// user@host 形式
	if at := strings.LastIndex(host, "@"); at != -1 {
		host = host[at+1:]
	}
	return NormalizeDomain(host)
}
