package model

import "sort"

// Category 结果集类别
type Category string

const (
	CategoryDeep  Category = "deep"  // 被动收集
	CategoryFofa  Category = "fofa"  // FOFA 测绘
	CategoryBrute Category = "brute" // 字典爆破
)

// Categories 按固定顺序返回全部类别
func Categories() []Category {
	return []Category{CategoryDeep, CategoryFofa, CategoryBrute}
}

// DomainSet 去重后的域名集合，无序
type DomainSet map[string]struct{}

// NewDomainSet 由若干域名构造集合
func NewDomainSet(domains ...string) DomainSet {
	s := make(DomainSet, len(domains))
	for _, d := range domains {
		s.Add(d)
	}
	return s
}

// Add 加入一个域名，空串忽略
func (s DomainSet) Add(domain string) {
	if domain == "" {
		return
	}
	s[domain] = struct{}{}
}

// AddAll 并入另一个集合
func (s DomainSet) AddAll(other DomainSet) {
	for d := range other {
		s[d] = struct{}{}
	}
}

func (s DomainSet) Has(domain string) bool {
	_, ok := s[domain]
	return ok
}

func (s DomainSet) Len() int {
	return len(s)
}

// Union 返回 s ∪ other，不修改原集合
func (s DomainSet) Union(other DomainSet) DomainSet {
	out := make(DomainSet, len(s)+len(other))
	out.AddAll(s)
	out.AddAll(other)
	return out
}

// Minus 返回 s − other
func (s DomainSet) Minus(other DomainSet) DomainSet {
	out := make(DomainSet)
	for d := range s {
		if !other.Has(d) {
			out[d] = struct{}{}
		}
	}
	return out
}

// Intersect 返回 s ∩ other
func (s DomainSet) Intersect(other DomainSet) DomainSet {
	out := make(DomainSet)
	for d := range s {
		if other.Has(d) {
			out[d] = struct{}{}
		}
	}
	return out
}

// Sorted 按字典序输出
func (s DomainSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Comparison 对比结果：隐藏资产与全部资产
type Comparison struct {
	Hidden DomainSet
	Total  DomainSet
}

// Snapshot 一次完整收集的缓存快照
type Snapshot struct {
	Domain       string   `json:"domain"`
	Timestamp    float64  `json:"timestamp"`
	DeepDomains  []string `json:"deep_domains"`
	FofaDomains  []string `json:"fofa_domains"`
	BruteDomains []string `json:"brute_domains"`
}

// Sets 将快照还原为按类别划分的集合
func (s Snapshot) Sets() map[Category]DomainSet {
	return map[Category]DomainSet{
		CategoryDeep:  NewDomainSet(s.DeepDomains...),
		CategoryFofa:  NewDomainSet(s.FofaDomains...),
		CategoryBrute: NewDomainSet(s.BruteDomains...),
	}
}
