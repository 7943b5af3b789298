package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/util"
)

// aliveDir 存活检测快照子目录
const aliveDir = "alive"

// Store 按目标域名保存带时间戳的结果快照，每次保存生成新文件
type Store struct {
	dir        string
	expireDays int
	enabled    bool
	log        logger.Logger
	now        func() time.Time
}

// Option 可选项
type Option func(*Store)

// WithNow 替换当前时间，测试使用
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建缓存，cfg.Enabled 为 false 时读取总是未命中、写入为空操作
func NewStore(cfg config.CacheConfig, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		dir:        cfg.Dir,
		expireDays: cfg.ExpireDays,
		enabled:    cfg.Enabled,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled 缓存是否启用
func (s *Store) Enabled() bool { return s.enabled }

// Dir 缓存目录
func (s *Store) Dir() string { return s.dir }

type snapshotFile struct {
	path string
	at   time.Time
	seq  int
}

// parseName 解析 <domain>_<YYYYMMDD>_<HHMMSS>[_<seq>].json
func parseName(name, domain string) (time.Time, int, bool) {
	prefix := domain + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
		return time.Time{}, 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
	if len(rest) < len(util.TimestampLayout) {
		return time.Time{}, 0, false
	}
	at, err := time.ParseInLocation(util.TimestampLayout, rest[:len(util.TimestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, 0, false
	}
	seq := 0
	if extra := rest[len(util.TimestampLayout):]; extra != "" {
		if !strings.HasPrefix(extra, "_") {
			return time.Time{}, 0, false
		}
		n, err := strconv.Atoi(extra[1:])
		if err != nil || n < 0 {
			return time.Time{}, 0, false
		}
		seq = n
	}
	return at, seq, true
}

// snapshots 按时间从旧到新列出 dir 中某域名的快照文件
func snapshots(dir, domain string) []snapshotFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []snapshotFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		at, seq, ok := parseName(e.Name(), domain)
		if !ok {
			continue
		}
		out = append(out, snapshotFile{path: filepath.Join(dir, e.Name()), at: at, seq: seq})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func readSnapshot(path string) (model.Snapshot, error) {
	var snap model.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("解析缓存文件 %s 失败: %w", path, err)
	}
	return snap, nil
}

func (s *Store) latest(domain string) (model.Snapshot, string, bool) {
	files := snapshots(s.dir, domain)
	if len(files) == 0 {
		return model.Snapshot{}, "", false
	}
	path := files[len(files)-1].path
	snap, err := readSnapshot(path)
	if err != nil {
		s.log.Warn("[Cache] 缓存文件不可用: %v", err)
		return model.Snapshot{}, path, false
	}
	return snap, path, true
}

func (s *Store) fresh(ts float64) bool {
	age := float64(s.now().UnixNano())/float64(time.Second) - ts
	return age <= float64(s.expireDays)*86400
}

// HasValidCache 最新快照存在、可解析且未过期
func (s *Store) HasValidCache(domain string) bool {
	if !s.enabled {
		return false
	}
	snap, _, ok := s.latest(domain)
	if !ok {
		return false
	}
	return s.fresh(snap.Timestamp)
}

// GetCachedDomains 读取最新快照中的各类结果
func (s *Store) GetCachedDomains(domain string) (map[model.Category]model.DomainSet, bool) {
	if !s.enabled {
		return nil, false
	}
	snap, path, ok := s.latest(domain)
	if !ok {
		return nil, false
	}
	s.log.Info("[Cache] 使用缓存: %s", path)
	return snap.Sets(), true
}

// SaveDomainsToCache 保存一次收集结果，返回新快照路径
func (s *Store) SaveDomainsToCache(domain string, sets map[model.Category]model.DomainSet) (string, error) {
	if !s.enabled {
		return "", nil
	}
	now := s.now()
	snap := model.Snapshot{
		Domain:       domain,
		Timestamp:    float64(now.UnixNano()) / float64(time.Second),
		DeepDomains:  sortedOrEmpty(sets[model.CategoryDeep]),
		FofaDomains:  sortedOrEmpty(sets[model.CategoryFofa]),
		BruteDomains: sortedOrEmpty(sets[model.CategoryBrute]),
	}
	path, err := writeNew(s.dir, domain, now, snap)
	if err != nil {
		return "", err
	}
	s.log.Success("[Cache] 结果已缓存: %s", path)
	return path, nil
}

// SaveAliveResults 保存存活检测结果
func (s *Store) SaveAliveResults(domain string, results []model.AliveResult) (string, error) {
	if !s.enabled {
		return "", nil
	}
	now := s.now()
	snap := model.AliveSnapshot{
		Domain:    domain,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Results:   results,
	}
	if snap.Results == nil {
		snap.Results = []model.AliveResult{}
	}
	return writeNew(filepath.Join(s.dir, aliveDir), domain, now, snap)
}

func sortedOrEmpty(set model.DomainSet) []string {
	if set == nil {
		return []string{}
	}
	return set.Sorted()
}

// writeNew 写入新快照文件，同一秒内重复保存时追加序号
func writeNew(dir, domain string, now time.Time, v any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建缓存目录失败: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化缓存失败: %w", err)
	}
	stamp := now.Format(util.TimestampLayout)
	for seq := 0; ; seq++ {
		name := fmt.Sprintf("%s_%s.json", domain, stamp)
		if seq > 0 {
			name = fmt.Sprintf("%s_%s_%d.json", domain, stamp, seq)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("创建缓存文件失败: %w", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil {
			return "", fmt.Errorf("写入缓存文件失败: %w", werr)
		}
		if cerr != nil {
			return "", fmt.Errorf("写入缓存文件失败: %w", cerr)
		}
		return path, nil
	}
}

type timestamped struct {
	Timestamp *float64 `json:"timestamp"`
}

// CleanExpiredCache 删除过期或无法解析的快照，返回删除数量
func (s *Store) CleanExpiredCache() int {
	removed := 0
	for _, dir := range []string{s.dir, filepath.Join(s.dir, aliveDir)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !s.expired(path) {
				continue
			}
			if err := os.Remove(path); err != nil {
				s.log.Error("[Cache] 删除缓存文件失败: %s: %v", path, err)
				continue
			}
			removed++
			s.log.Debug("[Cache] 已删除过期缓存: %s", path)
		}
	}
	if removed > 0 {
		s.log.Info("[Cache] 清理过期缓存 %d 个", removed)
	}
	return removed
}

func (s *Store) expired(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	var ts timestamped
	if err := json.Unmarshal(data, &ts); err != nil || ts.Timestamp == nil {
		return true
	}
	return !s.fresh(*ts.Timestamp)
}
