package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"deepx/internal/util"
)

// SearchAPIConfig 空间测绘平台（FOFA/Hunter/Quake）通用配置
type SearchAPIConfig struct {
	APIURL             string        `yaml:"api_url"`
	APIKey             string        `yaml:"api_key"`
	PageSize           int           `yaml:"page_size"`
	MaxPages           int           `yaml:"max_pages"`
	MaxConcurrent      int           `yaml:"max_concurrent"`
	RetryCount         int           `yaml:"retry_count"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	BackoffFactor      float64       `yaml:"backoff_factor"`
	BaseWait           time.Duration `yaml:"base_wait"`
	PageInterval       time.Duration `yaml:"page_interval"`
	PageIntervalGrowth float64       `yaml:"page_interval_growth"`
	MaxCooldown        time.Duration `yaml:"max_cooldown"`
	Timeout            time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type CollectorsConfig struct {
	Enabled    []string      `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	ExpireDays int    `yaml:"expire_days"`
}

type DictionaryConfig struct {
	File       string `yaml:"file"`
	MultiLevel bool   `yaml:"multi_level"`
}

type BruteConfig struct {
	Enabled      bool          `yaml:"enabled"`
	RateLimit    int           `yaml:"rate_limit"`
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	Tries        int           `yaml:"tries"`
	Nameservers  []string      `yaml:"nameservers"`
	SmartAdjust  bool          `yaml:"smart_adjust"`
	ShowProgress bool          `yaml:"show_progress"`
}

type AliveConfig struct {
	Protocols       []string      `yaml:"protocols"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRedirects    int           `yaml:"max_redirects"`
	BatchSize       int           `yaml:"batch_size"`
	BatchPause      time.Duration `yaml:"batch_pause"`
	ConnectionLimit int           `yaml:"connection_limit"`
	RateLimit       float64       `yaml:"rate_limit"`
	CheckTitle      bool          `yaml:"check_title"`
	BodyLimit       int64         `yaml:"body_limit"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config 全局配置，启动时加载一次后以值传递给各模块
type Config struct {
	Fofa       SearchAPIConfig  `yaml:"fofa"`
	Hunter     SearchAPIConfig  `yaml:"hunter"`
	Quake      SearchAPIConfig  `yaml:"quake"`
	HTTP       HTTPConfig       `yaml:"http"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Cache      CacheConfig      `yaml:"cache"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Brute      BruteConfig      `yaml:"brute"`
	Alive      AliveConfig      `yaml:"alive"`
	Output     OutputConfig     `yaml:"output"`
	Database   DatabaseConfig   `yaml:"database"`
}

// DefaultUserAgent 默认请求头
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"

// DefaultNameservers 爆破使用的公共 DNS
var DefaultNameservers = []string{
	"8.8.8.8", "8.8.4.4",
	"1.1.1.1", "1.0.0.1",
	"9.9.9.9", "149.112.112.112",
}

func searchDefaults(apiURL string, pageSize int) SearchAPIConfig {
	return SearchAPIConfig{
		APIURL:             apiURL,
		PageSize:           pageSize,
		MaxPages:           3,
		MaxConcurrent:      1,
		RetryCount:         5,
		RetryDelay:         5 * time.Second,
		BackoffFactor:      2,
		BaseWait:           2 * time.Second,
		PageInterval:       2 * time.Second,
		PageIntervalGrowth: 0.5,
		MaxCooldown:        300 * time.Second,
		Timeout:            30 * time.Second,
	}
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Fofa:   searchDefaults("https://fofa.info/api/v1/search/all", 100),
		Hunter: searchDefaults("https://hunter.qianxin.com/openApi/search", 100),
		Quake:  searchDefaults("https://quake.360.net/api/v3/search/quake_service", 100),
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: DefaultUserAgent,
		},
		Collectors: CollectorsConfig{
			Enabled:    []string{"otx", "crt", "archive"},
			Timeout:    30 * time.Second,
			RetryCount: 2,
			RetryDelay: 2 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Dir:        "cache_data",
			ExpireDays: 3,
		},
		Dictionary: DictionaryConfig{
			File: filepath.Join("data", "subdomain_dict.txt"),
		},
		Brute: BruteConfig{
			Enabled:      true,
			RateLimit:    50,
			Concurrency:  100,
			Timeout:      2 * time.Second,
			Tries:        2,
			Nameservers:  append([]string(nil), DefaultNameservers...),
			SmartAdjust:  true,
			ShowProgress: true,
		},
		Alive: AliveConfig{
			Protocols:       []string{"https", "http"},
			Timeout:         10 * time.Second,
			MaxRedirects:    5,
			BatchSize:       50,
			BatchPause:      50 * time.Millisecond,
			ConnectionLimit: 100,
			CheckTitle:      true,
			BodyLimit:       1 << 20,
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Database: DatabaseConfig{
			Path: filepath.Join("output", "assets.db"),
		},
	}
}

// LoadConfig 读取 YAML 配置，文件不存在时生成带注释的默认配置并继续运行
// 返回 config, created（是否新生成了配置文件）, error
func LoadConfig(path string) (*Config, bool, error) {
	created := false
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := generateDefaultConfig(path); err != nil {
			return nil, false, fmt.Errorf("生成默认配置文件失败: %w", err)
		}
		created = true
		data = []byte(defaultConfigContent)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, created, err
	}
	return cfg, created, nil
}

// Parse 在默认值之上解析 YAML，并应用环境变量
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("FOFA_API_KEY")); v != "" {
		c.Fofa.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("HUNTER_API_KEY")); v != "" {
		c.Hunter.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("QUAKE_API_KEY")); v != "" {
		c.Quake.APIKey = v
	}
}

func (s SearchAPIConfig) validate(name string) error {
	switch {
	case s.PageSize <= 0:
		return fmt.Errorf("%s.page_size 必须大于0", name)
	case s.MaxPages <= 0:
		return fmt.Errorf("%s.max_pages 必须大于0", name)
	case s.MaxConcurrent <= 0:
		return fmt.Errorf("%s.max_concurrent 必须大于0", name)
	case s.RetryCount <= 0:
		return fmt.Errorf("%s.retry_count 必须大于0", name)
	case s.RetryDelay < 0 || s.BaseWait < 0 || s.PageInterval < 0:
		return fmt.Errorf("%s 的等待时间不能为负数", name)
	}
	return nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	for name, s := range map[string]SearchAPIConfig{"fofa": c.Fofa, "hunter": c.Hunter, "quake": c.Quake} {
		if err := s.validate(name); err != nil {
			return err
		}
	}
	if c.Cache.ExpireDays < 0 {
		return errors.New("cache.expire_days 不能为负数")
	}
	if c.Brute.RateLimit <= 0 || c.Brute.Concurrency <= 0 {
		return errors.New("brute.rate_limit 与 brute.concurrency 必须大于0")
	}
	if len(c.Alive.Protocols) == 0 {
		return errors.New("alive.protocols 不能为空")
	}
	for _, p := range c.Alive.Protocols {
		if p != "http" && p != "https" {
			return fmt.Errorf("alive.protocols 不支持的协议: %s", p)
		}
	}
	if c.Alive.BatchSize <= 0 || c.Alive.ConnectionLimit <= 0 {
		return errors.New("alive.batch_size 与 alive.connection_limit 必须大于0")
	}
	if c.Alive.RateLimit < 0 {
		return errors.New("alive.rate_limit 不能为负数")
	}
	return nil
}

// Paths 单次运行的结果文件路径
type Paths struct {
	TaskID      string
	Deep        string
	Fofa        string
	Brute       string
	Hidden      string
	Total       string
	Alive       string
	Dead        string
	AliveReport string
	CSV         string
}

// RunPaths 由目标域名和运行时间生成本次运行的文件路径
func (c *Config) RunPaths(domain string, now time.Time) Paths {
	taskID := util.GenerateTaskID(now)
	file := func(kind string) string {
		return filepath.Join(c.Output.Dir, util.GenerateResultFileName(kind, domain, taskID))
	}
	return Paths{
		TaskID:      taskID,
		Deep:        file("deep"),
		Fofa:        file("fofa"),
		Brute:       file("brute"),
		Hidden:      file("hidden"),
		Total:       file("total"),
		Alive:       file("alive"),
		Dead:        file("dead"),
		AliveReport: file("alive_report"),
		CSV:         filepath.Join(c.Output.Dir, util.GenerateCSVFileName(domain, taskID)),
	}
}

// 带注释的默认配置内容
const defaultConfigContent = `# config.yaml

# FOFA 查询配置（api_key 可用环境变量 FOFA_API_KEY 覆盖）
fofa:
  api_url: "https://fofa.info/api/v1/search/all"
  api_key: ""
  page_size: 100             # 每页条数
  max_pages: 3               # 最多查询页数
  max_concurrent: 1          # 并发页数，1 表示顺序翻页
  retry_count: 5             # 单页最多尝试次数
  retry_delay: 5s            # 重试基础延迟
  backoff_factor: 2          # 指数退避因子
  base_wait: 2s              # 重试附加等待，随页码增长
  page_interval: 2s          # 翻页间隔
  page_interval_growth: 0.5  # 翻页间隔随页码的增长比例
  max_cooldown: 300s         # 429 冷却上限
  timeout: 30s

# Hunter / Quake 为可选数据源，api_key 留空表示不使用
hunter:
  api_key: ""                # 环境变量 HUNTER_API_KEY
quake:
  api_key: ""                # 环境变量 QUAKE_API_KEY

http:
  timeout: 30s

# 被动收集
collectors:
  enabled: ["otx", "crt", "archive"]
  timeout: 30s
  retry_count: 2
  retry_delay: 2s

cache:
  enabled: true
  dir: "cache_data"
  expire_days: 3             # 缓存有效天数

dictionary:
  file: "data/subdomain_dict.txt"
  multi_level: false         # true 时同时提取多级前缀中的各段

brute:
  enabled: true
  rate_limit: 50             # 每秒查询数
  concurrency: 100
  timeout: 2s
  tries: 2
  smart_adjust: true         # 根据成功/超时自动调整速率
  show_progress: true

alive:
  protocols: ["https", "http"]
  timeout: 10s
  max_redirects: 5
  batch_size: 50
  batch_pause: 50ms
  connection_limit: 100
  rate_limit: 0              # 每秒探测数，0 表示不限
  check_title: true

output:
  dir: "output"

# 资产库（sqlite），export 子命令依赖
database:
  enabled: false
  path: "output/assets.db"
`

// generateDefaultConfig 生成默认配置文件
func generateDefaultConfig(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent), 0o644); err != nil {
		return fmt.Errorf("写入默认配置文件失败: %w", err)
	}
	return nil
}
