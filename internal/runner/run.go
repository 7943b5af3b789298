package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"deepx/internal/alive"
	"deepx/internal/analysis"
	"deepx/internal/brute"
	"deepx/internal/cache"
	"deepx/internal/collector"
	"deepx/internal/config"
	"deepx/internal/database"
	"deepx/internal/dictionary"
	"deepx/internal/exporter"
	"deepx/internal/loader"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/query"
	"deepx/internal/util"
)

// Runner 串联各子命令的流程，每个方法对应一个子命令
type Runner struct {
	cfg  *config.Config
	log  logger.Logger
	http *http.Client
	now  func() time.Time

	resolver   brute.Resolver
	collectors []collector.Collector
	queryOpts  []query.Option
	aliveHTTP  *http.Client
}

// Option 配置 Runner，测试时替换外部依赖
type Option func(*Runner)

func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithResolver 替换爆破使用的 DNS 解析器
func WithResolver(res brute.Resolver) Option {
	return func(r *Runner) { r.resolver = res }
}

// WithCollectors 直接指定被动数据源，忽略注册表
func WithCollectors(cs ...collector.Collector) Option {
	return func(r *Runner) { r.collectors = cs }
}

// WithQueryOptions 传给 FOFA 客户端的选项
func WithQueryOptions(opts ...query.Option) Option {
	return func(r *Runner) { r.queryOpts = opts }
}

// WithAliveClient 替换测活使用的 HTTP 客户端
func WithAliveClient(c *http.Client) Option {
	return func(r *Runner) { r.aliveHTTP = c }
}

// New 创建 Runner
func New(cfg *config.Config, log logger.Logger, opts ...Option) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Collectors.Timeout},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CollectOptions collect 子命令参数
type CollectOptions struct {
	Output     string   // 被动收集结果文件，为空时按时间戳生成
	Collectors []string // 为空时使用配置中的数据源
	NoBrute    bool
}

// AllOptions all 子命令参数
type AllOptions struct {
	CollectOptions
	FofaKey string
	Alive   bool
}

// AliveOptions alive 子命令参数
type AliveOptions struct {
	Input  string // 为空时取输出目录中最新的 hidden/total 文件
	Target string // hidden 或 total
}

func (r *Runner) target(domain string) (string, error) {
	target := util.NormalizeDomain(domain)
	if !util.IsValidDomain(target) {
		return "", fmt.Errorf("无效的域名: %s", domain)
	}
	return target, nil
}

func (r *Runner) store() *cache.Store {
	return cache.NewStore(r.cfg.Cache, r.log)
}

func (r *Runner) dictionary() *dictionary.Dictionary {
	return dictionary.New(r.cfg.Dictionary.File, r.cfg.Dictionary.MultiLevel, r.log)
}

func (r *Runner) buildCollectors(names []string) ([]collector.Collector, error) {
	if r.collectors != nil {
		return r.collectors, nil
	}
	if len(names) == 0 {
		names = r.cfg.Collectors.Enabled
	}
	return collector.Build(names, collector.Deps{Config: r.cfg, HTTP: r.http, Log: r.log})
}

// Collect 被动收集（可选字典爆破），命中缓存时直接使用缓存
func (r *Runner) Collect(ctx context.Context, domain string, opts CollectOptions) (map[model.Category]model.DomainSet, error) {
	target, err := r.target(domain)
	if err != nil {
		return nil, err
	}
	paths := r.cfg.RunPaths(target, r.now())
	if opts.Output != "" {
		paths.Deep = opts.Output
	}
	sets, cached, err := r.collect(ctx, target, opts, false)
	if err != nil {
		return nil, err
	}
	if !cached {
		r.saveSnapshot(target, sets)
	}
	r.updateDictionary(target, sets)
	r.writeSets(target, paths, sets, model.CategoryDeep, model.CategoryBrute)
	return sets, nil
}

// collect 返回各类别的集合及是否来自缓存，withFofa 为 true 时缓存中的 FOFA 结果一并返回
func (r *Runner) collect(ctx context.Context, target string, opts CollectOptions, withFofa bool) (map[model.Category]model.DomainSet, bool, error) {
	store := r.store()
	if store.HasValidCache(target) {
		if cached, ok := store.GetCachedDomains(target); ok {
			r.log.Module("缓存命中模块 - 使用缓存数据")
			if !withFofa {
				cached[model.CategoryFofa] = model.NewDomainSet()
			}
			r.log.Success("[Cache] deep: %d, fofa: %d, brute: %d",
				cached[model.CategoryDeep].Len(), cached[model.CategoryFofa].Len(), cached[model.CategoryBrute].Len())
			return cached, true, nil
		}
	}

	collectors, err := r.buildCollectors(opts.Collectors)
	if err != nil {
		return nil, false, err
	}
	r.log.Module("开始模块 - 收集子域名: " + target)
	res := collector.NewSet(r.log, collectors...).Run(ctx, target)
	for name, n := range res.Counts {
		r.log.Debug("[%s] %d 个域名", name, n)
	}

	sets := map[model.Category]model.DomainSet{
		model.CategoryDeep:  res.Domains,
		model.CategoryFofa:  model.NewDomainSet(),
		model.CategoryBrute: model.NewDomainSet(),
	}
	if r.cfg.Brute.Enabled && !opts.NoBrute {
		sets[model.CategoryBrute] = r.brute(ctx, target)
	}
	r.log.Success("总共收集到 %d 个唯一域名", sets[model.CategoryDeep].Union(sets[model.CategoryBrute]).Len())
	return sets, false, nil
}

func (r *Runner) brute(ctx context.Context, target string) model.DomainSet {
	r.log.Module("爆破模块 - 爆破子域名: " + target)
	b := brute.New(r.cfg.Brute, r.resolver, r.log)
	return b.RunDictionary(ctx, target, r.dictionary())
}

func (r *Runner) fofa(ctx context.Context, target, key string) model.DomainSet {
	cfg := r.cfg.Fofa
	if key != "" {
		cfg.APIKey = key
	}
	r.log.Module("FOFA模块 - 收集子域名: " + target)
	return query.NewFofaClient(cfg, nil, r.log, r.queryOpts...).Collect(ctx, target)
}

// Fofa 仅查询 FOFA
func (r *Runner) Fofa(ctx context.Context, domain, key, output string) (model.DomainSet, error) {
	target, err := r.target(domain)
	if err != nil {
		return nil, err
	}
	paths := r.cfg.RunPaths(target, r.now())
	if output != "" {
		paths.Fofa = output
	}
	set := r.fofa(ctx, target, key)
	r.writeSets(target, paths, map[model.Category]model.DomainSet{model.CategoryFofa: set}, model.CategoryFofa)
	return set, nil
}

// Brute 仅使用字典爆破
func (r *Runner) Brute(ctx context.Context, domain, output string) (model.DomainSet, error) {
	target, err := r.target(domain)
	if err != nil {
		return nil, err
	}
	paths := r.cfg.RunPaths(target, r.now())
	if output != "" {
		paths.Brute = output
	}
	set := r.brute(ctx, target)
	r.writeSets(target, paths, map[model.Category]model.DomainSet{model.CategoryBrute: set}, model.CategoryBrute)
	return set, nil
}

// Compare 对比结果文件，未指定的输入取输出目录中该域名最新的文件
func (r *Runner) Compare(domain string, files analysis.Files) (model.Comparison, error) {
	target, err := r.target(domain)
	if err != nil {
		return model.Comparison{}, err
	}
	paths := r.cfg.RunPaths(target, r.now())
	dir := r.cfg.Output.Dir
	if files.Deep == "" {
		files.Deep = util.LatestResultFile(dir, "deep", target)
	}
	if files.Fofa == "" {
		files.Fofa = util.LatestResultFile(dir, "fofa", target)
	}
	if files.Brute == "" {
		files.Brute = util.LatestResultFile(dir, "brute", target)
	}
	if files.Hidden == "" {
		files.Hidden = paths.Hidden
	}
	if files.Total == "" {
		files.Total = paths.Total
	}
	return r.compare(target, files), nil
}

func (r *Runner) compare(target string, files analysis.Files) model.Comparison {
	result := analysis.NewComparator(r.log).Run(files)
	r.withDB(func(db *sql.DB) error {
		return database.MarkHidden(db, target, result.Hidden)
	})
	return result
}

// Alive 对 hidden 或 total 结果测活
func (r *Runner) Alive(ctx context.Context, domain string, opts AliveOptions) ([]model.AliveResult, error) {
	target, err := r.target(domain)
	if err != nil {
		return nil, err
	}
	kind := opts.Target
	if kind == "" {
		kind = "hidden"
	}
	if kind != "hidden" && kind != "total" {
		return nil, fmt.Errorf("--target 只能是 hidden 或 total: %s", kind)
	}
	input := opts.Input
	if input == "" {
		input = util.LatestResultFile(r.cfg.Output.Dir, kind, target)
	}
	if input == "" {
		r.log.Error("未找到 %s 的 %s 结果文件，请先执行 compare", target, kind)
		return nil, nil
	}
	domains, err := loader.ReadDomainFile(input)
	if err != nil {
		r.log.Error("读取 %s 失败: %v", input, err)
		return nil, nil
	}
	r.log.Info("从 %s 读取到 %d 个域名", input, domains.Len())
	return r.alive(ctx, target, r.cfg.RunPaths(target, r.now()), domains), nil
}

func (r *Runner) alive(ctx context.Context, target string, paths config.Paths, domains model.DomainSet) []model.AliveResult {
	if domains.Len() == 0 {
		r.log.Info("没有域名需要测活")
		return nil
	}
	checker := alive.NewChecker(r.cfg.Alive, r.aliveHTTP, r.cfg.HTTP.UserAgent, r.log)
	results := checker.CheckAll(ctx, domains.Sorted())

	aliveSet, deadSet := alive.Partition(results)
	r.writeFile("存活域名", paths.Alive, aliveSet.Sorted())
	r.writeFile("失活域名", paths.Dead, deadSet.Sorted())
	r.writeFile("测活报告", paths.AliveReport, alive.ReportLines(results))

	if path, err := r.store().SaveAliveResults(target, results); err != nil {
		r.log.Error("[Cache] 缓存测活结果失败: %v", err)
	} else if path != "" {
		r.log.Success("[Cache] 测活结果已缓存到 %s", path)
	}
	r.withDB(func(db *sql.DB) error {
		return database.SaveAlive(db, target, results, r.now())
	})
	return results
}

// All 完整流程：收集、FOFA、对比，可选测活
func (r *Runner) All(ctx context.Context, domain string, opts AllOptions) (model.Comparison, error) {
	target, err := r.target(domain)
	if err != nil {
		return model.Comparison{}, err
	}
	paths := r.cfg.RunPaths(target, r.now())
	if opts.Output != "" {
		paths.Deep = opts.Output
	}
	r.log.Info("开始执行完整流程: %s", target)
	r.log.Debug("本次运行文件: deep=%s fofa=%s brute=%s hidden=%s total=%s",
		paths.Deep, paths.Fofa, paths.Brute, paths.Hidden, paths.Total)

	sets, cached, err := r.collect(ctx, target, opts.CollectOptions, true)
	if err != nil {
		return model.Comparison{}, err
	}
	// collect 写入的快照不含 FOFA 结果，此时仍需查询
	if !cached || sets[model.CategoryFofa].Len() == 0 {
		sets[model.CategoryFofa] = r.fofa(ctx, target, opts.FofaKey)
		r.saveSnapshot(target, sets)
	}
	r.updateDictionary(target, sets)
	r.writeSets(target, paths, sets, model.Categories()...)

	r.log.Info("开始比较分析结果...")
	result := r.compare(target, analysis.Files{
		Deep:   paths.Deep,
		Fofa:   paths.Fofa,
		Brute:  paths.Brute,
		Hidden: paths.Hidden,
		Total:  paths.Total,
	})

	if opts.Alive {
		results := r.alive(ctx, target, paths, result.Total)
		aliveSet, _ := alive.Partition(results)
		r.log.Success("隐藏资产存活 %d/%d 个", aliveSet.Intersect(result.Hidden).Len(), result.Hidden.Len())
	}
	r.log.Success("完整流程执行完成: %s", target)
	return result, nil
}

// Clean 清理过期缓存
func (r *Runner) Clean() int {
	r.log.Module("缓存清理")
	n := r.store().CleanExpiredCache()
	r.log.Success("[Cache] 清理了 %d 个过期缓存文件", n)
	return n
}

// Export 将资产库导出为 CSV，domain 为空时导出全部
func (r *Runner) Export(domain, output string) (string, error) {
	target := ""
	if domain != "" {
		t, err := r.target(domain)
		if err != nil {
			return "", err
		}
		target = t
	}
	if _, err := os.Stat(r.cfg.Database.Path); err != nil {
		return "", fmt.Errorf("资产库不可用: %w", err)
	}
	db, err := database.InitDB(r.cfg.Database.Path)
	if err != nil {
		return "", fmt.Errorf("数据库初始化失败: %w", err)
	}
	defer db.Close()

	assets, err := database.ListAssets(db, target)
	if err != nil {
		return "", fmt.Errorf("读取资产失败: %w", err)
	}
	if output == "" {
		name := target
		if name == "" {
			name = "all"
		}
		output = r.cfg.RunPaths(name, r.now()).CSV
	}
	if err := exporter.ExportAssetsToCSV(assets, output); err != nil {
		return "", fmt.Errorf("导出csv失败: %w", err)
	}
	if sum, err := database.Summarize(db, target); err == nil {
		r.log.Info("资产 %d 个，隐藏 %d 个，存活 %d 个", sum.Total, sum.Hidden, sum.Alive)
	}
	r.log.Success("已导出 %d 条资产到: %s", len(assets), output)
	return output, nil
}

func (r *Runner) saveSnapshot(target string, sets map[model.Category]model.DomainSet) {
	if _, err := r.store().SaveDomainsToCache(target, sets); err != nil {
		r.log.Error("[Cache] 保存缓存失败: %v", err)
	}
}

func (r *Runner) updateDictionary(target string, sets map[model.Category]model.DomainSet) {
	all := model.NewDomainSet()
	for _, s := range sets {
		all.AddAll(s)
	}
	if _, err := r.dictionary().Update(target, all); err != nil {
		r.log.Error("[Dict] 更新字典失败: %v", err)
	}
}

// writeSets 写出指定类别的结果文件并入库
func (r *Runner) writeSets(target string, paths config.Paths, sets map[model.Category]model.DomainSet, cats ...model.Category) {
	files := map[model.Category]string{
		model.CategoryDeep:  paths.Deep,
		model.CategoryFofa:  paths.Fofa,
		model.CategoryBrute: paths.Brute,
	}
	for _, cat := range cats {
		set, ok := sets[cat]
		if !ok {
			continue
		}
		r.writeFile(string(cat)+" 结果", files[cat], set.Sorted())
	}
	r.withDB(func(db *sql.DB) error {
		for _, cat := range cats {
			if set := sets[cat]; set.Len() > 0 {
				if err := database.SaveDomains(db, target, string(cat), set, r.now()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *Runner) writeFile(what, path string, lines []string) {
	if err := exporter.WriteLines(path, lines); err != nil {
		r.log.Error("保存%s失败: %v", what, err)
		return
	}
	r.log.Success("%s已保存到 %s (%d 条)", what, path, len(lines))
}

// withDB 资产库启用时执行 fn，失败只记录日志
func (r *Runner) withDB(fn func(db *sql.DB) error) {
	if !r.cfg.Database.Enabled {
		return
	}
	db, err := database.InitDB(r.cfg.Database.Path)
	if err != nil {
		r.log.Error("数据库初始化失败: %v", err)
		return
	}
	defer db.Close()
	if err := fn(db); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("写入资产库失败: %v", err)
	}
}
