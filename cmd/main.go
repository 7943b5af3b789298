package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deepx/internal/analysis"
	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/runner"
)

var (
	configPath string
	debug      bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deepx",
		Short: "子域名收集与隐藏资产发现",
		Long: `deepx 从多个被动数据源和 FOFA 收集子域名，结合字典爆破，
找出 FOFA 未收录的隐藏资产并进行存活检测。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "输出调试信息")

	root.AddCommand(
		newCollectCmd(),
		newFofaCmd(),
		newCompareCmd(),
		newBruteCmd(),
		newAliveCmd(),
		newAllCmd(),
		newCleanCmd(),
		newExportCmd(),
	)
	return root
}

// setup 加载配置并创建日志，配置文件不存在时生成默认配置后继续
func setup() (*config.Config, logger.Logger, error) {
	log := logger.NewConsole(debug)
	cfg, created, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("配置加载失败: %w", err)
	}
	if created {
		log.Warn("未找到配置文件，已生成默认配置: %s", configPath)
	}
	log.Debug("已加载配置: %s", configPath)
	return cfg, log, nil
}

// cacheFlags collect 与 all 共用的缓存参数
type cacheFlags struct {
	noCache   bool
	cacheDays int
}

func (f *cacheFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "禁用缓存")
	cmd.Flags().IntVar(&f.cacheDays, "cache-days", 3, "缓存有效天数")
}

func (f *cacheFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	if cmd.Flags().Changed("cache-days") {
		if f.cacheDays < 0 {
			return fmt.Errorf("--cache-days 不能为负数: %d", f.cacheDays)
		}
		cfg.Cache.ExpireDays = f.cacheDays
	}
	return nil
}

func newCollectCmd() *cobra.Command {
	var (
		cache      cacheFlags
		opts       runner.CollectOptions
		collectors []string
	)
	cmd := &cobra.Command{
		Use:   "collect <domain>",
		Short: "从被动数据源收集子域名（可选字典爆破）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cache.apply(cmd, cfg); err != nil {
				return err
			}
			opts.Collectors = collectors
			_, err = runner.New(cfg, log).Collect(cmd.Context(), args[0], opts)
			return err
		},
	}
	cache.bind(cmd)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "结果文件路径")
	cmd.Flags().StringSliceVar(&collectors, "collectors", nil, "使用的数据源，如 otx,crt,archive")
	cmd.Flags().BoolVar(&opts.NoBrute, "no-brute", false, "禁用字典爆破")
	return cmd
}

func newFofaCmd() *cobra.Command {
	var key, output string
	cmd := &cobra.Command{
		Use:   "fofa <domain>",
		Short: "从 FOFA 收集子域名",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			_, err = runner.New(cfg, log).Fofa(cmd.Context(), args[0], key, output)
			return err
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "FOFA API Key，优先于配置文件")
	cmd.Flags().StringVarP(&output, "output", "o", "", "结果文件路径")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var deep, fofa, brute, result, total string
	cmd := &cobra.Command{
		Use:   "compare <domain>",
		Short: "对比结果，找出隐藏资产",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			files := analysis.Files{Deep: deep, Fofa: fofa, Brute: brute, Hidden: result, Total: total}
			_, err = runner.New(cfg, log).Compare(args[0], files)
			return err
		},
	}
	cmd.Flags().StringVar(&deep, "deep-file", "", "被动收集结果文件，默认取最新")
	cmd.Flags().StringVar(&fofa, "fofa-file", "", "FOFA 结果文件，默认取最新")
	cmd.Flags().StringVar(&brute, "brute-file", "", "爆破结果文件，默认取最新")
	cmd.Flags().StringVarP(&result, "result", "r", "", "隐藏资产输出文件")
	cmd.Flags().StringVarP(&total, "total", "t", "", "全部资产输出文件")
	return cmd
}

func newBruteCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "brute <domain>",
		Short: "使用累积的字典爆破子域名",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			_, err = runner.New(cfg, log).Brute(cmd.Context(), args[0], output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "结果文件路径")
	return cmd
}

func newAliveCmd() *cobra.Command {
	var opts runner.AliveOptions
	cmd := &cobra.Command{
		Use:   "alive <domain>",
		Short: "对隐藏资产或全部资产测活",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			_, err = runner.New(cfg, log).Alive(cmd.Context(), args[0], opts)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "待测活的域名文件，默认取最新结果")
	cmd.Flags().StringVar(&opts.Target, "target", "hidden", "未指定 --input 时使用的结果: hidden 或 total")
	return cmd
}

func newAllCmd() *cobra.Command {
	var (
		cache cacheFlags
		opts  runner.AllOptions
	)
	cmd := &cobra.Command{
		Use:   "all <domain>",
		Short: "完整流程：收集、FOFA、对比，可选测活",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if err := cache.apply(cmd, cfg); err != nil {
				return err
			}
			_, err = runner.New(cfg, log).All(cmd.Context(), args[0], opts)
			return err
		},
	}
	cache.bind(cmd)
	cmd.Flags().StringVar(&opts.FofaKey, "key", "", "FOFA API Key，优先于配置文件")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "被动收集结果文件路径")
	cmd.Flags().StringSliceVar(&opts.Collectors, "collectors", nil, "使用的数据源，如 otx,crt,archive")
	cmd.Flags().BoolVar(&opts.NoBrute, "no-brute", false, "禁用字典爆破")
	cmd.Flags().BoolVar(&opts.Alive, "alive", false, "对比后对全部资产测活")
	return cmd
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "清理过期缓存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			runner.New(cfg, log).Clean()
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [domain]",
		Short: "将资产库导出为 CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			domain := ""
			if len(args) == 1 {
				domain = args[0]
			}
			_, err = runner.New(cfg, log).Export(domain, output)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV 输出路径")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[!] %v\n", err)
		stop()
		os.Exit(1)
	}
}
