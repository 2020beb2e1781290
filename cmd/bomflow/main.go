package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bomflow/internal/config"
	"bomflow/internal/logging"
)

var version = "dev"

// rootOptions 全局参数
type rootOptions struct {
	configPath string
	logLevel   string
	dataDir    string

	cfg     *config.AppConfig
	cfgInfo config.LoadConfigInfo
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "bomflow",
		Short:         "BOM / 坐标文件归一化工具",
		Long:          "bomflow 读取厂商 BOM 与贴片坐标文件，分类元件、合并坐标，按模板输出归一化 BOM。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件 (默认: 可执行文件同目录 config.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "数据目录，覆盖配置文件")

	cmd.AddCommand(newConvertCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

func (o *rootOptions) init(_ *cobra.Command) error {
	cfg, info, err := config.LoadConfigWithInfo(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.dataDir != "" {
		cfg.Data.DataDir = o.dataDir
	}
	o.cfg = cfg
	o.cfgInfo = info
	o.logger = logging.MustNew(cfg.Logging)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
