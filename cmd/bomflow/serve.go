package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bomflow/internal/app"
	"bomflow/internal/server"
	"bomflow/internal/util"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		port int
		open bool
		dev  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			// config.toml 显式配置的端口优先
			if cmd.Flags().Changed("port") && !root.cfgInfo.PortSpecified {
				cfg.Server.Port = port
			}
			if dev {
				cfg.Server.DevMode = true
			}

			a, err := app.New(cmd.Context(), cfg, root.logger, app.Options{JobLog: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.PruneJobLog(time.Now()); err != nil {
				root.logger.Warn("failed to prune job log", zap.Error(err))
			}

			actual := util.FindAvailablePort(cfg.Server.Port)
			if actual != cfg.Server.Port {
				root.logger.Warn("port in use, switching", zap.Int("configured", cfg.Server.Port), zap.Int("port", actual))
			}
			addr := fmt.Sprintf(":%d", actual)
			url := fmt.Sprintf("http://localhost:%d/api/status", actual)

			root.logger.Info("server starting",
				zap.String("addr", addr),
				zap.String("dataDir", a.DataDir),
				zap.String("provider", a.Provider),
			)
			if open {
				if err := util.OpenBrowserWithFallback(url); err != nil {
					root.logger.Warn("failed to open browser", zap.String("url", url), zap.Error(err))
				}
			}

			err = server.NewServer(a).Run(cmd.Context(), addr)
			root.logger.Info("server stopped")
			return err
		},
	}
	cmd.Flags().IntVar(&port, "port", 20262, "服务端口 (config.toml 未配置 port 时生效)")
	cmd.Flags().BoolVar(&open, "open", false, "启动后打开浏览器")
	cmd.Flags().BoolVar(&dev, "dev", false, "开发模式")
	return cmd
}
