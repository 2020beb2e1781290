// Package app 按配置装配转换所需的组件，供命令行与 HTTP 服务共用
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"bomflow/internal/classifier"
	"bomflow/internal/config"
	"bomflow/internal/exporter"
	"bomflow/internal/merger"
	"bomflow/internal/metrics"
	"bomflow/internal/pipeline"
	"bomflow/internal/storage"
	"bomflow/internal/store"
)

// Options 装配选项
type Options struct {
	// JobLog 是否打开 sqlite 任务记录
	JobLog bool
	// Completer 非空时替代配置中的补全服务（测试用）
	Completer classifier.Completer
}

// App 已装配的组件
type App struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	DataDir     string
	Registry    *prometheus.Registry
	Recorder    *metrics.Recorder
	Store       *store.Store
	Cache       *classifier.Cache
	Classifier  *classifier.Classifier
	Coordinator *pipeline.Coordinator
	Source      *storage.Source
	Provider    string
}

// New 按配置装配组件
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DataDir:  dataDir,
		Registry: reg,
		Recorder: recorder,
	}

	if opts.JobLog {
		st, err := store.New(filepath.Join(dataDir, "bomflow.db"))
		if err != nil {
			return nil, fmt.Errorf("open job log: %w", err)
		}
		a.Store = st
	}

	completer := opts.Completer
	if completer == nil {
		completer, err = classifier.NewCompleter(ctx, cfg.Classifier)
		if err != nil {
			// 缺少密钥等情况下退回仅规则分类，未命中的行记为失败
			logger.Warn("completion service unavailable", zap.String("provider", cfg.Classifier.Provider), zap.Error(err))
			completer = nil
		}
	}
	if completer != nil {
		a.Provider = completer.Name()
	} else {
		logger.Warn("no completion service configured, rows without a rule match will fail")
	}

	source, err := storage.NewSource(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Source = source

	a.Cache = classifier.NewCache(cfg.Classifier.CacheTTL.Std())
	a.Classifier = classifier.New(
		classifier.NewRules(cfg.Rules),
		completer,
		a.Cache,
		classifier.OptionsFromConfig(cfg.Classifier),
		logger.Named("classifier"),
		recorder,
	)

	tmpl := exporter.DefaultTemplate()
	if cfg.Excel.Sheet != "" {
		tmpl = tmpl.WithLayout(cfg.Excel.Sheet, cfg.Excel.HeaderRow, cfg.Excel.DataStartRow)
	}
	a.Coordinator = pipeline.NewCoordinator(a.Classifier, merger.New(merger.OptionsFromRules(cfg.Rules)), pipeline.Options{
		Template:     tmpl,
		TemplatePath: cfg.Excel.TemplatePath,
		Delimiters:   cfg.Rules.Delimiters,
		Source:       source,
		Store:        a.Store,
		Recorder:     recorder,
		Logger:       logger.Named("pipeline"),
		WorkDir:      filepath.Join(dataDir, "uploads"),
	})
	return a, nil
}

// PruneJobLog 按 [data] job_retention 清理过期任务记录
func (a *App) PruneJobLog(now time.Time) (int64, error) {
	retention := a.Config.Data.JobRetention.Std()
	if a.Store == nil || retention <= 0 {
		return 0, nil
	}
	n, err := a.Store.DeleteJobsBefore(now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune job log: %w", err)
	}
	if n > 0 {
		a.Logger.Info("job log pruned", zap.Int64("deleted", n), zap.Duration("retention", retention))
	}
	return n, nil
}

// Close 释放资源
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("close job log", zap.Error(err))
		}
		a.Store = nil
	}
}
