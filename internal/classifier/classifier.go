package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bomflow/internal/config"
	"bomflow/internal/metrics"
	"bomflow/internal/model"
)

// Options 分类器参数
type Options struct {
	Workers           int
	RequestsPerMinute int // <=0 不限速
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	CallTimeout       time.Duration
}

// OptionsFromConfig 从配置生成参数
func OptionsFromConfig(cfg config.ClassifierConfig) Options {
	return Options{
		Workers:           cfg.Workers,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    cfg.InitialBackoff.Std(),
		MaxBackoff:        cfg.MaxBackoff.Std(),
		CallTimeout:       cfg.CallTimeout.Std(),
	}
}

// Classifier 字段分类器：确定性规则优先，未命中再调用外部补全服务
type Classifier struct {
	rules     *Rules
	completer Completer
	cache     *Cache
	limiter   *rate.Limiter
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Recorder
	calls     atomic.Int64

	// 退避随机源，测试可固定
	rand func() float64
}

// New 创建分类器；completer/cache/recorder 可为 nil
func New(rules *Rules, completer Completer, cache *Cache, opts Options, logger *zap.Logger, recorder *metrics.Recorder) *Classifier {
	if rules == nil {
		rules = NewRules(config.DefaultRules())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60)
	}

	return &Classifier{
		rules:     rules,
		completer: completer,
		cache:     cache,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		logger:    logger,
		metrics:   recorder,
	}
}

// Cache 分类器使用的缓存
func (c *Classifier) Cache() *Cache {
	return c.cache
}

// Calls 累计外部调用次数
func (c *Classifier) Calls() int64 {
	return c.calls.Load()
}

// Result 批量分类结果（均按输入顺序）
type Result struct {
	Rows     []model.ClassifiedRow
	Failures []model.ClassificationFailure
	Calls    int64 // 本批外部调用次数
}

// FailedCount 失败行数
func (r Result) FailedCount() int {
	return len(r.Failures)
}

// Classify 分类单行
func (c *Classifier) Classify(ctx context.Context, row model.BOMRow) (model.ClassifiedRow, *model.ClassificationFailure) {
	var calls atomic.Int64
	return c.classify(ctx, ctx, row, &calls)
}

// ClassifyAll 有界并发分类整批数据
//
// 取消后不再启动新行；已发出的调用在脱离取消的上下文上完成，结果丢弃并返回 ctx.Err()。
// onRow 可为 nil，会被并发调用。
func (c *Classifier) ClassifyAll(ctx context.Context, rows []model.BOMRow, onRow func(done, total int)) (Result, error) {
	type outcome struct {
		row     model.ClassifiedRow
		failure *model.ClassificationFailure
	}

	outcomes := make([]outcome, len(rows))
	detached := context.WithoutCancel(ctx)
	var (
		calls atomic.Int64
		done  atomic.Int64
		g     errgroup.Group
	)
	g.SetLimit(c.opts.Workers)

	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r, f := c.classify(ctx, detached, row, &calls)
			outcomes[i] = outcome{row: r, failure: f}
			n := done.Add(1)
			if onRow != nil {
				onRow(int(n), len(rows))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{Calls: calls.Load()}, err
	}

	res := Result{
		Rows:  make([]model.ClassifiedRow, 0, len(rows)),
		Calls: calls.Load(),
	}
	for _, o := range outcomes {
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			continue
		}
		res.Rows = append(res.Rows, o.row)
	}
	return res, nil
}

// classify parent 用于限速等待与重试间隔（取消即停止重试），callCtx 用于实际调用
func (c *Classifier) classify(parent, callCtx context.Context, row model.BOMRow, calls *atomic.Int64) (model.ClassifiedRow, *model.ClassificationFailure) {
	out := c.newClassifiedRow(row)

	if t, ok := c.rules.Match(row); ok {
		out.ComponentType = t
		out.CanonicalPartNumber = CanonicalPartNumber(row.RawPartNumber)
		out.Source = model.SourceRule
		return out, nil
	}

	key := CacheKey(row)
	if entry, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheHit()
		out.ComponentType = entry.ComponentType
		out.CanonicalPartNumber = entry.CanonicalPartNumber
		out.Source = model.SourceCache
		return out, nil
	}

	if c.completer == nil {
		return out, &model.ClassificationFailure{
			LineNumber: row.LineNumber,
			Reason:     "no rule matched and no completion service configured",
		}
	}

	backoff := NewBackoff(c.opts.MaxAttempts, c.opts.InitialBackoff, c.opts.MaxBackoff)
	if c.rand != nil {
		backoff.Rand = c.rand
	}
	prompt := BuildPrompt(row)

	for {
		if err := c.limiter.Wait(parent); err != nil {
			return out, c.failure(row, backoff.Attempt, fmt.Errorf("cancelled: %w", err))
		}

		t, partNumber, err := c.call(callCtx, prompt, calls)
		if err == nil {
			if partNumber == "" {
				partNumber = CanonicalPartNumber(row.RawPartNumber)
			}
			c.cache.Put(key, CacheEntry{ComponentType: t, CanonicalPartNumber: partNumber})
			out.ComponentType = t
			out.CanonicalPartNumber = partNumber
			out.Source = model.SourceLLM
			return out, nil
		}

		delay, retry := backoff.Next(err)
		if !retry {
			return out, c.failure(row, backoff.Attempt, err)
		}
		c.metrics.RecordRetry()
		c.logger.Warn("classification call failed, retrying",
			zap.Int("line", row.LineNumber),
			zap.Int("attempt", backoff.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleep(parent, delay); err != nil {
			return out, c.failure(row, backoff.Attempt, fmt.Errorf("cancelled: %w", err))
		}
	}
}

func (c *Classifier) call(ctx context.Context, prompt string, calls *atomic.Int64) (model.ComponentType, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	calls.Add(1)
	c.calls.Add(1)
	start := time.Now()

	text, err := c.completer.Complete(ctx, systemPrompt, prompt)
	var t model.ComponentType
	var partNumber string
	if err == nil {
		t, partNumber, err = ParseCompletion(text)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrTimeout) {
		err = model.NewServiceError(model.ErrTimeout, 0, err)
	}
	c.metrics.RecordCall(callStatus(err), time.Since(start))
	return t, partNumber, err
}

func (c *Classifier) failure(row model.BOMRow, attempts int, err error) *model.ClassificationFailure {
	c.logger.Warn("row classification failed",
		zap.Int("line", row.LineNumber),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return &model.ClassificationFailure{
		LineNumber: row.LineNumber,
		Reason:     err.Error(),
		Attempts:   attempts,
	}
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

// newClassifiedRow 按有效位号计算套数与数量核对状态
func (c *Classifier) newClassifiedRow(row model.BOMRow) model.ClassifiedRow {
	n := c.rules.SetCount(row.ReferenceDesignators)
	return model.ClassifiedRow{
		BOMRow:      row,
		SetCount:    n,
		CheckStatus: model.QuantityCheck(n, row.Quantity),
	}
}
