// Package metrics 提供转换任务与外部调用的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder 指标记录器；nil Recorder 的所有方法均为空操作
type Recorder struct {
	jobsTotal       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	rowsTotal       *prometheus.CounterVec
	llmCallsTotal   *prometheus.CounterVec
	llmCallDuration prometheus.Histogram
	llmRetries      prometheus.Counter
	cacheHits       prometheus.Counter
}

// NewRecorder 在给定 Registerer 上注册指标（测试可传入独立的 Registry）
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomflow_jobs_total",
				Help: "Conversion jobs by terminal state",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bomflow_job_duration_seconds",
				Help:    "Wall time of conversion jobs",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		rowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomflow_rows_total",
				Help: "BOM rows by outcome (converted, failed, dropped)",
			},
			[]string{"outcome"},
		),
		llmCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bomflow_llm_calls_total",
				Help: "External completion calls by status",
			},
			[]string{"status"},
		),
		llmCallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bomflow_llm_call_duration_seconds",
				Help:    "Duration of external completion calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		llmRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bomflow_llm_retries_total",
				Help: "Retries issued after failed completion calls",
			},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bomflow_cache_hits_total",
				Help: "Rows classified from the classification cache",
			},
		),
	}
}

// RecordJob 记录任务终止状态与耗时
func (r *Recorder) RecordJob(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.jobsTotal.WithLabelValues(status).Inc()
	r.jobDuration.Observe(d.Seconds())
}

// RecordRows 记录行结果
func (r *Recorder) RecordRows(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordCall 记录一次外部调用
func (r *Recorder) RecordCall(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.llmCallsTotal.WithLabelValues(status).Inc()
	r.llmCallDuration.Observe(d.Seconds())
}

// RecordRetry 记录一次重试
func (r *Recorder) RecordRetry() {
	if r == nil {
		return
	}
	r.llmRetries.Inc()
}

// RecordCacheHit 记录缓存命中
func (r *Recorder) RecordCacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}
