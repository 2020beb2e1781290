package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordRows("converted", 3)
	r.RecordRows("failed", 1)
	r.RecordRows("dropped", 0)
	r.RecordCall("ok", 20*time.Millisecond)
	r.RecordCall("error", 5*time.Millisecond)
	r.RecordRetry()
	r.RecordJob("done", time.Second)

	if got := testutil.ToFloat64(r.rowsTotal.WithLabelValues("converted")); got != 3 {
		t.Fatalf("converted=%v, want 3", got)
	}
	if got := testutil.ToFloat64(r.rowsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed=%v, want 1", got)
	}
	if got := testutil.ToFloat64(r.llmCallsTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("error calls=%v, want 1", got)
	}
	if got := testutil.ToFloat64(r.llmRetries); got != 1 {
		t.Fatalf("retries=%v, want 1", got)
	}
	if got := testutil.ToFloat64(r.jobsTotal.WithLabelValues("done")); got != 1 {
		t.Fatalf("jobs done=%v, want 1", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordJob("done", time.Second)
	r.RecordRows("converted", 1)
	r.RecordCall("ok", time.Millisecond)
	r.RecordRetry()
	r.RecordCacheHit()
}
