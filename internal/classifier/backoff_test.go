package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"bomflow/internal/model"
)

func newTestBackoff() *Backoff {
	return &Backoff{
		MaxAttempts: 4,
		Initial:     100 * time.Millisecond,
		Max:         time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		Rand:        func() float64 { return 0.5 },
	}
}

func TestBackoff_ExponentialWithJitter(t *testing.T) {
	t.Parallel()

	b := newTestBackoff()
	timeout := model.NewServiceError(model.ErrTimeout, 0, errors.New("slow"))

	want := []time.Duration{90 * time.Millisecond, 180 * time.Millisecond, 360 * time.Millisecond}
	for i, w := range want {
		d, retry := b.Next(timeout)
		if !retry {
			t.Fatalf("attempt %d: expected retry", i+1)
		}
		if d != w {
			t.Fatalf("attempt %d: delay got=%v want=%v", i+1, d, w)
		}
	}
	if _, retry := b.Next(timeout); retry {
		t.Fatalf("expected bound to stop retries")
	}
	if b.Attempt != 4 || !b.Exhausted() {
		t.Fatalf("unexpected attempt count: %d", b.Attempt)
	}
	if !errors.Is(b.LastErr, model.ErrTimeout) {
		t.Fatalf("last error not recorded: %v", b.LastErr)
	}
}

func TestBackoff_RateLimitJumpsToMax(t *testing.T) {
	t.Parallel()

	b := newTestBackoff()
	d, retry := b.Next(model.NewServiceError(model.ErrRateLimited, 429, errors.New("slow down")))
	if !retry {
		t.Fatalf("rate limit should be retried")
	}
	if d != 900*time.Millisecond {
		t.Fatalf("delay got=%v want=900ms", d)
	}
	if b.NextDelay != time.Second {
		t.Fatalf("next delay should stay capped at max, got %v", b.NextDelay)
	}
}

func TestBackoff_NonRetryableErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"auth":      model.NewServiceError(model.ErrServiceStatus, 401, errors.New("bad key")),
		"not found": model.NewServiceError(model.ErrServiceStatus, 404, errors.New("no model")),
		"cancelled": context.Canceled,
		"nil":       nil,
	}
	for name, err := range cases {
		b := newTestBackoff()
		if _, retry := b.Next(err); retry {
			t.Fatalf("%s: expected no retry", name)
		}
		if b.Attempt != 1 {
			t.Fatalf("%s: attempt got=%d want=1", name, b.Attempt)
		}
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	if !Retryable(model.NewServiceError(model.ErrServiceStatus, 503, errors.New("busy"))) {
		t.Fatalf("5xx should be retryable")
	}
	if !Retryable(model.NewServiceError(model.ErrServiceStatus, 408, errors.New("timeout"))) {
		t.Fatalf("408 should be retryable")
	}
	if !Retryable(errors.New("connection reset")) {
		t.Fatalf("transport errors should be retryable")
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0, 0)
	if b.MaxAttempts != 3 || b.Initial != 500*time.Millisecond || b.Max != b.Initial {
		t.Fatalf("unexpected defaults: %+v", b)
	}
}
