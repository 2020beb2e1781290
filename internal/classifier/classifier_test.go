package classifier

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"bomflow/internal/config"
	"bomflow/internal/model"
)

func fastOptions() Options {
	return Options{
		Workers:        3,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func newTestClassifier(stub *StubCompleter, cache *Cache) *Classifier {
	return New(NewRules(config.DefaultRules()), stub, cache, fastOptions(), zap.NewNop(), nil)
}

func TestClassifyAll_RuleRowsNeverCallCompleter(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := NewStubCompleter()
	c := newTestClassifier(stub, NewCache(time.Minute))

	rows := []model.BOMRow{
		{LineNumber: 1, RawDescription: "Ceramic Capacitor 100nF 50V", Quantity: 2, ReferenceDesignators: []string{"C1", "C2"}},
		{LineNumber: 2, RawType: "Resistor", RawPartNumber: "rc0402 fr-0710kl", Quantity: 1, ReferenceDesignators: []string{"R1"}},
		{LineNumber: 3, RawDescription: "MCU 32-bit ARM", Quantity: 1, ReferenceDesignators: []string{"U1"}},
		{LineNumber: 4, RawDescription: "Green LED 0603", Quantity: 1, ReferenceDesignators: []string{"D1"}},
		{LineNumber: 5, RawDescription: "USB Type-C receptacle", Quantity: 1, ReferenceDesignators: []string{"J1"}},
		{LineNumber: 6, RawDescription: "", Quantity: 1, ReferenceDesignators: []string{"R7"}},
	}

	res, err := c.ClassifyAll(context.Background(), rows, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stub.Calls())
	assert.Equal(t, int64(0), res.Calls)
	require.Len(t, res.Rows, len(rows))
	assert.Zero(t, res.FailedCount())

	want := []model.ComponentType{
		model.ComponentCapacitor,
		model.ComponentResistor,
		model.ComponentIC,
		model.ComponentLED,
		model.ComponentConnector,
		model.ComponentResistor,
	}
	for i, r := range res.Rows {
		assert.Equal(t, rows[i].LineNumber, r.LineNumber)
		assert.Equal(t, want[i], r.ComponentType, "line %d", r.LineNumber)
		assert.Equal(t, model.SourceRule, r.Source)
	}
	assert.Equal(t, "RC0402FR-0710KL", res.Rows[1].CanonicalPartNumber)
}

func TestClassify_CeramicCapacitorScenario(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(NewStubCompleter(), nil)
	row := model.BOMRow{
		LineNumber:           7,
		RawPartNumber:        "GRM155R71H104KA88D",
		RawDescription:       "Ceramic Capacitor 100nF 50V",
		Quantity:             2,
		ReferenceDesignators: []string{"C1", "C2", "TP1", "99"},
	}

	got, failure := c.Classify(context.Background(), row)
	require.Nil(t, failure)
	assert.Equal(t, model.ComponentCapacitor, got.ComponentType)
	assert.Equal(t, 2, got.SetCount)
	assert.Equal(t, model.CheckOK, got.CheckStatus)
	assert.Equal(t, row, got.BOMRow)
}

func TestClassify_SetCountUsesEffectiveDesignators(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(NewStubCompleter(), nil)
	cases := []struct {
		name  string
		refs  []string
		qty   float64
		count int
		want  model.CheckStatus
	}{
		{"range expanded", []string{"R1-R4"}, 4, 4, model.CheckOK},
		{"joined tokens", []string{"R1,R2 R3"}, 3, 3, model.CheckOK},
		{"test points excluded", []string{"R1", "TP1", "TP2"}, 3, 1, model.CheckQtyMismatch},
		{"only excluded", []string{"TP1", "42"}, 2, 0, model.CheckNoRefs},
	}
	for _, tc := range cases {
		got, failure := c.Classify(context.Background(), model.BOMRow{
			LineNumber:           1,
			RawDescription:       "Resistor 10k",
			Quantity:             tc.qty,
			ReferenceDesignators: tc.refs,
		})
		require.Nil(t, failure, tc.name)
		assert.Equal(t, tc.count, got.SetCount, tc.name)
		assert.Equal(t, tc.want, got.CheckStatus, tc.name)
	}
}

func TestClassify_CompleterFallbackUsesCache(t *testing.T) {
	t.Parallel()

	stub := &StubCompleter{Fn: func(_ context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "XT-9000") {
			return "", errors.New("unexpected prompt")
		}
		return "```json\n{\"componentType\": \"ic\", \"canonicalPartNumber\": \"xt 9000a\"}\n```", nil
	}}
	cache := NewCache(time.Minute)
	c := newTestClassifier(stub, cache)
	row := model.BOMRow{LineNumber: 1, RawPartNumber: "XT-9000", RawDescription: "Mystery module", Quantity: 1, ReferenceDesignators: []string{"M1"}}

	first, failure := c.Classify(context.Background(), row)
	require.Nil(t, failure)
	assert.Equal(t, model.ComponentIC, first.ComponentType)
	assert.Equal(t, "XT9000A", first.CanonicalPartNumber)
	assert.Equal(t, model.SourceLLM, first.Source)
	assert.Equal(t, model.CheckOK, first.CheckStatus)

	second, failure := c.Classify(context.Background(), row)
	require.Nil(t, failure)
	assert.Equal(t, model.SourceCache, second.Source)
	assert.Equal(t, first.ComponentType, second.ComponentType)
	assert.Equal(t, int64(1), stub.Calls())
	assert.Equal(t, 1, cache.Len())
}

func TestClassify_EmptyCanonicalFallsBackToRawPartNumber(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(NewStubCompleter(), nil)
	got, failure := c.Classify(context.Background(), model.BOMRow{
		LineNumber:     3,
		RawPartNumber:  "abc 12",
		RawDescription: "Widget",
	})
	require.Nil(t, failure)
	assert.Equal(t, model.ComponentOther, got.ComponentType)
	assert.Equal(t, "ABC12", got.CanonicalPartNumber)
	assert.Equal(t, model.CheckNoRefs, got.CheckStatus)
}

func TestClassifyAll_ThreeFailuresBecomeOneFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := &StubCompleter{Fn: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "FLAKY-1") {
			return "", model.NewServiceError(model.ErrTimeout, 0, errors.New("upstream slow"))
		}
		return `{"componentType": "Other", "canonicalPartNumber": "OK-1"}`, nil
	}}
	c := newTestClassifier(stub, nil)

	rows := []model.BOMRow{
		{LineNumber: 1, RawDescription: "Capacitor 10uF", Quantity: 1, ReferenceDesignators: []string{"C1"}},
		{LineNumber: 2, RawPartNumber: "FLAKY-1", RawDescription: "Unknown", Quantity: 1, ReferenceDesignators: []string{"Q1"}},
		{LineNumber: 3, RawPartNumber: "OK-1", RawDescription: "Unknown too", Quantity: 1, ReferenceDesignators: []string{"Q2"}},
	}

	var progress atomic.Int64
	res, err := c.ClassifyAll(context.Background(), rows, func(done, total int) {
		progress.Add(1)
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), progress.Load())

	require.Equal(t, 1, res.FailedCount())
	assert.Equal(t, 2, res.Failures[0].LineNumber)
	assert.Equal(t, 3, res.Failures[0].Attempts)
	assert.Contains(t, res.Failures[0].Reason, "timeout")

	require.Len(t, res.Rows, 2)
	assert.Equal(t, 1, res.Rows[0].LineNumber)
	assert.Equal(t, 3, res.Rows[1].LineNumber)
	assert.Equal(t, int64(4), res.Calls)
	assert.Equal(t, int64(4), stub.Calls())
}

func TestClassify_NonRetryableFailsAtOnce(t *testing.T) {
	t.Parallel()

	stub := &StubCompleter{Fn: func(context.Context, string) (string, error) {
		return "", model.NewServiceError(model.ErrServiceStatus, 401, errors.New("invalid api key"))
	}}
	c := newTestClassifier(stub, nil)

	_, failure := c.Classify(context.Background(), model.BOMRow{LineNumber: 9, RawDescription: "Gadget"})
	require.NotNil(t, failure)
	assert.Equal(t, 1, failure.Attempts)
	assert.Equal(t, int64(1), stub.Calls())
}

func TestClassify_MalformedResponseIsRetried(t *testing.T) {
	t.Parallel()

	var n atomic.Int64
	stub := &StubCompleter{Fn: func(context.Context, string) (string, error) {
		if n.Add(1) == 1 {
			return `{"componentType": "Flux capacitor"}`, nil
		}
		return `{"componentType": "Connector", "canonicalPartNumber": ""}`, nil
	}}
	c := newTestClassifier(stub, nil)

	got, failure := c.Classify(context.Background(), model.BOMRow{LineNumber: 1, RawDescription: "Thing"})
	require.Nil(t, failure)
	assert.Equal(t, model.ComponentConnector, got.ComponentType)
	assert.Equal(t, int64(2), stub.Calls())
}

func TestClassify_NoCompleterFailsUnmatchedRows(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, fastOptions(), nil, nil)
	_, failure := c.Classify(context.Background(), model.BOMRow{LineNumber: 4, RawDescription: "Gizmo"})
	require.NotNil(t, failure)
	assert.Equal(t, 4, failure.LineNumber)
	assert.Zero(t, failure.Attempts)
}

func TestClassifyAll_CancelledBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := NewStubCompleter()
	c := newTestClassifier(stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ClassifyAll(ctx, []model.BOMRow{{LineNumber: 1, RawDescription: "Gizmo"}}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), stub.Calls())
}

func TestClassifyAll_InFlightCallsSurviveCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var callErr atomic.Value
	stub := &StubCompleter{Fn: func(callCtx context.Context, _ string) (string, error) {
		close(started)
		cancel()
		time.Sleep(10 * time.Millisecond)
		if err := callCtx.Err(); err != nil {
			callErr.Store(err)
		}
		return `{"componentType": "Other", "canonicalPartNumber": ""}`, nil
	}}
	opts := fastOptions()
	opts.Workers = 1
	c := New(nil, stub, nil, opts, zap.NewNop(), nil)

	rows := []model.BOMRow{
		{LineNumber: 1, RawDescription: "Gizmo"},
		{LineNumber: 2, RawDescription: "Gadget"},
	}
	_, err := c.ClassifyAll(ctx, rows, nil)
	<-started
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, callErr.Load(), "in-flight call context must not be cancelled")
	assert.Equal(t, int64(1), stub.Calls())
}

func TestClassifyAll_PreservesInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := &StubCompleter{Fn: func(_ context.Context, prompt string) (string, error) {
		// 让靠前的行更慢返回
		if strings.Contains(prompt, "slow") {
			time.Sleep(5 * time.Millisecond)
		}
		return `{"componentType": "Other", "canonicalPartNumber": ""}`, nil
	}}
	opts := fastOptions()
	opts.Workers = 4
	c := New(nil, stub, nil, opts, zap.NewNop(), nil)

	rows := make([]model.BOMRow, 0, 20)
	for i := 1; i <= 20; i++ {
		desc := "fast widget"
		if i <= 5 {
			desc = "slow widget"
		}
		rows = append(rows, model.BOMRow{LineNumber: i, RawPartNumber: "W" + string(rune('A'+i)), RawDescription: desc})
	}

	res, err := c.ClassifyAll(context.Background(), rows, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 20)
	for i, r := range res.Rows {
		assert.Equal(t, i+1, r.LineNumber)
	}
}
