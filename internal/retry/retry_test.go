package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastOptions(name string, maxRetries int) Options {
	return Options{
		Name:       name,
		MaxRetries: maxRetries,
		Timeout:    time.Second,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
		Logger:     zap.NewNop(),
	}
}

func TestExecuteBudgetWithOneRetry(t *testing.T) {
	var calls atomic.Int32
	last := errors.New("second failure")

	err := Execute(context.Background(), fastOptions("gateway.query", 1), func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("first failure")
		}
		return last
	})

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, err, last)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "gateway.query", exhausted.Op)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Contains(t, err.Error(), "second failure")
}

func TestExecuteSucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	err := Execute(context.Background(), fastOptions("notify", 3), func(context.Context) error {
		if calls.Add(1) < 3 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteSmartDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	badRequest := &StatusError{StatusCode: 400, Body: "PARAM_ERROR"}

	err := ExecuteSmart(context.Background(), fastOptions("gateway.refund", 3), func(context.Context) error {
		calls.Add(1)
		return badRequest
	})

	assert.Equal(t, int32(1), calls.Load())
	assert.Same(t, badRequest, err)
	assert.False(t, IsExhausted(err))
}

func TestExecuteSmartRetriesServerErrorsAndRateLimits(t *testing.T) {
	var calls atomic.Int32
	err := ExecuteSmart(context.Background(), fastOptions("gateway.query", 3), func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			return &StatusError{StatusCode: 503}
		case 2:
			return &StatusError{StatusCode: 429}
		default:
			return nil
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAttemptTimeoutCountsAsFailure(t *testing.T) {
	var calls atomic.Int32
	opts := fastOptions("slow", 1)
	opts.Timeout = 20 * time.Millisecond

	err := Execute(context.Background(), opts, func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHookFailuresNeverAbortTheLoop(t *testing.T) {
	var calls, hooks atomic.Int32
	opts := fastOptions("hooked", 3)
	opts.OnRetry = func(context.Context, Attempt) error {
		if hooks.Add(1) == 1 {
			return errors.New("metrics sink down")
		}
		panic("hook bug")
	}

	err := Execute(context.Background(), opts, func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), hooks.Load())
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	var delays []time.Duration
	opts := fastOptions("backoff", 4)
	opts.OnRetry = func(_ context.Context, a Attempt) error {
		delays = append(delays, a.Delay)
		return nil
	}

	_ = Execute(context.Background(), opts, func(context.Context) error {
		return errors.New("down")
	})

	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, delays)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	err := Execute(ctx, fastOptions("cancel", 5), func(context.Context) error {
		calls.Add(1)
		cancel()
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestValueReturnsResult(t *testing.T) {
	got, err := SmartValue(context.Background(), fastOptions("value", 1), func(context.Context) (string, error) {
		return "SUCCESS", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", got)
}

func TestRetryMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(registry, metrics.Config{Environment: "test"})
	opts := fastOptions("gateway.query", 2)
	opts.Metrics = m

	_ = Execute(context.Background(), opts, func(context.Context) error {
		return errors.New("down")
	})

	families, err := registry.Gather()
	require.NoError(t, err)
	var retried, exhausted float64
	for _, family := range families {
		if family.GetName() != "photoledger_retry_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() != "outcome" {
					continue
				}
				switch label.GetValue() {
				case metrics.RetryOutcomeRetried:
					retried = metric.GetCounter().GetValue()
				case metrics.RetryOutcomeExhausted:
					exhausted = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), retried)
	assert.Equal(t, float64(1), exhausted)
	_ = testutil.CollectAndCount
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", fmt.Errorf("wrap: %w", ErrAttemptTimeout), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"500", &StatusError{StatusCode: 500}, true},
		{"429", &StatusError{StatusCode: 429}, true},
		{"404", &StatusError{StatusCode: 404}, false},
		{"401", &StatusError{StatusCode: 401}, false},
		{"url", &url.Error{Op: "Post", URL: "https://gw", Err: errors.New("connection reset")}, true},
		{"eof", io.EOF, true},
		{"validation", apperror.New(apperror.KindValidation, "invalid_item_type"), false},
		{"authentication", apperror.New(apperror.KindAuthentication, "bad_signature"), false},
		{"transient", apperror.New(apperror.KindTransient, "busy"), true},
		{"unknown", errors.New("mystery"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
