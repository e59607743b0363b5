// Package retry wraps outbound calls with a per-attempt timeout, bounded
// retries and doubling backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second
	DefaultBaseDelay  = 200 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

var ErrAttemptTimeout = apperror.New(apperror.KindTransient, "attempt_timeout")

// Attempt describes a failed attempt about to be retried.
type Attempt struct {
	Op     string
	Number int
	Err    error
	Delay  time.Duration
}

// Hook observes retries. Its errors and panics are logged and otherwise
// ignored.
type Hook func(ctx context.Context, attempt Attempt) error

type Options struct {
	Name string
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	Timeout    time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	OnRetry    Hook

	Logger  *zap.Logger
	Metrics *metrics.LedgerMetrics
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = "outbound"
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	o.Logger = o.Logger.Named("retry")
	return o
}

// ExhaustedError is returned once the retry budget is spent. It unwraps to
// the last underlying error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) ErrorKind() apperror.Kind { return apperror.KindTransient }

// Execute runs op, retrying any failure.
func Execute(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := run(ctx, opts, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// ExecuteSmart runs op, retrying only failures that Classify reports as
// retryable. Other failures are returned unchanged after a single call.
func ExecuteSmart(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := run(ctx, opts, true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Execute for operations that produce a result.
func Value[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, opts, false, op)
}

// SmartValue is ExecuteSmart for operations that produce a result.
func SmartValue[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, opts, true, op)
}

func run[T any](ctx context.Context, opts Options, smart bool, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()
	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     opts.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         opts.MaxDelay,
	}
	schedule.Reset()

	var zero T
	attempts := 0
	for {
		attempts++
		value, err := attempt(ctx, opts.Timeout, op)
		if err == nil {
			return value, nil
		}
		if smart && !Classify(err) {
			opts.Metrics.IncRetry(opts.Name, metrics.RetryOutcomeAborted)
			return zero, err
		}
		if ctx.Err() != nil {
			opts.Metrics.IncRetry(opts.Name, metrics.RetryOutcomeAborted)
			return zero, &ExhaustedError{Op: opts.Name, Attempts: attempts, Err: err}
		}
		if attempts > opts.MaxRetries {
			opts.Metrics.IncRetry(opts.Name, metrics.RetryOutcomeExhausted)
			opts.Logger.Warn("retry budget exhausted",
				zap.String("op", opts.Name),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return zero, &ExhaustedError{Op: opts.Name, Attempts: attempts, Err: err}
		}

		delay := schedule.NextBackOff()
		opts.Metrics.IncRetry(opts.Name, metrics.RetryOutcomeRetried)
		callHook(ctx, opts, Attempt{Op: opts.Name, Number: attempts, Err: err, Delay: delay})

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, &ExhaustedError{Op: opts.Name, Attempts: attempts, Err: err}
		}
	}
}

// attempt races op against the per-attempt timeout. A timed-out op keeps
// running in its goroutine; its eventual result is discarded.
func attempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic in retried operation: %v", r)}
			}
		}()
		value, err := op(attemptCtx)
		done <- result{value: value, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

func callHook(ctx context.Context, opts Options, a Attempt) {
	opts.Logger.Debug("retrying",
		zap.String("op", a.Op),
		zap.Int("attempt", a.Number),
		zap.Duration("delay", a.Delay),
		zap.Error(a.Err),
	)
	if opts.OnRetry == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			opts.Logger.Warn("retry hook panicked", zap.String("op", a.Op), zap.Any("panic", r))
		}
	}()
	if err := opts.OnRetry(ctx, a); err != nil {
		opts.Logger.Warn("retry hook failed", zap.String("op", a.Op), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsExhausted reports whether err came from a spent retry budget.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}
