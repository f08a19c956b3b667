// Package retry provides a bounded exponential-backoff wrapper for
// fallible external operations: tab creation, script injection,
// outbound notifications. Retries are strictly sequential; the same
// operation is never in flight twice.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Options configures a retry run. Zero fields fall back to defaults.
type Options struct {
	MaxRetries        int           // total attempts, default 3
	BaseDelay         time.Duration // first backoff, default 1s
	MaxDelay          time.Duration // backoff cap, default 10s
	BackoffMultiplier float64       // growth factor, default 2
}

// DefaultOptions returns the standard retry profile.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = d.BackoffMultiplier
	}
	return o
}

// Delay returns the wait before the given 1-based retry attempt:
// min(base * multiplier^(attempt-1), max).
func (o Options) Delay(attempt int) time.Duration {
	o = o.withDefaults()
	delay := float64(o.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= o.BackoffMultiplier
		if delay >= float64(o.MaxDelay) {
			return o.MaxDelay
		}
	}
	if delay > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(delay)
}

// Do invokes op up to opts.MaxRetries times, sleeping the backoff delay
// between attempts. It returns nil on the first success, the last
// failure's error once attempts are exhausted, or the context error if
// the wait is interrupted.
func Do(ctx context.Context, op func(context.Context) error, opts Options) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = op(ctx); lastErr == nil {
			return nil
		}

		if attempt == opts.MaxRetries {
			break
		}

		timer := time.NewTimer(opts.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", opts.MaxRetries, lastErr)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, opts)
	return result, err
}
