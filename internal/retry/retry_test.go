package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fastOpts = Options{
	MaxRetries:        3,
	BaseDelay:         time.Millisecond,
	MaxDelay:          5 * time.Millisecond,
	BackoffMultiplier: 2,
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, fastOpts)

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastOpts)

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttemptsAndKeepsLastError(t *testing.T) {
	lastErr := errors.New("still down")
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("earlier failure")
		}
		return lastErr
	}, fastOpts)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("err = %v, want wrapped last failure", err)
	}
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("failing")
	}, fastOpts)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancel)", calls)
	}
}

func TestDoValueReturnsResult(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, fastOpts)

	if err != nil {
		t.Fatalf("DoValue: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	opts := Options{
		MaxRetries:        5,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := opts.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestZeroOptionsUseDefaults(t *testing.T) {
	d := DefaultOptions()
	if got := (Options{}).Delay(1); got != d.BaseDelay {
		t.Errorf("zero-options first delay = %v, want %v", got, d.BaseDelay)
	}
	if got := (Options{}).Delay(10); got != d.MaxDelay {
		t.Errorf("zero-options capped delay = %v, want %v", got, d.MaxDelay)
	}
}
