package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Sleep: noSleep(&delays)}

	calls := 0
	err := p.Do(context.Background(), func(_ context.Context, n int) error {
		calls++
		if n < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// Linear backoff: base*1 then base*2.
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep(nil)}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("still down")
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error %T, want *ExhaustedError", err)
	}
	if ex.Attempts != 3 || len(ex.Errs) != 3 {
		t.Fatalf("attempts = %d, errs = %d", ex.Attempts, len(ex.Errs))
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, Sleep: noSleep(nil)}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errors.New("credential unavailable"))
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 1 {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDoHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()
	var delays []time.Duration
	p := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Hour, Sleep: noSleep(&delays)}

	_ = p.Do(context.Background(), func(context.Context, int) error {
		return RetryAfter(errors.New("rate limited"), 7*time.Second)
	})
	if len(delays) != 1 || delays[0] != 7*time.Second {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestDoStopsWhenSleepInterrupted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("transient")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error %T, want *ExhaustedError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}
