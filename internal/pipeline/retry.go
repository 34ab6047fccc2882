package pipeline

import (
	"context"
	"errors"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 30 * time.Second
	maxBackoffDelay    = 10 * time.Minute
)

// RetryPolicy bounds and paces publish attempts. Backoff is linear:
// the wait after attempt n is BaseDelay*n, capped. Only the publish stage
// is run under this policy; fetch and transform failures are terminal
// for the task instance.
type RetryPolicy struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 30s

	// Sleep is the wait primitive between attempts. Nil uses a
	// context-aware timer; tests stub it to observe pacing.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = ctxSleep
	}
	return p
}

// Do runs attempt until it succeeds, returns a Permanent error, ctx is
// canceled, or MaxAttempts is reached. On exhaustion it returns an
// *ExhaustedError summarizing every attempt's failure.
func (p RetryPolicy) Do(ctx context.Context, attempt func(ctx context.Context, n int) error) error {
	p = p.withDefaults()

	var attemptErrs []error
	for n := 1; n <= p.MaxAttempts; n++ {
		err := attempt(ctx, n)
		if err == nil {
			return nil
		}
		attemptErrs = append(attemptErrs, err)

		// Explicit permanent failures are not worth further attempts.
		if IsPermanent(err) {
			return &ExhaustedError{Attempts: n, Errs: attemptErrs}
		}
		if n == p.MaxAttempts {
			break
		}

		delay := p.delayFor(n, err)
		if err := p.Sleep(ctx, delay); err != nil {
			attemptErrs = append(attemptErrs, err)
			return &ExhaustedError{Attempts: n, Errs: attemptErrs}
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Errs: attemptErrs}
}

func (p RetryPolicy) delayFor(attempt int, err error) time.Duration {
	// Respect explicit retry-after hints if the publisher provided one.
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > maxBackoffDelay {
			d = maxBackoffDelay
		}
		return d
	}

	d := p.BaseDelay * time.Duration(attempt)
	if d > maxBackoffDelay {
		d = maxBackoffDelay
	}
	return d
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
