package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Permanent marks an error as non-retryable.
//
// Publishers wrap validation failures or other terminal conditions with
// Permanent so the retry policy won't waste attempts on them.
//
// Example:
//
//	return pipeline.Permanent(fmt.Errorf("credential unavailable for %s", ownerID))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before the next attempt.
//
// This is useful when the destination returns a Retry-After value
// (e.g. HTTP 429). The retry policy respects the hint, bounded by its
// own maximum delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// ExhaustedError reports that all publish attempts failed.
type ExhaustedError struct {
	Attempts int
	Errs     []error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %v", e.Attempts, errors.Join(e.Errs...))
}

func (e *ExhaustedError) Unwrap() []error { return e.Errs }
