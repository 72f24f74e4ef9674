// Package retry runs an operation a bounded number of times with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes how many times to retry and how long to wait.
// Attempt numbers are zero-based: the wait after a failed attempt n is
// BaseDelay * 2^n, capped at MaxDelay when MaxDelay is set.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Sleep waits between attempts. Nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is two retries (three attempts) with 1s, 2s waits.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: time.Second}
}

// Attempts returns the total number of attempts, never less than one.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay returns the wait that follows failed attempt n.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		return p.MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds or the attempts are used up, and returns
// the last error. No wait follows the final attempt. A cancelled context
// stops the loop early with the last error seen (or ctx.Err()).
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	n := p.Attempts()
	for attempt := 0; attempt < n; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == n-1 {
			break
		}
		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
