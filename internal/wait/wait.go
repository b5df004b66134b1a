// Package wait provides polling and retry helpers for end-to-end tests,
// where the system under test settles asynchronously.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by Poll when the condition is still false at the deadline.
var ErrTimeout = errors.New("timed out waiting for condition")

// ConditionFunc reports whether the awaited state has been reached.
// A non-nil error stops polling immediately.
type ConditionFunc func(ctx context.Context) (bool, error)

// Poll evaluates cond immediately and then every interval until it returns
// true, returns an error, ctx is done, or timeout elapses.
func Poll(ctx context.Context, interval, timeout time.Duration, cond ConditionFunc) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(pollCtx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-pollCtx.Done():
			// The parent's cancellation wins over our own deadline.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Backoff describes an exponential retry schedule.
type Backoff struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps any single delay. Zero means no cap.
	Max time.Duration
	// Factor multiplies the delay after each attempt. Values below 1 are treated as 1.
	Factor float64
	// Steps is the total number of attempts, including the first.
	Steps int
}

// Delay returns the wait before attempt n+1, where n counts from 1.
func (b Backoff) Delay(n int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= factor
		if b.Max > 0 && time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx is done,
// or b.Steps attempts have been made. The last error is returned.
func Retry(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	steps := b.Steps
	if steps < 1 {
		steps = 1
	}

	var err error
	for attempt := 1; attempt <= steps; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == steps {
			break
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", steps, err)
}
