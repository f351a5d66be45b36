package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady marks a predicate error as transient: the resource exists
// conceptually but cannot be observed yet. Wrap it to keep polling.
var ErrNotReady = errors.New("not ready")

// Predicate reports whether the awaited condition holds.
type Predicate func(ctx context.Context) (bool, error)

type Options struct {
	Subject     string // what is being waited on, e.g. an instance id
	Interval    time.Duration
	MaxAttempts int
}

// TimeoutError is returned when every attempt came back unsatisfied.
type TimeoutError struct {
	Subject  string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for %s after %d attempts (%s)", e.Subject, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Until calls fn at most MaxAttempts times, the first time immediately and
// then every Interval, and returns the time elapsed when it first reports
// true. Errors wrapping ErrNotReady count as unsatisfied; any other error is
// returned as is.
func Until(ctx context.Context, opts Options, fn Predicate) (time.Duration, error) {
	start := time.Now()
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 1; i <= attempts; i++ {
		ok, err := fn(ctx)
		if err != nil && !errors.Is(err, ErrNotReady) {
			return time.Since(start), err
		}
		if err == nil && ok {
			return time.Since(start), nil
		}
		if i == attempts {
			break
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}
	}
	return time.Since(start), &TimeoutError{Subject: opts.Subject, Attempts: attempts, Elapsed: time.Since(start)}
}
