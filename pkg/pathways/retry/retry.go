// Package retry runs handler attempts with a bounded retry count and
// linear backoff.
//
// The Nth retry (1-indexed) waits Delay*N before running, so the default
// policy of 3 retries at 500ms waits 500ms, 1s and 1.5s before giving up
// on the fourth attempt.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures retry behavior for one pathway.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero disables retries.
	MaxRetries int

	// Delay is the base backoff. Retry N waits Delay*N.
	Delay time.Duration
}

// DefaultPolicy is used when a pathway does not override the policy.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	Delay:      500 * time.Millisecond,
}

// NoRetry runs the function exactly once.
var NoRetry = Policy{}

// Attempts returns the total number of attempts the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Backoff returns the wait before the given retry (1-indexed).
func (p Policy) Backoff(retry int) time.Duration {
	if retry <= 0 || p.Delay <= 0 {
		return 0
	}
	return p.Delay * time.Duration(retry)
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt.
// Negative values are treated as zero.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n < 0 {
			n = 0
		}
		p.MaxRetries = n
	}
}

// WithDelay sets the base backoff duration.
func WithDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d < 0 {
			d = 0
		}
		p.Delay = d
	}
}

// NewPolicy returns DefaultPolicy with the given options applied.
func NewPolicy(opts ...Option) Policy {
	p := DefaultPolicy
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Result describes the outcome of Do.
type Result struct {
	// Err is nil on success. After exhaustion it is the last error
	// returned by the function, unchanged.
	Err error

	// Attempts is the number of times the function ran.
	Attempts int

	// Exhausted is true when every allowed attempt failed.
	Exhausted bool

	// Duration is the total time spent, including backoff.
	Duration time.Duration
}

// FailureFunc observes a failed attempt. attempt is 0 for the first run.
type FailureFunc func(attempt int, err error)

// Do runs fn until it succeeds or the policy is exhausted.
//
// onFailure, if non-nil, is called after every failed attempt and before
// any backoff. Cancelling ctx during a backoff stops the loop; the
// returned error then matches both ctx.Err() and the last failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, onFailure FailureFunc) Result {
	start := time.Now()
	maxRetries := p.Attempts() - 1

	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return Result{
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		if onFailure != nil {
			onFailure(attempt, err)
		}

		if attempt >= maxRetries {
			return Result{
				Err:       err,
				Attempts:  attempt + 1,
				Exhausted: true,
				Duration:  time.Since(start),
			}
		}

		if werr := sleep(ctx, p.Backoff(attempt+1)); werr != nil {
			return Result{
				Err:      errors.Join(werr, err),
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
