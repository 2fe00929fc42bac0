// Package retry provides an explicit retry policy for outbound calls.
// Callers decide which errors are transient; the policy owns attempt
// counting and backoff pacing.
package retry

import (
	"context"
	"time"
)

// Policy describes how a call site retries transient failures.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Backoff returns the sleep before attempt n (n starts at 1 for the
	// first retry). A nil Backoff means no sleep between attempts.
	Backoff func(n int) time.Duration
	// Retryable reports whether an error is worth another attempt.
	// A nil Retryable treats every error as transient.
	Retryable func(err error) bool
}

// Default mirrors the short/long backoff ladder used for provider and
// exchange calls: three quick retries, then two slow ones.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		Backoff: func(n int) time.Duration {
			if n < 3 {
				return 500 * time.Millisecond
			}
			return 2 * time.Second
		},
	}
}

// Do runs fn until it succeeds, exhausts MaxAttempts, the error is not
// retryable, or ctx is cancelled. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(i + 1)
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
