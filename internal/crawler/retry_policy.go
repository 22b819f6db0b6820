package crawler

import (
	"context"
	"errors"
	"time"
)

// FixedRetryPolicy retries a bounded number of times with a constant delay.
type FixedRetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// NewFixedRetryPolicy builds a policy, clamping attempts to at least one.
func NewFixedRetryPolicy(maxAttempts int, delay time.Duration) FixedRetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	return FixedRetryPolicy{MaxAttempts: maxAttempts, Delay: delay}
}

// ShouldRetry reports whether another attempt follows the failed attempt
// number attempt (1-based).
func (p FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return attempt < p.MaxAttempts
}

// Backoff returns the wait before the next attempt.
func (p FixedRetryPolicy) Backoff(int) time.Duration {
	return p.Delay
}

// BatchRetryPolicy bounds how many extra passes a batch gets over the items
// that are still failing.
type BatchRetryPolicy struct {
	MaxPasses int
	Backoff   time.Duration
}
