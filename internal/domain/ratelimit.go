package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait a throttled caller should honour, rounded up to
// whole seconds.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}

// RateLimiter throttles submissions per caller key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
