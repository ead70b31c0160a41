// Package ratelimit provides a minimum-interval limiter for outbound
// provider requests. All callers sharing a limiter are spaced so that
// consecutive requests start at least the configured interval apart.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between acquisitions.
type Limiter struct {
	limiter *rate.Limiter
}

// NewInterval creates a limiter that allows one acquisition per interval.
// A non-positive interval disables limiting.
func NewInterval(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Acquire blocks until the caller may proceed or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
