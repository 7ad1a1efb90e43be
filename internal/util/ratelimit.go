package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests to a data provider.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute with a burst of one. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(every), 1)}
}

// Wait blocks until a request may proceed or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed right now without waiting.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}
