package platformcap

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a per-platform token bucket (spec §5: "each Platform
// Adapter wraps its underlying client in a token bucket configured per
// platform"). It is a thin, deliberately minimal wrapper so adapters share
// one throttling idiom instead of each hand-rolling sleep loops.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter allowing burst immediate calls and
// refilling at ratePerSecond tokens/second.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is done, matching the
// suspension-point requirement of spec §5 for every remote API call.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}
