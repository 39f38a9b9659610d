package errs

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy governs the exponential-with-full-jitter retry loop used at
// every platform/orchestrator/overseer boundary (spec §7: base 2s, cap 60s).
type BackoffPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultBackoffPolicy matches spec §4.2/§7: base 2s, cap 60s, full jitter.
var DefaultBackoffPolicy = BackoffPolicy{
	MaxAttempts: 5,
	Base:        2 * time.Second,
	Cap:         60 * time.Second,
}

// Retry runs fn up to policy.MaxAttempts times. Only errors classified as
// Transient are retried; Validation/Authorization/Permanent/ResourceMissing
// errors return immediately on first occurrence. Sleeps use full-jitter
// backoff (AWS architecture blog formula: random(0, min(cap, base*2^attempt))).
func Retry(ctx context.Context, policy BackoffPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		sleep := fullJitter(policy.Base, policy.Cap, attempt)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == Transient
}

func fullJitter(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	maxSleep := base << attempt // 2^attempt growth
	if maxSleep <= 0 || (cap > 0 && maxSleep > cap) {
		maxSleep = cap
	}
	if maxSleep <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(maxSleep)))
}
