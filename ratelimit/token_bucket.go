/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/acronis/go-apipacer/lrucache"
)

// TokenBucketLimiter implements token bucket rate limiting algorithm on top of golang.org/x/time/rate.
type TokenBucketLimiter struct {
	getLimiter func(key string) *rate.Limiter
	maxRate    Rate
	burst      int
}

// NewTokenBucketLimiter creates a new token bucket rate limiter.
// Burst determines how many requests can be made at once exceeding the sustained rate.
// If maxBurst is 0, burst of 1 is used. If maxKeys is 0, a single bucket is shared between all keys.
func NewTokenBucketLimiter(maxRate Rate, maxBurst, maxKeys int) (*TokenBucketLimiter, error) {
	if maxRate.Count <= 0 || maxRate.Duration <= 0 {
		return nil, fmt.Errorf("max rate must be positive, got %s", maxRate)
	}
	if maxBurst < 0 {
		return nil, fmt.Errorf("max burst should not be negative, got %d", maxBurst)
	}
	if maxBurst == 0 {
		maxBurst = 1
	}

	limit := rate.Limit(float64(maxRate.Count) / maxRate.Duration.Seconds())

	if maxKeys == 0 {
		lim := rate.NewLimiter(limit, maxBurst)
		return &TokenBucketLimiter{
			maxRate:    maxRate,
			burst:      maxBurst,
			getLimiter: func(_ string) *rate.Limiter { return lim },
		}, nil
	}

	store, err := lrucache.New[string, *rate.Limiter](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return &TokenBucketLimiter{
		maxRate: maxRate,
		burst:   maxBurst,
		getLimiter: func(key string) *rate.Limiter {
			lim, _ := store.GetOrAdd(key, func() *rate.Limiter {
				return rate.NewLimiter(limit, maxBurst)
			})
			return lim
		},
	}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	lim := l.getLimiter(key)
	now := time.Now()
	rsv := lim.ReserveN(now, 1)
	if !rsv.OK() {
		return false, 0, fmt.Errorf("reserve token for key %q", key)
	}
	delay := rsv.DelayFrom(now)
	if delay == 0 {
		return true, 0, nil
	}
	rsv.CancelAt(now)
	return false, delay, nil
}
