/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-apipacer/ratelimit"
)

// Default parameter values for ThrottlingRoundTripper.
const (
	DefaultThrottlingWaitTimeout   = 15 * time.Second
	DefaultThrottlingRetryInterval = 50 * time.Millisecond
)

// ThrottlingRoundTripperOpts represents an options for ThrottlingRoundTripper.
type ThrottlingRoundTripperOpts struct {
	// WaitTimeout is the maximum time to wait for a free slot when the limit is exceeded.
	// By default, DefaultThrottlingWaitTimeout const is used.
	WaitTimeout time.Duration

	// KeyProvider computes the throttling key for the given request.
	// Requests with different keys are limited independently.
	// By default, the request host is used as a key.
	KeyProvider func(r *http.Request) string
}

// ThrottlingRoundTripper wraps an object that implements http.RoundTripper interface
// and limits the rate of outgoing requests using one of the ratelimit.Limiter implementations
// (token bucket, leaky bucket or sliding window).
//
// Unlike RateLimitingRoundTripper, which maintains a single adaptive token bucket,
// ThrottlingRoundTripper can limit requests per key (e.g. per target host)
// and supports multiple limiting algorithms.
type ThrottlingRoundTripper struct {
	Delegate    http.RoundTripper
	Limiter     ratelimit.Limiter
	WaitTimeout time.Duration
	KeyProvider func(r *http.Request) string
}

// NewThrottlingRoundTripper creates a new ThrottlingRoundTripper with the given limiter.
func NewThrottlingRoundTripper(delegate http.RoundTripper, limiter ratelimit.Limiter) (*ThrottlingRoundTripper, error) {
	return NewThrottlingRoundTripperWithOpts(delegate, limiter, ThrottlingRoundTripperOpts{})
}

// NewThrottlingRoundTripperWithOpts creates a new ThrottlingRoundTripper with the given limiter and options.
// For options that are not presented, the default values will be used.
func NewThrottlingRoundTripperWithOpts(
	delegate http.RoundTripper, limiter ratelimit.Limiter, opts ThrottlingRoundTripperOpts,
) (*ThrottlingRoundTripper, error) {
	if limiter == nil {
		return nil, fmt.Errorf("limiter must be provided")
	}
	if opts.WaitTimeout < 0 {
		return nil, fmt.Errorf("wait timeout must be positive")
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = DefaultThrottlingWaitTimeout
	}
	if opts.KeyProvider == nil {
		opts.KeyProvider = func(r *http.Request) string { return r.Host }
	}
	return &ThrottlingRoundTripper{
		Delegate:    delegate,
		Limiter:     limiter,
		WaitTimeout: opts.WaitTimeout,
		KeyProvider: opts.KeyProvider,
	}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
// When the limit for the request's key is exceeded, it waits until the limiter reports a free slot,
// but no longer than WaitTimeout.
func (rt *ThrottlingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		defer func() {
			_ = r.Body.Close() // Per RoundTripper contract.
		}()
	}

	key := rt.KeyProvider(r)

	waitCtx, cancel := context.WithTimeout(r.Context(), rt.WaitTimeout)
	defer cancel()

	for {
		allow, retryAfter, err := rt.Limiter.Allow(r.Context(), key)
		if err != nil {
			return nil, fmt.Errorf("check throttling limit for key %q: %w", key, err)
		}
		if allow {
			return rt.Delegate.RoundTrip(r)
		}

		if retryAfter <= 0 {
			retryAfter = DefaultThrottlingRetryInterval
		}
		retryTimer := time.NewTimer(retryAfter)
		select {
		case <-waitCtx.Done():
			retryTimer.Stop()
			return nil, &ThrottlingWaitError{Inner: waitCtx.Err()}
		case <-retryTimer.C:
		}
	}
}

// ThrottlingWaitError is returned in RoundTrip method of ThrottlingRoundTripper
// when a free slot is not received within the wait timeout.
type ThrottlingWaitError struct {
	Inner error
}

func (e *ThrottlingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side throttling: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *ThrottlingWaitError) Unwrap() error {
	return e.Inner
}
