/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an HTTP client whose outgoing requests can be paced by the pacer engine,
// throttled, rate limited (with adaptation based on response headers), retried, logged and measured.
// All round trippers are composable and can be used separately from each other.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-apipacer/log"
	"github.com/acronis/go-apipacer/pacer"
)

// Opts provides options for NewWithOpts function.
type Opts struct {
	// UserAgent is a user agent string that will be set in the User-Agent header if it's empty.
	UserAgent string

	// RequestType specifies the type of outgoing requests for logging and metrics.
	RequestType string

	// Delegate is an underlying round tripper. http.DefaultTransport clone is used if it's not provided.
	Delegate http.RoundTripper

	// Logger is used for logging of outgoing requests and retries.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	// It overrides Logger when both are set.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider is a function that provides a request ID for the X-Request-ID header.
	RequestIDProvider func(ctx context.Context) string

	// Collector is a metrics collector for outgoing requests.
	Collector MetricsCollector

	// PacerEngine is an engine that paces outgoing requests.
	// Pacing is skipped when it's not provided, even if it's enabled in the configuration.
	PacerEngine *pacer.Engine
}

// New creates a new http.Client with retries, throttling, rate limiting, pacing, logging
// and metrics according to the passed configuration.
func New(cfg *Config) (*http.Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// Must creates a new http.Client and panics if any error occurs.
func Must(cfg *Config) *http.Client {
	client, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// NewWithOpts creates a new http.Client with retries, throttling, rate limiting, pacing, logging
// and metrics according to the passed configuration and options.
//
// Round trippers are applied to each request in the following order: retries, request ID, user agent,
// throttling, rate limiting, pacing, metrics, logging. Waits caused by throttling and rate limiting
// happen before the request is submitted to the pacing engine, so measured latency reflects only
// the downstream service. Each retry attempt is paced separately.
func NewWithOpts(cfg *Config, opts Opts) (*http.Client, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}

	if cfg.Logger.Enabled {
		loggingOpts := cfg.Logger.TransportOpts()
		loggingOpts.Logger = opts.Logger
		loggingOpts.LoggerProvider = opts.LoggerProvider
		loggingOpts.RequestType = opts.RequestType
		delegate = NewLoggingRoundTripperWithOpts(delegate, loggingOpts)
	}

	if cfg.Metrics.Enabled {
		delegate = NewMetricsRoundTripperWithOpts(delegate, MetricsRoundTripperOpts{
			RequestType: opts.RequestType,
			Collector:   opts.Collector,
		})
	}

	if cfg.Pacing.Enabled && opts.PacerEngine != nil {
		pacingRoundTripper, err := NewPacingRoundTripperWithOpts(delegate, opts.PacerEngine, cfg.Pacing.TransportOpts())
		if err != nil {
			return nil, fmt.Errorf("create pacing round tripper: %w", err)
		}
		delegate = pacingRoundTripper
	}

	if cfg.RateLimits.Enabled {
		rateLimitingRoundTripper, err := NewRateLimitingRoundTripperWithOpts(
			delegate, cfg.RateLimits.Limit, cfg.RateLimits.TransportOpts())
		if err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
		delegate = rateLimitingRoundTripper
	}

	if cfg.Throttling.Enabled {
		limiter, err := cfg.Throttling.MakeLimiter()
		if err != nil {
			return nil, fmt.Errorf("create throttling limiter: %w", err)
		}
		throttlingRoundTripper, err := NewThrottlingRoundTripperWithOpts(delegate, limiter, cfg.Throttling.TransportOpts())
		if err != nil {
			return nil, fmt.Errorf("create throttling round tripper: %w", err)
		}
		delegate = throttlingRoundTripper
	}

	if opts.UserAgent != "" {
		delegate = NewUserAgentRoundTripper(delegate, opts.UserAgent)
	}

	delegate = NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{
		RequestIDProvider: opts.RequestIDProvider,
	})

	if cfg.Retries.Enabled {
		retryableRoundTripper, err := NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{
			Logger:           opts.Logger,
			LoggerProvider:   opts.LoggerProvider,
			MaxRetryAttempts: cfg.Retries.MaxAttempts,
			BackoffPolicy:    cfg.Retries.GetPolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("create retryable round tripper: %w", err)
		}
		delegate = retryableRoundTripper
	}

	return &http.Client{Transport: delegate, Timeout: time.Duration(cfg.Timeout)}, nil
}

// MustWithOpts creates a new http.Client with options and panics if any error occurs.
func MustWithOpts(cfg *Config, opts Opts) *http.Client {
	client, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return client
}

// CloneHTTPRequest creates a shallow copy of the request along with a deep copy of the Headers.
func CloneHTTPRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = CloneHTTPHeader(req.Header)
	return r
}

// CloneHTTPHeader creates a deep copy of an http.Header.
func CloneHTTPHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		newValues := make([]string, len(values))
		copy(newValues, values)
		out[key] = newValues
	}
	return out
}
