/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-apipacer/config"
	"github.com/acronis/go-apipacer/log/logtest"
	"github.com/acronis/go-apipacer/ratelimit"
	"github.com/acronis/go-apipacer/testutil"
)

func TestNew(t *testing.T) {
	var mu sync.Mutex
	var receivedRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		receivedRequestID = r.Header.Get("X-Request-ID")
		mu.Unlock()
		rw.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	t.Run("with config", func(t *testing.T) {
		client, err := New(NewConfig())
		require.NoError(t, err)
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusTeapot, resp.StatusCode)
		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, receivedRequestID, "request ID should be set even with all-default configuration")
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := New(nil)
		require.NoError(t, err)
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusTeapot, resp.StatusCode)
	})
}

func TestMust(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		require.NotNil(t, Must(NewConfig()))
	})

	t.Run("panic on invalid config", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Throttling.Enabled = true
		cfg.Throttling.Alg = "fifo"
		cfg.Throttling.Rate = ratelimit.Rate{Count: 10, Duration: time.Second}
		require.Panics(t, func() { Must(cfg) })
	})
}

func TestMustWithOpts(t *testing.T) {
	t.Run("ok, client timeout is configured", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Timeout = config.TimeDuration(time.Second * 30)
		client := MustWithOpts(cfg, Opts{UserAgent: "pacer-client/1.0"})
		require.Equal(t, time.Second*30, client.Timeout)
	})

	t.Run("panic on invalid config", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Retries.Enabled = true
		cfg.Retries.MaxAttempts = -2
		require.Panics(t, func() { MustWithOpts(cfg, Opts{}) })
	})
}

func TestNewWithOpts_Errors(t *testing.T) {
	tests := []struct {
		name           string
		makeCfg        func() *Config
		expectedErrMsg string
	}{
		{
			name: "unknown throttling algorithm",
			makeCfg: func() *Config {
				cfg := NewConfig()
				cfg.Throttling.Enabled = true
				cfg.Throttling.Alg = "fifo"
				cfg.Throttling.Rate = ratelimit.Rate{Count: 10, Duration: time.Second}
				return cfg
			},
			expectedErrMsg: "create throttling limiter",
		},
		{
			name: "non-positive rate limit",
			makeCfg: func() *Config {
				cfg := NewConfig()
				cfg.RateLimits.Enabled = true
				return cfg
			},
			expectedErrMsg: "create rate limiting round tripper: rate limit must be positive",
		},
		{
			name: "incorrect max retry attempts",
			makeCfg: func() *Config {
				cfg := NewConfig()
				cfg.Retries.Enabled = true
				cfg.Retries.MaxAttempts = -2
				return cfg
			},
			expectedErrMsg: "create retryable round tripper: incorrect max retry attempts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithOpts(tt.makeCfg(), Opts{})
			require.ErrorContains(t, err, tt.expectedErrMsg)
		})
	}
}

func TestNewWithOptsFullChain(t *testing.T) {
	var mu sync.Mutex
	var receivedUserAgent, receivedRequestID string
	var receivedRetryAttempts []string
	var requestsCount int
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestsCount++
		count := requestsCount
		receivedUserAgent = r.Header.Get("User-Agent")
		receivedRequestID = r.Header.Get("X-Request-ID")
		receivedRetryAttempts = append(receivedRetryAttempts, r.Header.Get(RetryAttemptNumberHeader))
		mu.Unlock()
		if count == 1 {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := makePacerEngineForTest(60000)
	defer func() { _ = engine.Shutdown() }()

	collector := NewPrometheusMetricsCollector("")
	logger := logtest.NewRecorder()

	cfg := NewConfig()
	cfg.Retries.Enabled = true
	cfg.Retries.MaxAttempts = 2
	cfg.Retries.Policy.Strategy = RetryPolicyConstant
	cfg.Retries.Policy.ConstantBackoffInterval = config.TimeDuration(time.Millisecond * 10)
	cfg.RateLimits.Enabled = true
	cfg.RateLimits.Limit = 100
	cfg.RateLimits.Burst = 100
	cfg.Throttling.Enabled = true
	cfg.Throttling.Alg = ThrottlingAlgTokenBucket
	cfg.Throttling.Rate = ratelimit.Rate{Count: 100, Duration: time.Second}
	cfg.Throttling.Burst = 100
	cfg.Throttling.KeyScope = ThrottlingKeyScopeHost
	cfg.Pacing.Enabled = true
	cfg.Logger.Enabled = true
	cfg.Logger.Mode = LoggingModeAll
	cfg.Metrics.Enabled = true

	client, err := NewWithOpts(cfg, Opts{
		UserAgent:   "pacer-client/1.0",
		RequestType: "test-service",
		Logger:      logger,
		Collector:   collector,
		PacerEngine: engine,
	})
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	require.Equal(t, 2, requestsCount, "503 response should be retried")
	require.Equal(t, "pacer-client/1.0", receivedUserAgent)
	require.NotEmpty(t, receivedRequestID)
	require.Equal(t, []string{"", "1"}, receivedRetryAttempts)
	mu.Unlock()

	entries := logger.Entries()
	require.Len(t, entries, 2, "each attempt should be logged")
	requireLogFieldInt(t, entries[0], "status_code", http.StatusServiceUnavailable)
	requireLogFieldInt(t, entries[1], "status_code", http.StatusOK)

	labels := prometheus.Labels{
		"type":           "test-service",
		"remote_address": strings.TrimPrefix(server.URL, "http://"),
		"summary":        "GET test-service",
		"status":         "503",
	}
	testutil.RequireSamplesCountInHistogram(t, collector.Durations.With(labels).(prometheus.Histogram), 1)
	labels["status"] = "200"
	testutil.RequireSamplesCountInHistogram(t, collector.Durations.With(labels).(prometheus.Histogram), 1)

	// Each retry attempt goes through the pacing engine as a separate call.
	require.Eventually(t, func() bool {
		return engine.GetStats().CompletedCount == 2
	}, time.Second, time.Millisecond*10)
}
