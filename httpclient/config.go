/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-apipacer/config"
	"github.com/acronis/go-apipacer/ratelimit"
	"github.com/acronis/go-apipacer/retry"
)

const cfgDefaultKeyPrefix = "httpClient"

const (
	cfgKeyTimeout                                 = "timeout"
	cfgKeyRetriesEnabled                          = "retries.enabled"
	cfgKeyRetriesMaxAttempts                      = "retries.maxAttempts"
	cfgKeyRetriesPolicyStrategy                   = "retries.policy.strategy"
	cfgKeyRetriesPolicyExponentialInitialInterval = "retries.policy.exponentialBackoffInitialInterval"
	cfgKeyRetriesPolicyExponentialMultiplier      = "retries.policy.exponentialBackoffMultiplier"
	cfgKeyRetriesPolicyConstantInterval           = "retries.policy.constantBackoffInterval"
	cfgKeyRateLimitsEnabled                       = "rateLimits.enabled"
	cfgKeyRateLimitsLimit                         = "rateLimits.limit"
	cfgKeyRateLimitsBurst                         = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout                   = "rateLimits.waitTimeout"
	cfgKeyRateLimitsAdaptationResponseHeaderName  = "rateLimits.adaptation.responseHeaderName"
	cfgKeyRateLimitsAdaptationSlackPercent        = "rateLimits.adaptation.slackPercent"
	cfgKeyThrottlingEnabled                       = "throttling.enabled"
	cfgKeyThrottlingAlg                           = "throttling.alg"
	cfgKeyThrottlingRate                          = "throttling.rate"
	cfgKeyThrottlingBurst                         = "throttling.burst"
	cfgKeyThrottlingKeyScope                      = "throttling.keyScope"
	cfgKeyThrottlingMaxKeys                       = "throttling.maxKeys"
	cfgKeyThrottlingWaitTimeout                   = "throttling.waitTimeout"
	cfgKeyPacingEnabled                           = "pacing.enabled"
	cfgKeyPacingBypassPaths                       = "pacing.bypassPaths"
	cfgKeyLoggerEnabled                           = "logger.enabled"
	cfgKeyLoggerMode                              = "logger.mode"
	cfgKeyLoggerSlowRequestThreshold              = "logger.slowRequestThreshold"
	cfgKeyMetricsEnabled                          = "metrics.enabled"
)

// Retry policy strategies.
const (
	RetryPolicyExponential = "exponential"
	RetryPolicyConstant    = "constant"
)

// Throttling algorithms.
const (
	ThrottlingAlgTokenBucket   = "token_bucket"
	ThrottlingAlgLeakyBucket   = "leaky_bucket"
	ThrottlingAlgSlidingWindow = "sliding_window"
)

// Throttling key scopes.
const (
	ThrottlingKeyScopeGlobal = "global"
	ThrottlingKeyScopeHost   = "host"
)

// DefaultThrottlingMaxKeys is a default number of per-key limiters that can be kept in memory
// when per-host throttling is used.
const DefaultThrottlingMaxKeys = 1000

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// PolicyConfig represents configuration options for the retry policy.
type PolicyConfig struct {
	// Strategy is a strategy for retry policy: exponential or constant.
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`

	// ExponentialBackoffInitialInterval is the initial interval for exponential backoff.
	ExponentialBackoffInitialInterval config.TimeDuration `mapstructure:"exponentialBackoffInitialInterval" yaml:"exponentialBackoffInitialInterval" json:"exponentialBackoffInitialInterval"` // nolint:lll

	// ExponentialBackoffMultiplier is the multiplier for exponential backoff.
	ExponentialBackoffMultiplier float64 `mapstructure:"exponentialBackoffMultiplier" yaml:"exponentialBackoffMultiplier" json:"exponentialBackoffMultiplier"` // nolint:lll

	// ConstantBackoffInterval is the interval for constant backoff.
	ConstantBackoffInterval config.TimeDuration `mapstructure:"constantBackoffInterval" yaml:"constantBackoffInterval" json:"constantBackoffInterval"`
}

// Set sets retry policy configuration values from config.DataProvider.
func (c *PolicyConfig) Set(dp config.DataProvider) error {
	strategy, err := dp.GetString(cfgKeyRetriesPolicyStrategy)
	if err != nil {
		return err
	}
	strategy = strings.ToLower(strategy)
	if strategy != "" && strategy != RetryPolicyExponential && strategy != RetryPolicyConstant {
		return dp.WrapKeyErr(cfgKeyRetriesPolicyStrategy,
			fmt.Errorf("unknown value %q, should be one of [%s, %s]", strategy, RetryPolicyExponential, RetryPolicyConstant))
	}
	c.Strategy = strategy

	var initialInterval time.Duration
	if initialInterval, err = dp.GetDuration(cfgKeyRetriesPolicyExponentialInitialInterval); err != nil {
		return err
	}
	if initialInterval < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesPolicyExponentialInitialInterval, fmt.Errorf("should not be negative"))
	}
	c.ExponentialBackoffInitialInterval = config.TimeDuration(initialInterval)

	var multiplier float64
	if multiplier, err = dp.GetFloat64(cfgKeyRetriesPolicyExponentialMultiplier); err != nil {
		return err
	}
	if c.Strategy == RetryPolicyExponential && multiplier <= 1 {
		return dp.WrapKeyErr(cfgKeyRetriesPolicyExponentialMultiplier, fmt.Errorf("should be greater than 1"))
	}
	c.ExponentialBackoffMultiplier = multiplier

	var constantInterval time.Duration
	if constantInterval, err = dp.GetDuration(cfgKeyRetriesPolicyConstantInterval); err != nil {
		return err
	}
	if constantInterval < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesPolicyConstantInterval, fmt.Errorf("should not be negative"))
	}
	c.ConstantBackoffInterval = config.TimeDuration(constantInterval)

	return nil
}

// SetProviderDefaults sets default configuration values for the retry policy in config.DataProvider.
func (c *PolicyConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRetriesPolicyStrategy, RetryPolicyExponential)
	dp.SetDefault(cfgKeyRetriesPolicyExponentialInitialInterval, DefaultExponentialBackoffInitialInterval.String())
	dp.SetDefault(cfgKeyRetriesPolicyExponentialMultiplier, DefaultExponentialBackoffMultiplier)
	dp.SetDefault(cfgKeyRetriesPolicyConstantInterval, DefaultConstantBackoffInterval.String())
}

// RetriesConfig represents configuration options for HTTP client retries policy.
type RetriesConfig struct {
	// Enabled is a flag that enables retries.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxAttempts is the maximum number of attempts to retry the request.
	MaxAttempts int `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`

	// Policy of a retry: exponential or constant.
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy" json:"policy"`
}

// GetPolicy returns a retry policy based on the configured strategy or nil if none is provided.
func (c *RetriesConfig) GetPolicy() retry.Policy {
	switch c.Policy.Strategy {
	case RetryPolicyExponential:
		return retry.PolicyFunc(func() backoff.BackOff {
			bf := backoff.NewExponentialBackOff()
			bf.InitialInterval = time.Duration(c.Policy.ExponentialBackoffInitialInterval)
			bf.Multiplier = c.Policy.ExponentialBackoffMultiplier
			bf.Reset()
			return bf
		})
	case RetryPolicyConstant:
		return retry.PolicyFunc(func() backoff.BackOff {
			bf := backoff.NewConstantBackOff(time.Duration(c.Policy.ConstantBackoffInterval))
			bf.Reset()
			return bf
		})
	}
	return nil
}

// Set sets retries configuration values from config.DataProvider.
func (c *RetriesConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyRetriesEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	maxAttempts, err := dp.GetInt(cfgKeyRetriesMaxAttempts)
	if err != nil {
		return err
	}
	if maxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesMaxAttempts, fmt.Errorf("should not be negative"))
	}
	c.MaxAttempts = maxAttempts

	return c.Policy.Set(dp)
}

// SetProviderDefaults sets default configuration values for the retries in config.DataProvider.
func (c *RetriesConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRetriesEnabled, false)
	dp.SetDefault(cfgKeyRetriesMaxAttempts, DefaultMaxRetryAttempts)
	c.Policy.SetProviderDefaults(dp)
}

// TransportOpts returns options for RetryableRoundTripper based on the configuration.
func (c *RetriesConfig) TransportOpts() RetryableRoundTripperOpts {
	return RetryableRoundTripperOpts{MaxRetryAttempts: c.MaxAttempts}
}

// RateLimitsAdaptationConfig represents configuration options for adapting the rate limit
// in accordance with a value in the response's HTTP header.
type RateLimitsAdaptationConfig struct {
	// ResponseHeaderName is the name of the response HTTP header with the current rate limit value.
	ResponseHeaderName string `mapstructure:"responseHeaderName" yaml:"responseHeaderName" json:"responseHeaderName"`

	// SlackPercent is the percent of the rate limit from the response that will be subtracted.
	SlackPercent int `mapstructure:"slackPercent" yaml:"slackPercent" json:"slackPercent"`
}

// RateLimitsConfig represents configuration options for HTTP client rate limits.
type RateLimitsConfig struct {
	// Enabled is a flag that enables rate limiting.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Limit is the maximum number of requests per second.
	Limit int `mapstructure:"limit" yaml:"limit" json:"limit"`

	// Burst allows temporary spikes in request rate.
	Burst int `mapstructure:"burst" yaml:"burst" json:"burst"`

	// WaitTimeout is the maximum time to wait for a free slot when the limit is exceeded.
	WaitTimeout config.TimeDuration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`

	// Adaptation contains params to adapt the rate limit in accordance with the response's HTTP header.
	Adaptation RateLimitsAdaptationConfig `mapstructure:"adaptation" yaml:"adaptation" json:"adaptation"`
}

// Set sets rate limits configuration values from config.DataProvider.
func (c *RateLimitsConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyRateLimitsEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	limit, err := dp.GetInt(cfgKeyRateLimitsLimit)
	if err != nil {
		return err
	}
	if limit < 0 || (c.Enabled && limit == 0) {
		return dp.WrapKeyErr(cfgKeyRateLimitsLimit, fmt.Errorf("should be positive"))
	}
	c.Limit = limit

	burst, err := dp.GetInt(cfgKeyRateLimitsBurst)
	if err != nil {
		return err
	}
	if burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, fmt.Errorf("should not be negative"))
	}
	c.Burst = burst

	waitTimeout, err := dp.GetDuration(cfgKeyRateLimitsWaitTimeout)
	if err != nil {
		return err
	}
	if waitTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsWaitTimeout, fmt.Errorf("should not be negative"))
	}
	c.WaitTimeout = config.TimeDuration(waitTimeout)

	if c.Adaptation.ResponseHeaderName, err = dp.GetString(cfgKeyRateLimitsAdaptationResponseHeaderName); err != nil {
		return err
	}

	slackPercent, err := dp.GetInt(cfgKeyRateLimitsAdaptationSlackPercent)
	if err != nil {
		return err
	}
	if slackPercent < 0 || slackPercent > 100 {
		return dp.WrapKeyErr(cfgKeyRateLimitsAdaptationSlackPercent, fmt.Errorf("should be in range [0..100]"))
	}
	c.Adaptation.SlackPercent = slackPercent

	return nil
}

// SetProviderDefaults sets default configuration values for the rate limits in config.DataProvider.
func (c *RateLimitsConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRateLimitsEnabled, false)
	dp.SetDefault(cfgKeyRateLimitsLimit, 0)
	dp.SetDefault(cfgKeyRateLimitsBurst, 0)
	dp.SetDefault(cfgKeyRateLimitsWaitTimeout, "0s")
	dp.SetDefault(cfgKeyRateLimitsAdaptationResponseHeaderName, "")
	dp.SetDefault(cfgKeyRateLimitsAdaptationSlackPercent, 0)
}

// TransportOpts returns options for RateLimitingRoundTripper based on the configuration.
func (c *RateLimitsConfig) TransportOpts() RateLimitingRoundTripperOpts {
	return RateLimitingRoundTripperOpts{
		Burst:       c.Burst,
		WaitTimeout: time.Duration(c.WaitTimeout),
		Adaptation: RateLimitingRoundTripperAdaptation{
			ResponseHeaderName: c.Adaptation.ResponseHeaderName,
			SlackPercent:       c.Adaptation.SlackPercent,
		},
	}
}

// ThrottlingConfig represents configuration options for algorithmic throttling of outgoing requests.
type ThrottlingConfig struct {
	// Enabled is a flag that enables throttling.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Alg is a throttling algorithm: token_bucket, leaky_bucket or sliding_window.
	Alg string `mapstructure:"alg" yaml:"alg" json:"alg"`

	// Rate is the maximum rate of outgoing requests in N/(s|m|h) format, for example "100/m".
	Rate ratelimit.Rate `mapstructure:"rate" yaml:"rate" json:"rate"`

	// Burst allows temporary spikes in request rate (not used by the sliding_window algorithm).
	Burst int `mapstructure:"burst" yaml:"burst" json:"burst"`

	// KeyScope determines how requests are grouped for throttling: global or host.
	KeyScope string `mapstructure:"keyScope" yaml:"keyScope" json:"keyScope"`

	// MaxKeys bounds the number of per-key limiters kept in memory when KeyScope is host.
	// Non-positive values fall back to DefaultThrottlingMaxKeys.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// WaitTimeout is the maximum time to wait for a free slot when the limit is exceeded.
	WaitTimeout config.TimeDuration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
}

// Set sets throttling configuration values from config.DataProvider.
func (c *ThrottlingConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyThrottlingEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	alg, err := dp.GetStringFromSet(cfgKeyThrottlingAlg,
		[]string{ThrottlingAlgTokenBucket, ThrottlingAlgLeakyBucket, ThrottlingAlgSlidingWindow}, true)
	if err != nil {
		return err
	}
	c.Alg = strings.ToLower(alg)

	rateStr, err := dp.GetString(cfgKeyThrottlingRate)
	if err != nil {
		return err
	}
	if unmarshalErr := c.Rate.UnmarshalText([]byte(rateStr)); unmarshalErr != nil {
		return dp.WrapKeyErr(cfgKeyThrottlingRate, unmarshalErr)
	}
	if c.Enabled && c.Rate.IsZero() {
		return dp.WrapKeyErr(cfgKeyThrottlingRate, fmt.Errorf("should be specified, for example 10/s"))
	}

	burst, err := dp.GetInt(cfgKeyThrottlingBurst)
	if err != nil {
		return err
	}
	if burst < 0 {
		return dp.WrapKeyErr(cfgKeyThrottlingBurst, fmt.Errorf("should not be negative"))
	}
	c.Burst = burst

	keyScope, err := dp.GetStringFromSet(cfgKeyThrottlingKeyScope,
		[]string{ThrottlingKeyScopeGlobal, ThrottlingKeyScopeHost}, true)
	if err != nil {
		return err
	}
	c.KeyScope = strings.ToLower(keyScope)

	maxKeys, err := dp.GetInt(cfgKeyThrottlingMaxKeys)
	if err != nil {
		return err
	}
	if maxKeys < 0 {
		return dp.WrapKeyErr(cfgKeyThrottlingMaxKeys, fmt.Errorf("should not be negative"))
	}
	c.MaxKeys = maxKeys

	waitTimeout, err := dp.GetDuration(cfgKeyThrottlingWaitTimeout)
	if err != nil {
		return err
	}
	if waitTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyThrottlingWaitTimeout, fmt.Errorf("should not be negative"))
	}
	c.WaitTimeout = config.TimeDuration(waitTimeout)

	return nil
}

// SetProviderDefaults sets default configuration values for the throttling in config.DataProvider.
func (c *ThrottlingConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyThrottlingEnabled, false)
	dp.SetDefault(cfgKeyThrottlingAlg, ThrottlingAlgLeakyBucket)
	dp.SetDefault(cfgKeyThrottlingRate, "")
	dp.SetDefault(cfgKeyThrottlingBurst, 0)
	dp.SetDefault(cfgKeyThrottlingKeyScope, ThrottlingKeyScopeHost)
	dp.SetDefault(cfgKeyThrottlingMaxKeys, 0)
	dp.SetDefault(cfgKeyThrottlingWaitTimeout, "0s")
}

// MakeLimiter creates a rate limiter based on the configured algorithm.
func (c *ThrottlingConfig) MakeLimiter() (ratelimit.Limiter, error) {
	maxKeys := 0
	if c.KeyScope == ThrottlingKeyScopeHost {
		maxKeys = c.MaxKeys
		if maxKeys <= 0 {
			maxKeys = DefaultThrottlingMaxKeys
		}
	}
	switch c.Alg {
	case ThrottlingAlgTokenBucket:
		return ratelimit.NewTokenBucketLimiter(c.Rate, c.Burst, maxKeys)
	case ThrottlingAlgLeakyBucket:
		return ratelimit.NewLeakyBucketLimiter(c.Rate, c.Burst, maxKeys)
	case ThrottlingAlgSlidingWindow:
		return ratelimit.NewSlidingWindowLimiter(c.Rate, maxKeys)
	}
	return nil, fmt.Errorf("unknown throttling algorithm %q", c.Alg)
}

// TransportOpts returns options for ThrottlingRoundTripper based on the configuration.
func (c *ThrottlingConfig) TransportOpts() ThrottlingRoundTripperOpts {
	opts := ThrottlingRoundTripperOpts{WaitTimeout: time.Duration(c.WaitTimeout)}
	if c.KeyScope == ThrottlingKeyScopeGlobal {
		opts.KeyProvider = func(_ *http.Request) string { return "" }
	}
	return opts
}

// PacingConfig represents configuration options for routing outgoing requests through the pacing engine.
type PacingConfig struct {
	// Enabled is a flag that enables pacing.
	// The engine itself is passed via Opts when the client is created.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// BypassPaths contains glob patterns for URL paths that are sent directly, without pacing.
	BypassPaths []string `mapstructure:"bypassPaths" yaml:"bypassPaths" json:"bypassPaths"`
}

// Set sets pacing configuration values from config.DataProvider.
func (c *PacingConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyPacingEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	if c.BypassPaths, err = dp.GetStringSlice(cfgKeyPacingBypassPaths); err != nil {
		return err
	}

	return nil
}

// SetProviderDefaults sets default configuration values for the pacing in config.DataProvider.
func (c *PacingConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyPacingEnabled, true)
}

// TransportOpts returns options for PacingRoundTripper based on the configuration.
func (c *PacingConfig) TransportOpts() PacingRoundTripperOpts {
	return PacingRoundTripperOpts{BypassPaths: c.BypassPaths}
}

// LoggerConfig represents configuration options for HTTP client logs.
type LoggerConfig struct {
	// Enabled is a flag that enables logging.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Mode of logging: all, failed, none.
	Mode LoggingMode `mapstructure:"mode" yaml:"mode" json:"mode"`

	// SlowRequestThreshold is a minimum request duration for logging.
	SlowRequestThreshold config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// Set sets logger configuration values from config.DataProvider.
func (c *LoggerConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyLoggerEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	mode, err := dp.GetStringFromSet(cfgKeyLoggerMode,
		[]string{string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}, true)
	if err != nil {
		return err
	}
	c.Mode = LoggingMode(strings.ToLower(mode))

	slowRequestThreshold, err := dp.GetDuration(cfgKeyLoggerSlowRequestThreshold)
	if err != nil {
		return err
	}
	if slowRequestThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyLoggerSlowRequestThreshold, fmt.Errorf("should not be negative"))
	}
	c.SlowRequestThreshold = config.TimeDuration(slowRequestThreshold)

	return nil
}

// SetProviderDefaults sets default configuration values for the logger in config.DataProvider.
func (c *LoggerConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyLoggerEnabled, false)
	dp.SetDefault(cfgKeyLoggerMode, string(LoggingModeAll))
	dp.SetDefault(cfgKeyLoggerSlowRequestThreshold, "0s")
}

// TransportOpts returns options for LoggingRoundTripper based on the configuration.
func (c *LoggerConfig) TransportOpts() LoggingRoundTripperOpts {
	return LoggingRoundTripperOpts{
		Mode:                 c.Mode,
		SlowRequestThreshold: time.Duration(c.SlowRequestThreshold),
	}
}

// MetricsConfig represents configuration options for HTTP client metrics.
type MetricsConfig struct {
	// Enabled is a flag that enables metrics.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Set sets metrics configuration values from config.DataProvider.
func (c *MetricsConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyMetricsEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled
	return nil
}

// SetProviderDefaults sets default configuration values for the metrics in config.DataProvider.
func (c *MetricsConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMetricsEnabled, false)
}

// Config represents a set of configuration parameters for the HTTP client.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Retries is a configuration for HTTP client retries policy.
	Retries RetriesConfig `mapstructure:"retries" yaml:"retries" json:"retries"`

	// RateLimits is a configuration for adaptive rate limiting of outgoing requests.
	RateLimits RateLimitsConfig `mapstructure:"rateLimits" yaml:"rateLimits" json:"rateLimits"`

	// Throttling is a configuration for algorithmic throttling of outgoing requests.
	Throttling ThrottlingConfig `mapstructure:"throttling" yaml:"throttling" json:"throttling"`

	// Pacing is a configuration for routing outgoing requests through the pacing engine.
	Pacing PacingConfig `mapstructure:"pacing" yaml:"pacing" json:"pacing"`

	// Logger is a configuration for HTTP client logs.
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger" json:"logger"`

	// Metrics is a configuration for HTTP client metrics.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`

	// Timeout is the maximum time the whole request can take, including waits in the pacing queue.
	// Zero value (the default) means no limit, per-request context deadlines should be used instead.
	Timeout config.TimeDuration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	keyPrefix string
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix: opts.keyPrefix,
		Retries: RetriesConfig{
			MaxAttempts: DefaultMaxRetryAttempts,
			Policy: PolicyConfig{
				Strategy:                          RetryPolicyExponential,
				ExponentialBackoffInitialInterval: config.TimeDuration(DefaultExponentialBackoffInitialInterval),
				ExponentialBackoffMultiplier:      DefaultExponentialBackoffMultiplier,
				ConstantBackoffInterval:           config.TimeDuration(DefaultConstantBackoffInterval),
			},
		},
		Throttling: ThrottlingConfig{
			Alg:      ThrottlingAlgLeakyBucket,
			KeyScope: ThrottlingKeyScopeHost,
		},
		Pacing: PacingConfig{Enabled: true},
		Logger: LoggerConfig{Mode: LoggingModeAll},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the HTTP client in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTimeout, "0s")
	c.Retries.SetProviderDefaults(dp)
	c.RateLimits.SetProviderDefaults(dp)
	c.Throttling.SetProviderDefaults(dp)
	c.Pacing.SetProviderDefaults(dp)
	c.Logger.SetProviderDefaults(dp)
	c.Metrics.SetProviderDefaults(dp)
}

// Set sets HTTP client configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	timeout, err := dp.GetDuration(cfgKeyTimeout)
	if err != nil {
		return err
	}
	if timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, fmt.Errorf("should not be negative"))
	}
	c.Timeout = config.TimeDuration(timeout)

	if err = c.Retries.Set(dp); err != nil {
		return err
	}
	if err = c.RateLimits.Set(dp); err != nil {
		return err
	}
	if err = c.Throttling.Set(dp); err != nil {
		return err
	}
	if err = c.Pacing.Set(dp); err != nil {
		return err
	}
	if err = c.Logger.Set(dp); err != nil {
		return err
	}
	return c.Metrics.Set(dp)
}
