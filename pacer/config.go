/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"fmt"
	"time"

	"github.com/acronis/go-apipacer/config"
)

const cfgDefaultKeyPrefix = "pacer"

const (
	cfgKeyEnabled                 = "enabled"
	cfgKeySampleWindowSize        = "sampleWindowSize"
	cfgKeyMinPermitsPerMinute     = "minPermitsPerMinute"
	cfgKeyMaxPermitsPerMinute     = "maxPermitsPerMinute"
	cfgKeyMaxRetainedRecords      = "maxRetainedRecords"
	cfgKeyGracefulShutdownTimeout = "gracefulShutdownTimeout"
	cfgKeyIdlePollInterval        = "idlePollInterval"
)

// Default configuration values.
const (
	DefaultSampleWindowSize        = 50
	DefaultMinPermitsPerMinute     = 1.0
	DefaultMaxPermitsPerMinute     = 120.0
	DefaultMaxRetainedRecords      = 10000
	DefaultGracefulShutdownTimeout = 30 * time.Second
	DefaultIdlePollInterval        = time.Second
)

// Config represents a set of configuration parameters for the pacing engine.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Enabled tells consumers whether calls should be routed through the engine at all.
	// The engine itself does not look at it; wiring code (for example the HTTP client)
	// checks it before putting the engine into the request path.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// SampleWindowSize is the number of most recent call durations the pacing rate is derived from.
	SampleWindowSize int `mapstructure:"sampleWindowSize" yaml:"sampleWindowSize" json:"sampleWindowSize"`

	// MinPermitsPerMinute is the lower clamp bound for the derived pacing rate.
	MinPermitsPerMinute float64 `mapstructure:"minPermitsPerMinute" yaml:"minPermitsPerMinute" json:"minPermitsPerMinute"`

	// MaxPermitsPerMinute is the upper clamp bound for the derived pacing rate.
	MaxPermitsPerMinute float64 `mapstructure:"maxPermitsPerMinute" yaml:"maxPermitsPerMinute" json:"maxPermitsPerMinute"`

	// MaxRetainedRecords bounds the number of request records kept in memory.
	// Non-positive values fall back to DefaultMaxRetainedRecords.
	MaxRetainedRecords int `mapstructure:"maxRetainedRecords" yaml:"maxRetainedRecords" json:"maxRetainedRecords"`

	// GracefulShutdownTimeout bounds how long Shutdown waits for the worker to finish
	// the in-flight call before cancelling its context.
	GracefulShutdownTimeout config.TimeDuration `mapstructure:"gracefulShutdownTimeout" yaml:"gracefulShutdownTimeout" json:"gracefulShutdownTimeout"`

	// IdlePollInterval bounds how long the worker sleeps between queue checks while idle.
	IdlePollInterval config.TimeDuration `mapstructure:"idlePollInterval" yaml:"idlePollInterval" json:"idlePollInterval"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

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
		keyPrefix:               opts.keyPrefix,
		Enabled:                 true,
		SampleWindowSize:        DefaultSampleWindowSize,
		MinPermitsPerMinute:     DefaultMinPermitsPerMinute,
		MaxPermitsPerMinute:     DefaultMaxPermitsPerMinute,
		MaxRetainedRecords:      DefaultMaxRetainedRecords,
		GracefulShutdownTimeout: config.TimeDuration(DefaultGracefulShutdownTimeout),
		IdlePollInterval:        config.TimeDuration(DefaultIdlePollInterval),
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

// SetProviderDefaults sets default configuration values for the pacing engine in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeySampleWindowSize, DefaultSampleWindowSize)
	dp.SetDefault(cfgKeyMinPermitsPerMinute, DefaultMinPermitsPerMinute)
	dp.SetDefault(cfgKeyMaxPermitsPerMinute, DefaultMaxPermitsPerMinute)
	dp.SetDefault(cfgKeyMaxRetainedRecords, DefaultMaxRetainedRecords)
	dp.SetDefault(cfgKeyGracefulShutdownTimeout, DefaultGracefulShutdownTimeout.String())
	dp.SetDefault(cfgKeyIdlePollInterval, DefaultIdlePollInterval.String())
}

// Set sets pacing engine configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}

	if c.SampleWindowSize, err = dp.GetInt(cfgKeySampleWindowSize); err != nil {
		return err
	}
	if c.SampleWindowSize <= 0 {
		return dp.WrapKeyErr(cfgKeySampleWindowSize, fmt.Errorf("should be positive"))
	}

	if c.MinPermitsPerMinute, err = dp.GetFloat64(cfgKeyMinPermitsPerMinute); err != nil {
		return err
	}
	if c.MinPermitsPerMinute <= 0 {
		return dp.WrapKeyErr(cfgKeyMinPermitsPerMinute, fmt.Errorf("should be positive"))
	}

	if c.MaxPermitsPerMinute, err = dp.GetFloat64(cfgKeyMaxPermitsPerMinute); err != nil {
		return err
	}
	if c.MaxPermitsPerMinute < c.MinPermitsPerMinute {
		return dp.WrapKeyErr(cfgKeyMaxPermitsPerMinute,
			fmt.Errorf("should be >= %s (%v)", cfgKeyMinPermitsPerMinute, c.MinPermitsPerMinute))
	}

	// Non-positive values are allowed and fall back to the default at engine construction.
	if c.MaxRetainedRecords, err = dp.GetInt(cfgKeyMaxRetainedRecords); err != nil {
		return err
	}

	var gracefulShutdownTimeout time.Duration
	if gracefulShutdownTimeout, err = dp.GetDuration(cfgKeyGracefulShutdownTimeout); err != nil {
		return err
	}
	if gracefulShutdownTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyGracefulShutdownTimeout, fmt.Errorf("should be >= 0"))
	}
	c.GracefulShutdownTimeout = config.TimeDuration(gracefulShutdownTimeout)

	var idlePollInterval time.Duration
	if idlePollInterval, err = dp.GetDuration(cfgKeyIdlePollInterval); err != nil {
		return err
	}
	if idlePollInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyIdlePollInterval, fmt.Errorf("should be positive"))
	}
	c.IdlePollInterval = config.TimeDuration(idlePollInterval)

	return nil
}
