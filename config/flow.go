package config

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbukum/flowkit/adaptive"
	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/redis"
	"github.com/kbukum/flowkit/resilience"
	"github.com/kbukum/flowkit/validation"
)

// FlowConfig is the configuration file layout for services built on
// flowkit. Durations are strings parsed with time.ParseDuration.
type FlowConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Retry     RetrySection     `yaml:"retry" mapstructure:"retry"`
	Timeout   TimeoutSection   `yaml:"timeout" mapstructure:"timeout"`
	Cache     CacheSection     `yaml:"cache" mapstructure:"cache"`
	Adaptive  AdaptiveSection  `yaml:"adaptive" mapstructure:"adaptive"`
	Telemetry TelemetrySection `yaml:"telemetry" mapstructure:"telemetry"`
	Redis     redis.Config     `yaml:"redis" mapstructure:"redis"`
}

// RetrySection holds retry defaults.
type RetrySection struct {
	// MaxRetries is the number of retries after the first attempt; unset
	// means the default of 3 and 0 disables retrying.
	MaxRetries     *int    `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelay   string  `yaml:"initial_delay" mapstructure:"initial_delay"`
	Backoff        float64 `yaml:"backoff" mapstructure:"backoff"`
	MaxDelay       string  `yaml:"max_delay" mapstructure:"max_delay"`
	Jitter         bool    `yaml:"jitter" mapstructure:"jitter"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// TimeoutSection holds timeout defaults.
type TimeoutSection struct {
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
	Grace   string `yaml:"grace" mapstructure:"grace"`
}

// CacheSection holds cache defaults.
type CacheSection struct {
	TTL        string `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	// Durable backs caches with Redis when the redis section is enabled.
	Durable bool `yaml:"durable" mapstructure:"durable"`
}

// AdaptiveSection holds the learning engine options.
type AdaptiveSection struct {
	// Mode is disabled, observe, validate or active.
	Mode                string  `yaml:"mode" mapstructure:"mode"`
	MaxStrategies       int     `yaml:"max_strategies" mapstructure:"max_strategies"`
	ValidationWindow    int     `yaml:"validation_window" mapstructure:"validation_window"`
	ValidationTolerance float64 `yaml:"validation_tolerance" mapstructure:"validation_tolerance"`
	BreakerThreshold    float64 `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerMinSamples   int     `yaml:"breaker_min_samples" mapstructure:"breaker_min_samples"`
	BreakerWindow       int     `yaml:"breaker_window" mapstructure:"breaker_window"`
	BreakerCooldown     string  `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
	LearnCooldown       string  `yaml:"learn_cooldown" mapstructure:"learn_cooldown"`

	// Sink is where strategies are persisted: none, memory, file or redis.
	Sink     string `yaml:"sink" mapstructure:"sink"`
	SinkFile string `yaml:"sink_file" mapstructure:"sink_file"`
}

// TelemetrySection configures OTLP export and the Prometheus collector.
type TelemetrySection struct {
	Enabled        bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint       string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRate     float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	MetricInterval string  `yaml:"metric_interval" mapstructure:"metric_interval"`
	// Prometheus selects the Prometheus collector instead of OpenTelemetry.
	Prometheus bool   `yaml:"prometheus" mapstructure:"prometheus"`
	Namespace  string `yaml:"namespace" mapstructure:"namespace"`
}

// ApplyDefaults fills every unset field.
func (c *FlowConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()

	retry := resilience.DefaultRetryPolicy()
	if c.Retry.MaxRetries == nil {
		n := retry.MaxRetries
		c.Retry.MaxRetries = &n
	}
	if c.Retry.InitialDelay == "" {
		c.Retry.InitialDelay = retry.InitialDelay.String()
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = retry.Backoff
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = retry.MaxDelay.String()
	}

	if c.Timeout.Timeout == "" {
		c.Timeout.Timeout = "30s"
	}
	if c.Timeout.Grace == "" {
		c.Timeout.Grace = "0s"
	}

	cache := resilience.DefaultCachePolicy()
	if c.Cache.TTL == "" {
		c.Cache.TTL = cache.TTL.String()
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = cache.MaxEntries
	}

	opts := adaptive.DefaultOptions()
	if c.Adaptive.MaxStrategies <= 0 {
		c.Adaptive.MaxStrategies = opts.MaxStrategies
	}
	if c.Adaptive.ValidationWindow <= 0 {
		c.Adaptive.ValidationWindow = opts.ValidationWindow
	}
	if c.Adaptive.ValidationTolerance == 0 {
		c.Adaptive.ValidationTolerance = opts.ValidationTolerance
	}
	if c.Adaptive.BreakerThreshold == 0 {
		c.Adaptive.BreakerThreshold = opts.BreakerThreshold
	}
	if c.Adaptive.BreakerMinSamples <= 0 {
		c.Adaptive.BreakerMinSamples = opts.BreakerMinSamples
	}
	if c.Adaptive.BreakerWindow <= 0 {
		c.Adaptive.BreakerWindow = opts.BreakerWindow
	}
	if c.Adaptive.BreakerCooldown == "" {
		c.Adaptive.BreakerCooldown = opts.BreakerCooldown.String()
	}
	if c.Adaptive.LearnCooldown == "" {
		c.Adaptive.LearnCooldown = opts.LearnCooldown.String()
	}
	if c.Adaptive.Sink == "" {
		c.Adaptive.Sink = "none"
	}
	if c.Adaptive.Sink == "file" && c.Adaptive.SinkFile == "" {
		c.Adaptive.SinkFile = "strategies.yaml"
	}

	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "15s"
	}
	if c.Telemetry.Namespace == "" {
		c.Telemetry.Namespace = "flowkit"
	}

	c.Redis.ApplyDefaults()
}

// Validate checks every section; conversions below assume it passed.
func (c *FlowConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"retry.initial_delay":       c.Retry.InitialDelay,
		"retry.max_delay":           c.Retry.MaxDelay,
		"timeout.timeout":           c.Timeout.Timeout,
		"timeout.grace":             c.Timeout.Grace,
		"cache.ttl":                 c.Cache.TTL,
		"adaptive.breaker_cooldown": c.Adaptive.BreakerCooldown,
		"adaptive.learn_cooldown":   c.Adaptive.LearnCooldown,
		"telemetry.metric_interval": c.Telemetry.MetricInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return apperrors.Configurationf("invalid %s %q: %v", name, v, err)
		}
	}
	if _, err := adaptive.ParseMode(c.Adaptive.Mode); err != nil {
		return err
	}
	switch c.Adaptive.Sink {
	case "none", "memory", "file":
	case "redis":
		if !c.Redis.Enabled {
			return apperrors.Configuration("adaptive.sink redis requires redis.enabled")
		}
	default:
		return apperrors.Configurationf("adaptive.sink must be one of [none memory file redis] (got: %s)", c.Adaptive.Sink)
	}
	if c.Cache.Durable && !c.Redis.Enabled {
		return apperrors.Configuration("cache.durable requires redis.enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return apperrors.Configurationf("telemetry.sample_rate must be within [0, 1] (got: %v)", c.Telemetry.SampleRate)
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}

	// The typed configs carry the numeric constraints.
	if err := validation.Validate(c.RetryConfig().RetryPolicy); err != nil {
		return err
	}
	if err := validation.Validate(c.CachePolicy()); err != nil {
		return err
	}
	return validation.Validate(c.TimeoutConfig())
}

// parseDuration converts a duration field. Validate has already rejected
// unparseable values, so the error is not reported again.
func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// RetryConfig converts the retry section.
func (c *FlowConfig) RetryConfig() resilience.RetryConfig {
	maxRetries := resilience.DefaultRetryPolicy().MaxRetries
	if c.Retry.MaxRetries != nil {
		maxRetries = *c.Retry.MaxRetries
	}
	return resilience.RetryConfig{RetryPolicy: resilience.RetryPolicy{
		MaxRetries:     maxRetries,
		InitialDelay:   parseDuration(c.Retry.InitialDelay),
		Backoff:        c.Retry.Backoff,
		MaxDelay:       parseDuration(c.Retry.MaxDelay),
		Jitter:         c.Retry.Jitter,
		JitterFraction: c.Retry.JitterFraction,
	}}
}

// TimeoutConfig converts the timeout section.
func (c *FlowConfig) TimeoutConfig() resilience.TimeoutConfig {
	return resilience.TimeoutConfig{
		Timeout: parseDuration(c.Timeout.Timeout),
		Grace:   parseDuration(c.Timeout.Grace),
	}
}

// CachePolicy converts the cache section.
func (c *FlowConfig) CachePolicy() resilience.CachePolicy {
	return resilience.CachePolicy{
		TTL:        parseDuration(c.Cache.TTL),
		MaxEntries: c.Cache.MaxEntries,
	}
}

// AdaptiveOptions converts the adaptive section. The sink is left for
// StrategySink to build since it may need a Redis client.
func (c *FlowConfig) AdaptiveOptions() adaptive.Options {
	mode, _ := adaptive.ParseMode(c.Adaptive.Mode)
	return adaptive.Options{
		Mode:                mode,
		MaxStrategies:       c.Adaptive.MaxStrategies,
		ValidationWindow:    c.Adaptive.ValidationWindow,
		ValidationTolerance: c.Adaptive.ValidationTolerance,
		BreakerThreshold:    c.Adaptive.BreakerThreshold,
		BreakerMinSamples:   c.Adaptive.BreakerMinSamples,
		BreakerWindow:       c.Adaptive.BreakerWindow,
		BreakerCooldown:     parseDuration(c.Adaptive.BreakerCooldown),
		LearnCooldown:       parseDuration(c.Adaptive.LearnCooldown),
	}
}

// StrategySink builds the configured sink. client is only used for the
// redis sink; nil is returned for "none".
func (c *FlowConfig) StrategySink(client *redis.Client) (adaptive.Sink, error) {
	switch c.Adaptive.Sink {
	case "memory":
		return adaptive.NewMemorySink(), nil
	case "file":
		return adaptive.NewFileSink(c.Adaptive.SinkFile), nil
	case "redis":
		if client == nil {
			return nil, apperrors.Configuration("adaptive.sink redis needs a redis client")
		}
		return redis.NewStrategySink(client), nil
	default:
		return nil, nil
	}
}

// CacheStore returns a Redis-backed store for the named cache when
// cache.durable is set, nil otherwise.
func (c *FlowConfig) CacheStore(client *redis.Client, name string) resilience.Store {
	if !c.Cache.Durable || client == nil {
		return nil
	}
	return redis.NewCacheStore(client, name)
}

// TracerConfig converts the telemetry section for observability.InitTracer.
func (c *FlowConfig) TracerConfig() observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:    c.Name,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SampleRate:     c.Telemetry.SampleRate,
	}
}

// MeterConfig converts the telemetry section for observability.InitMeter.
func (c *FlowConfig) MeterConfig() observability.MeterConfig {
	return observability.MeterConfig{
		ServiceName:    c.Name,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		Interval:       parseDuration(c.Telemetry.MetricInterval),
	}
}

// Collector builds the telemetry collector: Prometheus registered on reg
// when telemetry.prometheus is set, the global OpenTelemetry providers when
// telemetry is enabled, and a no-op collector otherwise.
func (c *FlowConfig) Collector(reg prometheus.Registerer) observability.Collector {
	switch {
	case c.Telemetry.Prometheus:
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		return observability.NewPrometheusCollector(reg, c.Telemetry.Namespace)
	case c.Telemetry.Enabled:
		return observability.NewGlobalOTelCollector()
	default:
		return observability.Nop()
	}
}

// LoadFlowConfig loads, defaults and validates a FlowConfig.
func LoadFlowConfig(serviceName string, opts ...LoaderOption) (*FlowConfig, error) {
	var cfg FlowConfig
	if err := LoadConfig(serviceName, &cfg, opts...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = serviceName
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
