// Package config provides configuration loading and validation for the
// sensoria engine.
package config

import (
	"errors"
	"time"

	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
)

// Config is the top-level configuration struct for sensoria.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Attention     AttentionConfig     `mapstructure:"attention"`
	Replicator    ReplicatorConfig    `mapstructure:"replicator"`
	Sensor        SensorConfig        `mapstructure:"sensor"`
	Load          LoadMonitorConfig   `mapstructure:"load"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Directory     DirectoryConfig     `mapstructure:"directory"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Serve         ServeConfig         `mapstructure:"serve"`
}

// StoreConfig holds the tiered store base capacities, before load scaling.
type StoreConfig struct {
	HotLimit  int `mapstructure:"hot_limit"`
	WarmLimit int `mapstructure:"warm_limit"`
}

// AttentionConfig holds the attention tracker knobs. Battery caps are
// attention level names applied to users reporting that battery state.
type AttentionConfig struct {
	BatteryCapLow      string `mapstructure:"battery_cap_low"`
	BatteryCapCritical string `mapstructure:"battery_cap_critical"`
}

// ReplicatorConfig holds the replicator pool knobs.
type ReplicatorConfig struct {
	PoolSize       int `mapstructure:"pool_size"`
	BatchSize      int `mapstructure:"batch_size"`
	BatchTimeoutMS int `mapstructure:"batch_timeout_ms"`
}

// SensorConfig holds per-sensor worker knobs.
type SensorConfig struct {
	HibernateAfterMS    int      `mapstructure:"hibernate_after_ms"`
	IdleCheckIntervalMS int      `mapstructure:"idle_check_interval_ms"`
	PriorityAttributes  []string `mapstructure:"priority_attributes"`
}

// LoadMonitorConfig holds the system load monitor knobs.
type LoadMonitorConfig struct {
	SampleIntervalMS int `mapstructure:"sample_interval_ms"`
}

// PubSubConfig holds the bus knobs.
type PubSubConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// DirectoryConfig holds the sensor directory knobs.
type DirectoryConfig struct {
	StateConcurrency int `mapstructure:"state_concurrency"`
	StateTimeoutMS   int `mapstructure:"state_timeout_ms"`
}

// ObservabilityConfig holds logging and export knobs. An empty OTLPEndpoint
// disables export.
type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
}

// ServeConfig holds the serve command knobs.
type ServeConfig struct {
	Listen string `mapstructure:"listen"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidHotLimit indicates the hot tier capacity is not positive.
	ErrInvalidHotLimit = errors.New("store.hot_limit must be positive")
	// ErrInvalidWarmLimit indicates the warm tier capacity is not positive.
	ErrInvalidWarmLimit = errors.New("store.warm_limit must be positive")
	// ErrInvalidBatteryCap indicates a battery cap is not an attention level.
	ErrInvalidBatteryCap = errors.New("attention battery caps must be one of none, low, medium, high")
	// ErrInvalidPoolSize indicates the replicator pool size is not positive.
	ErrInvalidPoolSize = errors.New("replicator.pool_size must be positive")
	// ErrInvalidBatchSize indicates the replicator batch size is not positive.
	ErrInvalidBatchSize = errors.New("replicator.batch_size must be positive")
	// ErrInvalidBatchTimeout indicates the replicator batch timeout is not positive.
	ErrInvalidBatchTimeout = errors.New("replicator.batch_timeout_ms must be positive")
	// ErrInvalidHibernateAfter indicates the hibernation idle window is not positive.
	ErrInvalidHibernateAfter = errors.New("sensor.hibernate_after_ms must be positive")
	// ErrInvalidIdleCheckInterval indicates the idle check interval is not positive.
	ErrInvalidIdleCheckInterval = errors.New("sensor.idle_check_interval_ms must be positive")
	// ErrInvalidSampleInterval indicates the load sample interval is not positive.
	ErrInvalidSampleInterval = errors.New("load.sample_interval_ms must be positive")
	// ErrInvalidBufferSize indicates the pubsub buffer size is not positive.
	ErrInvalidBufferSize = errors.New("pubsub.buffer_size must be positive")
	// ErrInvalidStateConcurrency indicates the state fan-out concurrency is not positive.
	ErrInvalidStateConcurrency = errors.New("directory.state_concurrency must be positive")
	// ErrInvalidStateTimeout indicates the per-sensor state timeout is not positive.
	ErrInvalidStateTimeout = errors.New("directory.state_timeout_ms must be positive")
	// ErrInvalidLogLevel indicates the log level name is unknown.
	ErrInvalidLogLevel = errors.New("observability.log_level must be one of debug, info, warn, error")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Store.HotLimit <= 0 {
		return ErrInvalidHotLimit
	}

	if c.Store.WarmLimit <= 0 {
		return ErrInvalidWarmLimit
	}

	if err := c.validateAttention(); err != nil {
		return err
	}

	if err := c.validateReplicator(); err != nil {
		return err
	}

	if err := c.validateWorkers(); err != nil {
		return err
	}

	return c.validateObservability()
}

func (c *Config) validateAttention() error {
	for _, name := range []string{c.Attention.BatteryCapLow, c.Attention.BatteryCapCritical} {
		if _, ok := attention.ParseLevel(name); !ok {
			return ErrInvalidBatteryCap
		}
	}

	return nil
}

func (c *Config) validateReplicator() error {
	if c.Replicator.PoolSize <= 0 {
		return ErrInvalidPoolSize
	}

	if c.Replicator.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	if c.Replicator.BatchTimeoutMS <= 0 {
		return ErrInvalidBatchTimeout
	}

	return nil
}

func (c *Config) validateWorkers() error {
	if c.Sensor.HibernateAfterMS <= 0 {
		return ErrInvalidHibernateAfter
	}

	if c.Sensor.IdleCheckIntervalMS <= 0 {
		return ErrInvalidIdleCheckInterval
	}

	if c.Load.SampleIntervalMS <= 0 {
		return ErrInvalidSampleInterval
	}

	if c.PubSub.BufferSize <= 0 {
		return ErrInvalidBufferSize
	}

	if c.Directory.StateConcurrency <= 0 {
		return ErrInvalidStateConcurrency
	}

	if c.Directory.StateTimeoutMS <= 0 {
		return ErrInvalidStateTimeout
	}

	return nil
}

func (c *Config) validateObservability() error {
	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return ErrInvalidLogLevel
	}
}

// BatchTimeout is the replicator batch timeout as a duration.
func (c ReplicatorConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMS) * time.Millisecond
}

// HibernateAfter is the hibernation idle window as a duration.
func (c SensorConfig) HibernateAfter() time.Duration {
	return time.Duration(c.HibernateAfterMS) * time.Millisecond
}

// IdleCheckInterval is the hibernation check interval as a duration.
func (c SensorConfig) IdleCheckInterval() time.Duration {
	return time.Duration(c.IdleCheckIntervalMS) * time.Millisecond
}

// SampleInterval is the load sampling interval as a duration.
func (c LoadMonitorConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

// StateTimeout is the per-sensor state read timeout as a duration.
func (c DirectoryConfig) StateTimeout() time.Duration {
	return time.Duration(c.StateTimeoutMS) * time.Millisecond
}

// BatteryCaps resolves the configured battery cap names to levels. Validate
// must have passed.
func (c AttentionConfig) BatteryCaps() (low, critical attention.Level) {
	low, _ = attention.ParseLevel(c.BatteryCapLow)
	critical, _ = attention.ParseLevel(c.BatteryCapCritical)

	return low, critical
}
