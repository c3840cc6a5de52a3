package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".sensoria"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for sensoria settings.
const envPrefix = "SENSORIA"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// ErrNoConfigFile reports that Watch found no config file to follow.
var ErrNoConfigFile = errors.New("config: no config file to watch")

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := newViper(configPath)

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Watch follows the config file and hands every valid reload to onChange.
// Edits that fail to parse or validate are logged and skipped. The callback
// runs on the watcher goroutine. Returns ErrNoConfigFile when no file exists
// to follow.
func Watch(configPath string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	viperCfg := newViper(configPath)

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(readErr, &notFound) {
			return ErrNoConfigFile
		}

		return fmt.Errorf("read config: %w", readErr)
	}

	viperCfg.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config

		unmarshalErr := viperCfg.Unmarshal(&cfg)
		if unmarshalErr != nil {
			logger.Warn("config reload rejected", "error", unmarshalErr)

			return
		}

		validateErr := cfg.Validate()
		if validateErr != nil {
			logger.Warn("config reload rejected", "error", validateErr)

			return
		}

		onChange(&cfg)
	})

	viperCfg.WatchConfig()

	return nil
}

func newViper(configPath string) *viper.Viper {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	return viperCfg
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("store.hot_limit", DefaultStoreHotLimit)
	viperCfg.SetDefault("store.warm_limit", DefaultStoreWarmLimit)

	viperCfg.SetDefault("attention.battery_cap_low", DefaultAttentionBatteryCapLow)
	viperCfg.SetDefault("attention.battery_cap_critical", DefaultAttentionBatteryCapCritical)

	viperCfg.SetDefault("replicator.pool_size", DefaultReplicatorPoolSize)
	viperCfg.SetDefault("replicator.batch_size", DefaultReplicatorBatchSize)
	viperCfg.SetDefault("replicator.batch_timeout_ms", DefaultReplicatorBatchTimeoutMS)

	viperCfg.SetDefault("sensor.hibernate_after_ms", DefaultSensorHibernateAfterMS)
	viperCfg.SetDefault("sensor.idle_check_interval_ms", DefaultSensorIdleCheckIntervalMS)
	viperCfg.SetDefault("sensor.priority_attributes", DefaultSensorPriorityAttributes)

	viperCfg.SetDefault("load.sample_interval_ms", DefaultLoadSampleIntervalMS)

	viperCfg.SetDefault("pubsub.buffer_size", DefaultPubSubBufferSize)

	viperCfg.SetDefault("directory.state_concurrency", DefaultDirectoryStateConcurrency)
	viperCfg.SetDefault("directory.state_timeout_ms", DefaultDirectoryStateTimeoutMS)

	viperCfg.SetDefault("observability.otlp_endpoint", DefaultObservabilityOTLPEndpoint)
	viperCfg.SetDefault("observability.log_level", DefaultObservabilityLogLevel)
	viperCfg.SetDefault("observability.log_json", DefaultObservabilityLogJSON)

	viperCfg.SetDefault("serve.listen", DefaultServeListen)
}
