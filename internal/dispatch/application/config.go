package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the dispatch tuning knobs. Values are injected into the
// engine and heartbeat service explicitly so the delivery state machine stays
// testable without ambient environment state.
type Config struct {
	PullBatchSize            int `yaml:"pull_batch_size"`
	HeartbeatBatchSize       int `yaml:"heartbeat_batch_size"`
	PullIntervalSeconds      int `yaml:"pull_interval_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	ConfigStaleAfterSeconds  int `yaml:"config_stale_after_seconds"`
}

// DefaultConfig returns the shipped tuning values.
func DefaultConfig() Config {
	return Config{
		PullBatchSize:            10,
		HeartbeatBatchSize:       3,
		PullIntervalSeconds:      30,
		HeartbeatIntervalSeconds: 300,
		ConfigStaleAfterSeconds:  int((24 * time.Hour).Seconds()),
	}
}

// ConfigStaleAfter returns the staleness threshold as a duration.
func (c Config) ConfigStaleAfter() time.Duration {
	return time.Duration(c.ConfigStaleAfterSeconds) * time.Second
}

// LoadConfig loads dispatch config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("DISPATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if value := getenvIntDefault("DISPATCH_PULL_BATCH", 0); value > 0 {
		cfg.PullBatchSize = value
	}
	if value := getenvIntDefault("DISPATCH_HEARTBEAT_BATCH", 0); value > 0 {
		cfg.HeartbeatBatchSize = value
	}
	if value := getenvIntDefault("DISPATCH_PULL_INTERVAL_SECONDS", 0); value > 0 {
		cfg.PullIntervalSeconds = value
	}
	if value := getenvIntDefault("DISPATCH_HEARTBEAT_INTERVAL_SECONDS", 0); value > 0 {
		cfg.HeartbeatIntervalSeconds = value
	}
	if value := getenvIntDefault("DISPATCH_CONFIG_STALE_AFTER_SECONDS", 0); value > 0 {
		cfg.ConfigStaleAfterSeconds = value
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.PullBatchSize <= 0 || c.HeartbeatBatchSize <= 0 {
		return errors.New("dispatch: batch sizes must be positive")
	}
	if c.PullIntervalSeconds <= 0 || c.HeartbeatIntervalSeconds <= 0 {
		return errors.New("dispatch: poll intervals must be positive")
	}
	if c.ConfigStaleAfterSeconds <= 0 {
		return errors.New("dispatch: config staleness threshold must be positive")
	}
	return nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
