package offline

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lotline-io/lotline/internal/config"
)

// WorkerConfig holds the sync worker settings loaded from .lotline.yaml.
// Everything is optional: with no file the worker polls with defaults and the
// kafka consumer stays off.
type WorkerConfig struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	KafkaBrokers []string `yaml:"kafka_brokers"`
	//nolint:tagliatelle
	KafkaTopic string `yaml:"kafka_topic"`
	//nolint:tagliatelle
	KafkaGroupID string `yaml:"kafka_group_id"`
	//nolint:tagliatelle
	PollInterval time.Duration `yaml:"poll_interval"`
	//nolint:tagliatelle
	ApplyLimit int `yaml:"apply_limit"`
	//nolint:tagliatelle
	AppliesPerSecond float64 `yaml:"applies_per_second"`
}

// DefaultConfigPath is the default location for the sync worker configuration.
const DefaultConfigPath = ".lotline.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "LOTLINE_CONFIG_PATH"

// KafkaEnabled reports whether the config names a broker and topic.
func (c *WorkerConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

func defaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		KafkaGroupID:     "lotline-sync",
		PollInterval:     5 * time.Second,
		ApplyLimit:       200,
		AppliesPerSecond: 5,
	}
}

// LoadWorkerConfig loads sync worker configuration from a YAML file.
//
// Behavior:
//   - Returns defaults (not error) if the file doesn't exist - the file is optional
//   - Returns defaults + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cfg := defaultWorkerConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, sync worker using defaults",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, sync worker using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, sync worker using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return defaultWorkerConfig(), nil
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	if cfg.ApplyLimit <= 0 {
		cfg.ApplyLimit = 200
	}

	if cfg.AppliesPerSecond <= 0 {
		cfg.AppliesPerSecond = 5
	}

	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "lotline-sync"
	}

	return cfg, nil
}

// LoadWorkerConfigFromEnv loads config from the path in LOTLINE_CONFIG_PATH,
// falling back to ".lotline.yaml" in the current directory.
func LoadWorkerConfigFromEnv() (*WorkerConfig, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadWorkerConfig(path)
}
