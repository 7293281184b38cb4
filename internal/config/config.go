// Package config loads the application configuration from a config file,
// POLICY_CORE_* environment overrides and built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/policy-digitalization-core/internal/domain"
)

// Manager loads and holds the application configuration.
type Manager struct {
	config *domain.Config
}

// NewManager loads configuration from file, environment and defaults.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/policy-core/")

	viper.SetEnvPrefix("POLICY_CORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) setDefaults() {
	viper.SetDefault("policies.root_dir", "data/policies")

	viper.SetDefault("repository.driver", "sqlite")
	viper.SetDefault("repository.sqlite_path", "data/policy_store.db")
	viper.SetDefault("repository.postgres_url", "")
	viper.SetDefault("repository.migrations_path", "migrations")
	viper.SetDefault("repository.max_open_conns", 25)
	viper.SetDefault("repository.max_idle_conns", 5)
	viper.SetDefault("repository.conn_max_lifetime", "5m")
	viper.SetDefault("repository.cache_size", 128)

	viper.SetDefault("pipeline.model_timeout", "120s")
	viper.SetDefault("pipeline.model_rate_per_second", 1.0)
	viper.SetDefault("pipeline.model_burst", 1)
	viper.SetDefault("pipeline.skip_validation", false)
	viper.SetDefault("pipeline.skipped_quality_score", 0.7)
	viper.SetDefault("pipeline.quality_floor", 0.3)
	viper.SetDefault("pipeline.extraction_model", "extraction-default")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Reload reloads the configuration.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate checks the configuration for consistency.
func (m *Manager) Validate() error {
	config := m.config

	if config.Policies.RootDir == "" {
		return fmt.Errorf("policies root dir is required")
	}

	switch config.Repository.Driver {
	case "sqlite":
		if config.Repository.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite driver")
		}
	case "postgres":
		if config.Repository.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown repository driver: %s", config.Repository.Driver)
	}

	if config.Pipeline.QualityFloor < 0 || config.Pipeline.QualityFloor > 1 {
		return fmt.Errorf("quality floor must be in [0,1]: %f", config.Pipeline.QualityFloor)
	}
	if config.Pipeline.SkippedQualityScore < 0 || config.Pipeline.SkippedQualityScore > 1 {
		return fmt.Errorf("skipped quality score must be in [0,1]: %f", config.Pipeline.SkippedQualityScore)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
