package domain

import "time"

// Config is the full application configuration, loaded by internal/config.
type Config struct {
	Policies   PoliciesConfig   `mapstructure:"policies"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PoliciesConfig locates the on-disk policy source tree. The root is the only
// directory the core ever reads policy sources from.
type PoliciesConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// RepositoryConfig selects and configures the persistent policy store.
type RepositoryConfig struct {
	Driver          string        `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresURL     string        `mapstructure:"postgres_url"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	CacheSize       int           `mapstructure:"cache_size"`
}

// PipelineConfig tunes the digitalization pipeline's model collaborators.
type PipelineConfig struct {
	ModelTimeout        time.Duration `mapstructure:"model_timeout"`
	ModelRatePerSecond  float64       `mapstructure:"model_rate_per_second"`
	ModelBurst          int           `mapstructure:"model_burst"`
	SkipValidation      bool          `mapstructure:"skip_validation"`
	SkippedQualityScore float64       `mapstructure:"skipped_quality_score"`
	QualityFloor        float64       `mapstructure:"quality_floor"`
	ExtractionModel     string        `mapstructure:"extraction_model"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
