package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures the SEC fetch client.
type FetchConfig struct {
	UserAgent            string `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimitIntervalMS  int    `yaml:"rate_limit_interval_ms" mapstructure:"rate_limit_interval_ms"`
	TimeoutSecs          int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts        int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	HeaderReadBoundBytes int    `yaml:"header_read_bound_bytes" mapstructure:"header_read_bound_bytes"`
}

// RateLimitInterval returns the minimum spacing between requests.
func (c FetchConfig) RateLimitInterval() time.Duration {
	return time.Duration(c.RateLimitIntervalMS) * time.Millisecond
}

// Timeout returns the per-request timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// PipelineConfig configures orchestration and versioning.
type PipelineConfig struct {
	// Version invalidates every manifest entry recorded under an older
	// version when bumped, forcing full re-extraction.
	Version             int `yaml:"version" mapstructure:"version"`
	WorkerPoolSize      int `yaml:"worker_pool_size" mapstructure:"worker_pool_size"`
	PerFilerTimeoutSecs int `yaml:"per_filer_timeout_secs" mapstructure:"per_filer_timeout_secs"`
	MaxDocRetries       int `yaml:"max_doc_retries" mapstructure:"max_doc_retries"`
}

// PerFilerTimeout returns the soft wall-clock budget for one filer.
func (c PipelineConfig) PerFilerTimeout() time.Duration {
	return time.Duration(c.PerFilerTimeoutSecs) * time.Second
}

// RegistryConfig configures the filer registry.
type RegistryConfig struct {
	// OverridesPath points to an optional YAML file adding or renaming
	// tracked trusts on top of the built-in table.
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ETP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "etp_tracker.db")
	v.SetDefault("fetch.user_agent", "fundwatch-etp-tracker/1.0 (contact: ops@fundwatch.io)")
	v.SetDefault("fetch.rate_limit_interval_ms", 350)
	v.SetDefault("fetch.timeout_secs", 45)
	v.SetDefault("fetch.retry_attempts", 3)
	v.SetDefault("fetch.header_read_bound_bytes", 8192)
	v.SetDefault("pipeline.version", 2)
	v.SetDefault("pipeline.worker_pool_size", 4)
	v.SetDefault("pipeline.per_filer_timeout_secs", 600)
	v.SetDefault("pipeline.max_doc_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
