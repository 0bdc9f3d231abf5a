// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface is the contract for accessing application configuration. It
// lets components receive configuration by injection and tests substitute
// a mock.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Healing() HealingConfig
	Executor() ExecutorConfig
	Server() ServerConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser"`
	HealingCfg  HealingConfig  `mapstructure:"healing"`
	ExecutorCfg ExecutorConfig `mapstructure:"executor"`
	ServerCfg   ServerConfig   `mapstructure:"server"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Healing() HealingConfig   { return c.HealingCfg }
func (c *Config) Executor() ExecutorConfig { return c.ExecutorCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// DatabaseConfig holds the Postgres connection details. An empty URL
// disables persistence: runs still execute, records are only returned.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// BrowserConfig holds settings for the headless browser surface.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors"`
	WindowWidth     int           `mapstructure:"window_width"`
	WindowHeight    int           `mapstructure:"window_height"`
	Args            []string      `mapstructure:"args"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	// ActionsPerSecond paces CDP actions to avoid overwhelming slow pages.
	// Zero disables pacing.
	ActionsPerSecond float64 `mapstructure:"actions_per_second"`
	// ArtifactsDir receives failure screenshots and extracts.
	ArtifactsDir string `mapstructure:"artifacts_dir"`
}

// HealingConfig tunes the locator resolution chain. The thresholds are
// policy constants, not derived from data.
type HealingConfig struct {
	// ProbeTimeout bounds a single strategy probe; it is deliberately
	// shorter than any step timeout.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// StaleAfterNFailures demotes a learned selector after this many
	// consecutive resolution failures.
	StaleAfterNFailures int `mapstructure:"stale_after_n_failures"`
	// VisualDistance is the maximum hamming distance for a visual
	// fingerprint match.
	VisualDistance int `mapstructure:"visual_distance"`
}

// ExecutorConfig tunes per-step retry policy.
type ExecutorConfig struct {
	// RetryAttempts is the number of additional attempts after the first
	// failure when a step has retry_on_failure set.
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// ServerConfig holds settings for the HTTP/WebSocket API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// MaxConcurrentRuns caps in-flight executions.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
	// Retention is how long completed tracker entries are kept for polling.
	Retention time.Duration `mapstructure:"retention"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "uniauto")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.nav_timeout", "45s")
	v.SetDefault("browser.actions_per_second", 0.0)
	v.SetDefault("browser.artifacts_dir", "artifacts")

	// -- Healing --
	v.SetDefault("healing.probe_timeout", "2s")
	v.SetDefault("healing.stale_after_n_failures", 2)
	v.SetDefault("healing.visual_distance", 6)

	// -- Executor --
	v.SetDefault("executor.retry_attempts", 2)
	v.SetDefault("executor.retry_backoff", "500ms")

	// -- Server --
	v.SetDefault("server.addr", ":8700")
	v.SetDefault("server.max_concurrent_runs", 4)
	v.SetDefault("server.retention", "1h")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object,
// expanding home-relative paths and validating the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.BrowserCfg.ArtifactsDir != "" {
		expanded, err := homedir.Expand(cfg.BrowserCfg.ArtifactsDir)
		if err != nil {
			return nil, fmt.Errorf("invalid artifacts_dir: %w", err)
		}
		cfg.BrowserCfg.ArtifactsDir = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.HealingCfg.StaleAfterNFailures <= 0 {
		return fmt.Errorf("healing.stale_after_n_failures must be a positive integer")
	}
	if c.HealingCfg.ProbeTimeout <= 0 {
		return fmt.Errorf("healing.probe_timeout must be a positive duration")
	}
	if c.ExecutorCfg.RetryAttempts < 0 {
		return fmt.Errorf("executor.retry_attempts cannot be negative")
	}
	if c.ServerCfg.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be a positive integer")
	}
	return nil
}
