package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file read when --config is not given.
const DefaultFile = "archivedb.yml"

// Default values for configuration fields.
const (
	DefaultSystem            = "metadata"
	DefaultMaxRetries        = 10
	DefaultRetryDelay        = 3 * time.Second
	DefaultLockTimeout       = 5 * time.Second
	DefaultStatementTimeout  = 10 * time.Minute
	DefaultBackfillBatchSize = 500
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

// Config holds the application configuration loaded from file, environment, and flags.
type Config struct {
	Database          string
	System            string
	TargetVersion     int
	MaxRetries        int
	RetryDelay        time.Duration
	LockTimeout       time.Duration
	StatementTimeout  time.Duration
	BackfillBatchSize int
	LogLevel          string
	LogFormat         string
}

// yamlConfig is the raw YAML file representation with string durations.
type yamlConfig struct {
	Database          string `yaml:"database"`
	System            string `yaml:"system"`
	TargetVersion     int    `yaml:"target_version"`
	MaxRetries        *int   `yaml:"max_retries"`
	RetryDelay        string `yaml:"retry_delay"`
	LockTimeout       string `yaml:"lock_timeout"`
	StatementTimeout  string `yaml:"statement_timeout"`
	BackfillBatchSize int    `yaml:"backfill_batch_size"`
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
}

// New returns a Config populated with default values.
func New() *Config {
	return &Config{
		System:            DefaultSystem,
		MaxRetries:        DefaultMaxRetries,
		RetryDelay:        DefaultRetryDelay,
		LockTimeout:       DefaultLockTimeout,
		StatementTimeout:  DefaultStatementTimeout,
		BackfillBatchSize: DefaultBackfillBatchSize,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
	}
}

// Load reads a YAML configuration file and returns a Config.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return New(), nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return fromYAML(&raw)
}

// fromYAML converts the raw YAML representation to a Config with defaults applied.
func fromYAML(raw *yamlConfig) (*Config, error) {
	cfg := New()

	if raw.Database != "" {
		cfg.Database = raw.Database
	}

	if raw.System != "" {
		cfg.System = raw.System
	}

	if raw.TargetVersion < 0 {
		return nil, fmt.Errorf("target_version %d must not be negative", raw.TargetVersion)
	}

	cfg.TargetVersion = raw.TargetVersion

	if raw.MaxRetries != nil {
		if *raw.MaxRetries < 0 {
			return nil, fmt.Errorf("max_retries %d must not be negative", *raw.MaxRetries)
		}

		cfg.MaxRetries = *raw.MaxRetries
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retry_delay", raw.RetryDelay, &cfg.RetryDelay},
		{"lock_timeout", raw.LockTimeout, &cfg.LockTimeout},
		{"statement_timeout", raw.StatementTimeout, &cfg.StatementTimeout},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}

		*d.dst = v
	}

	if raw.BackfillBatchSize > 0 {
		cfg.BackfillBatchSize = raw.BackfillBatchSize
	}

	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}

	if raw.LogFormat != "" {
		cfg.LogFormat = raw.LogFormat
	}

	return cfg, nil
}

// MergeEnv overrides config fields from ARCHIVEDB_* environment variables.
// Malformed numeric and duration values are ignored.
func MergeEnv(cfg *Config) {
	if v := os.Getenv("ARCHIVEDB_DATABASE"); v != "" {
		cfg.Database = v
	}

	if v := os.Getenv("ARCHIVEDB_SYSTEM"); v != "" {
		cfg.System = v
	}

	if v := os.Getenv("ARCHIVEDB_TARGET_VERSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.TargetVersion = n
		}
	}

	if v := os.Getenv("ARCHIVEDB_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("ARCHIVEDB_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RetryDelay = d
		}
	}

	if v := os.Getenv("ARCHIVEDB_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LockTimeout = d
		}
	}

	if v := os.Getenv("ARCHIVEDB_STATEMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StatementTimeout = d
		}
	}

	if v := os.Getenv("ARCHIVEDB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("ARCHIVEDB_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
