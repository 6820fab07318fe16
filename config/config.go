// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "rpcspec.yaml"

// Config is the root configuration structure.
type Config struct {
	Check    CheckConfig    `yaml:"check"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// CheckConfig controls how declaration files are checked.
type CheckConfig struct {
	KeepGoing   bool `yaml:"keep_going"`   // continue past rejected declarations
	Parallelism int  `yaml:"parallelism"`  // concurrent checks per run
	UniqueNames bool `yaml:"unique_names"` // reject repeated kind+name pairs
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	ReadTimeout    time.Duration   `yaml:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig configures the /v1 rate limiter. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DatabaseConfig configures run history storage.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "sqlite", "memory" or "none"
	DSN          string `yaml:"dsn"`
	HistoryLimit int    `yaml:"history_limit"` // memory driver capacity, 0 = unbounded
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes, then applies environment
// overrides and defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration from defaults and environment variables.
//
// Environment variables:
//
//	RPCSPEC_CHECK_KEEP_GOING     - Continue past rejections (default: false)
//	RPCSPEC_CHECK_PARALLELISM    - Concurrent checks per run (default: 1)
//	RPCSPEC_CHECK_UNIQUE_NAMES   - Reject duplicate names (default: false)
//	RPCSPEC_SERVER_HOST          - Server host (default: 127.0.0.1)
//	RPCSPEC_SERVER_PORT          - Server port (default: 8080)
//	RPCSPEC_RATELIMIT_RPS        - /v1 requests per second, 0 disables (default: 0)
//	RPCSPEC_RATELIMIT_BURST      - Rate limiter burst (default: 10)
//	RPCSPEC_DATABASE_DRIVER      - sqlite, memory or none (default: sqlite)
//	RPCSPEC_DATABASE_DSN         - Database path (default: rpcspec.db)
//	RPCSPEC_LOG_LEVEL            - debug, info, warn, error (default: info)
//	RPCSPEC_LOG_FORMAT           - json or console (default: console)
//	RPCSPEC_METRICS_ENABLED      - Enable the metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadWithFallback loads path if it exists, otherwise defaults and environment.
// An empty path means DefaultPath.
func LoadWithFallback(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies RPCSPEC_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = parseBool(v)
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	// Check configuration
	boolean("RPCSPEC_CHECK_KEEP_GOING", &cfg.Check.KeepGoing)
	integer("RPCSPEC_CHECK_PARALLELISM", &cfg.Check.Parallelism)
	boolean("RPCSPEC_CHECK_UNIQUE_NAMES", &cfg.Check.UniqueNames)

	// Server configuration
	str("RPCSPEC_SERVER_HOST", &cfg.Server.Host)
	integer("RPCSPEC_SERVER_PORT", &cfg.Server.Port)
	duration("RPCSPEC_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	duration("RPCSPEC_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	duration("RPCSPEC_SERVER_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	if v := os.Getenv("RPCSPEC_RATELIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RPCSPEC_RATELIMIT_RPS: %w", err))
		} else {
			cfg.Server.RateLimit.RPS = rps
		}
	}
	integer("RPCSPEC_RATELIMIT_BURST", &cfg.Server.RateLimit.Burst)

	// Database configuration
	str("RPCSPEC_DATABASE_DRIVER", &cfg.Database.Driver)
	str("RPCSPEC_DATABASE_DSN", &cfg.Database.DSN)

	// Logging configuration
	str("RPCSPEC_LOG_LEVEL", &cfg.Logging.Level)
	str("RPCSPEC_LOG_FORMAT", &cfg.Logging.Format)

	// Metrics configuration
	boolean("RPCSPEC_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("RPCSPEC_METRICS_PATH", &cfg.Metrics.Path)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Check.Parallelism == 0 {
		cfg.Check.Parallelism = 1
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 10
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "rpcspec.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Check.Parallelism < 1 || cfg.Check.Parallelism > 256 {
		return fmt.Errorf("check.parallelism must be between 1 and 256, got %d", cfg.Check.Parallelism)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}
	if cfg.Server.RateLimit.RPS < 0 {
		return fmt.Errorf("server.rate_limit.rps must not be negative")
	}
	if cfg.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must not be negative")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the sqlite driver")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("database.driver must be 'sqlite', 'memory' or 'none', got %q", cfg.Database.Driver)
	}
	if cfg.Database.HistoryLimit < 0 {
		return fmt.Errorf("database.history_limit must not be negative")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	return nil
}
