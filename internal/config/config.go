// Package config loads the YAML configuration of the schemactl host.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given
const DefaultFile = "schemagov.yaml"

// Storage backends
const (
	BackendLocal  = "local"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Database drivers
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete host configuration
type Config struct {
	Registry   RegistryConfig   `yaml:"registry"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Validation ValidationConfig `yaml:"validation"`
	Events     EventsConfig     `yaml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// RegistryConfig configures the schema registry
type RegistryConfig struct {
	// Path is the registry root within the storage backend
	Path string `yaml:"path"`
	// MaxVersions caps the number of retained versions
	MaxVersions int `yaml:"max_versions"`
	// Creator is recorded as created_by on registration
	Creator string `yaml:"creator"`
}

// MigrationsConfig configures the migration manager
type MigrationsConfig struct {
	// Path holds the migration history files within the storage backend
	Path string `yaml:"path"`
	// BackupBeforeMigrate backs the registry up before every migration
	BackupBeforeMigrate bool `yaml:"backup_before_migrate"`
}

// StorageConfig selects the file store backend
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Root    string      `yaml:"root"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig selects where migration steps run
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ValidationConfig configures payload validation
type ValidationConfig struct {
	Strict    bool `yaml:"strict"`
	CacheSize int  `yaml:"cache_size"`
}

// EventsConfig configures lifecycle event publishing; empty URL disables it
type EventsConfig struct {
	URL      string        `yaml:"url"`
	Exchange string        `yaml:"exchange"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the Prometheus collector and the serve command
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			Path:        "registry",
			MaxVersions: 10,
			Creator:     "schemactl",
		},
		Migrations: MigrationsConfig{
			Path:                "migrations",
			BackupBeforeMigrate: true,
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Root:    ".schemagov",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "schemagov:",
			},
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    ".schemagov/data.db",
		},
		Validation: ValidationConfig{
			Strict:    false,
			CacheSize: 1000,
		},
		Events: EventsConfig{
			Exchange: "schemagov.events",
			Timeout:  10 * time.Second,
		},
		Metrics: MetricsConfig{
			Namespace: "schemagov",
			Listen:    ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.Registry.MaxVersions < 1 {
		errs = append(errs, fmt.Errorf("registry.max_versions must be at least 1"))
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Root == "" {
			errs = append(errs, fmt.Errorf("storage.root is required for the local backend"))
		}
	case BackendRedis:
		if c.Storage.Redis.Address == "" {
			errs = append(errs, fmt.Errorf("storage.redis.address is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of local, redis, memory; got %q", c.Storage.Backend))
	}
	switch c.Database.Driver {
	case DriverNone:
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be one of none, sqlite, postgres; got %q", c.Database.Driver))
	}
	if c.Validation.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("validation.cache_size must be at least 1"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json; got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// Load reads path, or DefaultFile if present when path is empty, applies
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	config.ApplyEnv(os.Getenv)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides secrets and endpoints from SCHEMAGOV_* variables
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("SCHEMAGOV_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := getenv("SCHEMAGOV_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := getenv("SCHEMAGOV_EVENTS_URL"); v != "" {
		c.Events.URL = v
	}
	if v := getenv("SCHEMAGOV_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// NewLogger builds the process logger writing to w
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error; got %q", s)
}
