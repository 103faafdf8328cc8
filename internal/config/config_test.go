package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Registry.MaxVersions)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Validation.CacheSize)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero max versions", func(c *Config) { c.Registry.MaxVersions = 0 }, "registry.max_versions"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"redis without address", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.Redis.Address = ""
		}, "storage.redis.address"},
		{"postgres without dsn", func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.Database.DSN = ""
		}, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"zero cache size", func(c *Config) { c.Validation.CacheSize = 0 }, "validation.cache_size"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("memory backend without database is valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Backend = BackendMemory
		cfg.Database.Driver = DriverNone
		cfg.Database.DSN = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schemagov.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
registry:
  max_versions: 3
storage:
  backend: redis
  redis:
    address: redis:6379
validation:
  strict: true
events:
  timeout: 2s
`), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Registry.MaxVersions)
		assert.Equal(t, "registry", cfg.Registry.Path)
		assert.Equal(t, BackendRedis, cfg.Storage.Backend)
		assert.Equal(t, "redis:6379", cfg.Storage.Redis.Address)
		assert.Equal(t, "schemagov:", cfg.Storage.Redis.Prefix)
		assert.True(t, cfg.Validation.Strict)
		assert.Equal(t, 2*time.Second, cfg.Events.Timeout)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("registry: [unclosed"), 0644))

		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schemagov.yaml")
		require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: tape\n"), 0644))

		_, err := Load(path)
		assert.ErrorContains(t, err, "storage.backend")
	})

	t.Run("save and load round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "schemagov.yaml")
		cfg := DefaultConfig()
		cfg.Metrics.Listen = ":9999"
		require.NoError(t, cfg.SaveToFile(path))

		loaded, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, cfg, loaded)
	})
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SCHEMAGOV_DATABASE_DSN":   "postgres://db/schemas",
		"SCHEMAGOV_REDIS_PASSWORD": "secret",
		"SCHEMAGOV_EVENTS_URL":     "amqp://broker/",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "postgres://db/schemas", cfg.Database.DSN)
	assert.Equal(t, "secret", cfg.Storage.Redis.Password)
	assert.Equal(t, "amqp://broker/", cfg.Events.URL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
