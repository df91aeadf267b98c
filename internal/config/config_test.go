package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefault(t *testing.T) (*Config, *viper.Viper) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg, v
}

func TestDefaults(t *testing.T) {
	cfg, _ := loadDefault(t)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, "https://www.youtube.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 3, cfg.Upstream.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Upstream.RetryInitialDelay)
	assert.Equal(t, 5, cfg.Upstream.CircuitThreshold)

	assert.Equal(t, time.Hour, cfg.Cache.CatalogTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.SweepInterval)

	assert.Equal(t, "", cfg.FFmpeg.Binary)
	assert.Equal(t, "error", cfg.FFmpeg.LogLevel)
	assert.Equal(t, "2", cfg.FFmpeg.AudioQuality)

	assert.Equal(t, "tubemux.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.Database.HistoryLimit)
}

func TestLoad_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.port", 9090)
	v.Set("upstream.retry_attempts", 0)
	v.Set("cache.catalog_ttl", "15m")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Upstream.RetryAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Cache.CatalogTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty base url", func(c *Config) { c.Upstream.BaseURL = "" }, "upstream.base_url"},
		{"negative retries", func(c *Config) { c.Upstream.RetryAttempts = -1 }, "retry_attempts"},
		{"zero retry delay", func(c *Config) { c.Upstream.RetryInitialDelay = 0 }, "retry_initial_delay"},
		{"zero catalog ttl", func(c *Config) { c.Cache.CatalogTTL = 0 }, "catalog_ttl"},
		{"zero sweep interval", func(c *Config) { c.Cache.SweepInterval = 0 }, "sweep_interval"},
		{"zero history limit", func(c *Config) { c.Database.HistoryLimit = 0 }, "history_limit"},
		{"bogus log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := loadDefault(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsWarningAlias(t *testing.T) {
	cfg, _ := loadDefault(t)
	cfg.Logging.Level = "warning"
	assert.NoError(t, cfg.Validate())
}
