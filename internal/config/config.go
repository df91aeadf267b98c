// Package config provides configuration management for tubemux using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultServerWriteTimeout  = 0 // streaming responses must not be cut off
	defaultShutdownTimeout     = 10 * time.Second
	defaultUpstreamTimeout     = 30 * time.Second
	defaultStreamOpenTimeout   = 60 * time.Second
	defaultRetryAttempts       = 3
	defaultRetryInitialDelay   = 1 * time.Second
	defaultCircuitThreshold    = 5
	defaultCircuitResetTimeout = 30 * time.Second
	defaultCatalogTTL          = 1 * time.Hour
	defaultCacheSweepInterval  = 10 * time.Minute
	defaultFFmpegLogLevel      = "error"
	defaultAudioQuality        = "2" // libmp3lame -q:a scale
	defaultDatabasePath        = "tubemux.db"
	defaultHistoryLimit        = 100
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Cache    CacheConfig    `mapstructure:"cache"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// UpstreamConfig holds upstream source access configuration.
type UpstreamConfig struct {
	// BaseURL is the upstream API origin.
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds a single metadata request.
	Timeout time.Duration `mapstructure:"timeout"`
	// StreamOpenTimeout bounds opening (not reading) a media stream.
	StreamOpenTimeout time.Duration `mapstructure:"stream_open_timeout"`
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryInitialDelay is the first backoff delay; each retry doubles it.
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	// CircuitThreshold is consecutive transport failures before the breaker opens.
	CircuitThreshold int `mapstructure:"circuit_threshold"`
	// CircuitResetTimeout is how long the breaker stays open.
	CircuitResetTimeout time.Duration `mapstructure:"circuit_reset_timeout"`
}

// CacheConfig holds catalog cache configuration.
type CacheConfig struct {
	// CatalogTTL is the fixed lifetime of every cached catalog.
	CatalogTTL time.Duration `mapstructure:"catalog_ttl"`
	// SweepInterval is how often expired entries are reclaimed.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FFmpegConfig holds transcoder subprocess configuration.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable path; empty means PATH lookup.
	Binary string `mapstructure:"binary"`
	// LogLevel is passed to ffmpeg -loglevel.
	LogLevel string `mapstructure:"log_level"`
	// AudioQuality is the libmp3lame -q:a value for audio transcodes.
	AudioQuality string `mapstructure:"audio_quality"`
}

// DatabaseConfig holds download history storage configuration.
type DatabaseConfig struct {
	Path         string `mapstructure:"path"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerWriteTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("upstream.base_url", "https://www.youtube.com")
	v.SetDefault("upstream.timeout", defaultUpstreamTimeout)
	v.SetDefault("upstream.stream_open_timeout", defaultStreamOpenTimeout)
	v.SetDefault("upstream.retry_attempts", defaultRetryAttempts)
	v.SetDefault("upstream.retry_initial_delay", defaultRetryInitialDelay)
	v.SetDefault("upstream.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("upstream.circuit_reset_timeout", defaultCircuitResetTimeout)

	v.SetDefault("cache.catalog_ttl", defaultCatalogTTL)
	v.SetDefault("cache.sweep_interval", defaultCacheSweepInterval)

	v.SetDefault("ffmpeg.binary", "")
	v.SetDefault("ffmpeg.log_level", defaultFFmpegLogLevel)
	v.SetDefault("ffmpeg.audio_quality", defaultAudioQuality)

	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.history_limit", defaultHistoryLimit)
}

// Load unmarshals the viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url must not be empty")
	}
	if c.Upstream.RetryAttempts < 0 {
		return fmt.Errorf("upstream.retry_attempts must not be negative, got %d", c.Upstream.RetryAttempts)
	}
	if c.Upstream.RetryInitialDelay <= 0 {
		return fmt.Errorf("upstream.retry_initial_delay must be positive, got %s", c.Upstream.RetryInitialDelay)
	}
	if c.Cache.CatalogTTL <= 0 {
		return fmt.Errorf("cache.catalog_ttl must be positive, got %s", c.Cache.CatalogTTL)
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive, got %s", c.Cache.SweepInterval)
	}
	if c.Database.HistoryLimit < 1 {
		return fmt.Errorf("database.history_limit must be at least 1, got %d", c.Database.HistoryLimit)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
