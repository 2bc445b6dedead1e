// Package config provides configuration management for hlsindex using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxSessions        = 32
	defaultFetchTimeout       = 30 * time.Second
	defaultRetryAttempts      = 2
	defaultRetryDelay         = 500 * time.Millisecond
	defaultRetryMaxDelay      = 10 * time.Second
	defaultBackoffMultiplier  = 2.0
	defaultCircuitThreshold   = 5
	defaultCircuitTimeout     = 30 * time.Second
	defaultMaxResponseBytes   = 64 * 1024 * 1024
	defaultUpdateRetryDelay   = 100 * time.Millisecond
	defaultPartialSegmentSize = 2048
	defaultCodecs             = "avc1.42E01E,mp4a.40.2"
	defaultUserAgent          = "hlsindex/1.0"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Manifest ManifestConfig `mapstructure:"manifest"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// MaxSessions caps concurrently tracked presentations.
	MaxSessions int `mapstructure:"max_sessions"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	AddSource      bool   `mapstructure:"add_source"`
	TimeFormat     string `mapstructure:"time_format"`
	RequestLogging bool   `mapstructure:"request_logging"`
}

// FetchConfig configures playlist and segment retrieval.
type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	CircuitThreshold  int           `mapstructure:"circuit_threshold"`
	CircuitTimeout    time.Duration `mapstructure:"circuit_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxResponseBytes  int64         `mapstructure:"max_response_bytes"`
}

// ManifestConfig tunes manifest construction and live updates.
type ManifestConfig struct {
	// AvailabilityWindowOverride replaces the live segment availability
	// window (default: the presentation delay). 0 keeps the default.
	AvailabilityWindowOverride time.Duration `mapstructure:"availability_window_override"`

	// PresentationDelayOverride replaces 3x the largest target duration.
	PresentationDelayOverride time.Duration `mapstructure:"presentation_delay_override"`

	// UpdateRetryDelay is the pause after a failed live update.
	UpdateRetryDelay time.Duration `mapstructure:"update_retry_delay"`

	// PartialSegmentSize is how many leading bytes are fetched to probe a
	// segment's start time.
	PartialSegmentSize int64 `mapstructure:"partial_segment_size"`

	// FoldAudioOnlyVariants ignores a variant stream whose URI equals its
	// first audio rendition's URI.
	FoldAudioOnlyVariants bool `mapstructure:"fold_audio_only_variants"`

	DefaultCodecs string `mapstructure:"default_codecs"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSINDEX_ and use underscores for nesting.
// Example: HLSINDEX_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsindex")
		v.AddConfigPath("$HOME/.hlsindex")
	}

	v.SetEnvPrefix("HLSINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration produced by SetDefaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_sessions", defaultMaxSessions)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", false)

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("fetch.backoff_multiplier", defaultBackoffMultiplier)
	v.SetDefault("fetch.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("fetch.circuit_timeout", defaultCircuitTimeout)
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("fetch.max_response_bytes", defaultMaxResponseBytes)

	// Manifest defaults
	v.SetDefault("manifest.availability_window_override", time.Duration(0))
	v.SetDefault("manifest.presentation_delay_override", time.Duration(0))
	v.SetDefault("manifest.update_retry_delay", defaultUpdateRetryDelay)
	v.SetDefault("manifest.partial_segment_size", defaultPartialSegmentSize)
	v.SetDefault("manifest.fold_audio_only_variants", true)
	v.SetDefault("manifest.default_codecs", defaultCodecs)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be at least 1")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Fetch.RetryAttempts < 0 {
		return fmt.Errorf("fetch.retry_attempts must not be negative")
	}
	if c.Fetch.BackoffMultiplier < 1 {
		return fmt.Errorf("fetch.backoff_multiplier must be at least 1")
	}

	if c.Manifest.PartialSegmentSize < 188 {
		return fmt.Errorf("manifest.partial_segment_size must be at least 188 bytes")
	}
	if c.Manifest.UpdateRetryDelay <= 0 {
		return fmt.Errorf("manifest.update_retry_delay must be positive")
	}
	if c.Manifest.AvailabilityWindowOverride < 0 || c.Manifest.PresentationDelayOverride < 0 {
		return fmt.Errorf("manifest overrides must not be negative")
	}
	if strings.TrimSpace(c.Manifest.DefaultCodecs) == "" {
		return fmt.Errorf("manifest.default_codecs is required")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
