// Package config loads application configuration from environment variables
// and an optional YAML config file. Environment variables take precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"marketgrab/internal/ratelimit"
)

// StorageConfig locates the columnar dataset.
type StorageConfig struct {
	DataRoot string `mapstructure:"data_root" validate:"required"`
	// EmptyRecheckDays expires confirmed-empty markers so the window is
	// requested again; 0 never re-checks.
	EmptyRecheckDays int `mapstructure:"empty_recheck_days" validate:"gte=0"`
}

// DownloadConfig tunes the fetch executor.
type DownloadConfig struct {
	Concurrency      int     `mapstructure:"concurrency" validate:"gte=1"`
	BatchDays        int     `mapstructure:"batch_days" validate:"gte=1"`
	MaxRetries       int     `mapstructure:"max_retries" validate:"gte=0"`
	StartupJitterSec float64 `mapstructure:"startup_jitter_sec" validate:"gte=0"`
}

// RateLimitConfig paces requests against the upstream source.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	JitterMinMs       int     `mapstructure:"jitter_min_ms" validate:"gte=0"`
	JitterMaxMs       int     `mapstructure:"jitter_max_ms" validate:"gte=0,gtefield=JitterMinMs"`
	BackoffBaseMs     int     `mapstructure:"backoff_base_ms" validate:"gte=0"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms" validate:"gte=0"`
}

// YahooConfig points the provider client at its hosts.
type YahooConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	FallbackBaseURL string `mapstructure:"fallback_base_url"`
}

// CatalogConfig locates the instrument universe.
type CatalogConfig struct {
	SymbolsFile     string   `mapstructure:"symbols_file"`
	IncludePrefixes []string `mapstructure:"include_prefixes"`
	ExcludePrefixes []string `mapstructure:"exclude_prefixes"`
}

// ValidateConfig tunes the quality scanner.
type ValidateConfig struct {
	Workers int `mapstructure:"workers" validate:"gte=1"`
}

// Config is the one explicit context object handed to each component at
// construction; its lifecycle is a single run.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Download  DownloadConfig  `mapstructure:"download"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Yahoo     YahooConfig     `mapstructure:"yahoo"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Validate  ValidateConfig  `mapstructure:"validate"`
	Ledger    string          `mapstructure:"ledger" validate:"required"`
}

// RateLimiterConfig converts the loaded values into limiter settings.
func (c *Config) RateLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		JitterMin:         time.Duration(c.RateLimit.JitterMinMs) * time.Millisecond,
		JitterMax:         time.Duration(c.RateLimit.JitterMaxMs) * time.Millisecond,
		BackoffBase:       time.Duration(c.RateLimit.BackoffBaseMs) * time.Millisecond,
		BackoffMax:        time.Duration(c.RateLimit.BackoffMaxMs) * time.Millisecond,
	}
}

// EmptyRecheck returns the marker expiry as a duration.
func (c *Config) EmptyRecheck() time.Duration {
	return time.Duration(c.Storage.EmptyRecheckDays) * 24 * time.Hour
}

// StartupJitter returns the per-task startup jitter as a duration.
func (c *Config) StartupJitter() time.Duration {
	return time.Duration(c.Download.StartupJitterSec * float64(time.Second))
}

// Load reads configuration from environment variables and an optional
// config file.
//
// Recognized environment variables (all optional):
//   - MARKETGRAB_DATA_ROOT
//   - MARKETGRAB_LEDGER
//   - MARKETGRAB_SYMBOLS_FILE
//   - MARKETGRAB_CONCURRENCY
//   - MARKETGRAB_YAHOO_BASE_URL
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("storage.data_root", "./data")
	v.SetDefault("storage.empty_recheck_days", 0)
	v.SetDefault("download.concurrency", 4)
	v.SetDefault("download.batch_days", 60)
	v.SetDefault("download.max_retries", 2)
	v.SetDefault("download.startup_jitter_sec", 0.6)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.jitter_min_ms", 200)
	v.SetDefault("rate_limit.jitter_max_ms", 600)
	v.SetDefault("rate_limit.backoff_base_ms", 1500)
	v.SetDefault("rate_limit.backoff_max_ms", 30000)
	v.SetDefault("validate.workers", 8)
	v.SetDefault("ledger", "./failures.csv")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.marketgrab")
		// Absent config file is fine; defaults and env apply.
		_ = v.ReadInConfig()
	}

	v.BindEnv("storage.data_root", "MARKETGRAB_DATA_ROOT")
	v.BindEnv("ledger", "MARKETGRAB_LEDGER")
	v.BindEnv("catalog.symbols_file", "MARKETGRAB_SYMBOLS_FILE")
	v.BindEnv("download.concurrency", "MARKETGRAB_CONCURRENCY")
	v.BindEnv("yahoo.base_url", "MARKETGRAB_YAHOO_BASE_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
