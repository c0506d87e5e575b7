package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // display zones must resolve on hosts without a zoneinfo database

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Advice   AdviceConfig   `mapstructure:"advice"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	API      APIConfig      `mapstructure:"api"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// FeedConfig holds the upstream match-data source configuration.
// Exactly one of URL and FilePath must be set.
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	FilePath       string        `mapstructure:"file_path"`
	APIKey         string        `mapstructure:"api_key"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst      int           `mapstructure:"rate_burst"`
	Workers        int           `mapstructure:"workers"`
}

// AdviceConfig holds presentation defaults. Tier and value thresholds are fixed in code.
type AdviceConfig struct {
	SafestCount     int           `mapstructure:"safest_count"`
	AccumulatorLegs int           `mapstructure:"accumulator_legs"`
	MaxLegs         int           `mapstructure:"max_legs"`
	DisplayTimezone string        `mapstructure:"display_timezone"`
	KickoffGrace    time.Duration `mapstructure:"kickoff_grace"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	DigestChatID   string        `mapstructure:"digest_chat_id"`
	AllowedChatIDs []int64       `mapstructure:"allowed_chat_ids"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	UpdateTimeout  int           `mapstructure:"update_timeout"`
	RequestsPerMin int           `mapstructure:"requests_per_minute"`
}

// APIConfig holds the HTTP API configuration
type APIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver    string        `mapstructure:"driver"`
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig toggles the Prometheus endpoint on the API server
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// MAX_TELEGRAM_BOT_TOKEN overrides telegram.bot_token, and so on.
	v.SetEnvPrefix("MAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Keys without a real default are still registered so AutomaticEnv can fill
	// them when the file leaves them out.
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.file_path", "")
	v.SetDefault("feed.api_key", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.digest_chat_id", "")

	// Feed defaults
	v.SetDefault("feed.poll_interval", "10m")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.rate_limit", 2.0)
	v.SetDefault("feed.rate_burst", 2)
	v.SetDefault("feed.workers", 4)

	// Advice defaults
	v.SetDefault("advice.safest_count", 2)
	v.SetDefault("advice.accumulator_legs", 3)
	v.SetDefault("advice.max_legs", 10)
	v.SetDefault("advice.display_timezone", "Asia/Kolkata")
	v.SetDefault("advice.kickoff_grace", "2h")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.update_timeout", 60)
	v.SetDefault("telegram.requests_per_minute", 20)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.request_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/maxadvisor.db")
	v.SetDefault("storage.retention", "168h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Feed config
	if c.Feed.URL == "" && c.Feed.FilePath == "" {
		return fmt.Errorf("one of feed.url or feed.file_path is required")
	}
	if c.Feed.URL != "" && c.Feed.FilePath != "" {
		return fmt.Errorf("feed.url and feed.file_path are mutually exclusive")
	}
	if c.Feed.PollInterval < 1*time.Minute {
		return fmt.Errorf("feed.poll_interval must be at least 1 minute")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.MaxRetries < 1 {
		return fmt.Errorf("feed.max_retries must be at least 1")
	}
	if c.Feed.RateLimit <= 0 || c.Feed.RateBurst < 1 {
		return fmt.Errorf("feed.rate_limit must be positive and feed.rate_burst at least 1")
	}
	if c.Feed.Workers < 1 {
		return fmt.Errorf("feed.workers must be at least 1")
	}

	// Validate Advice config
	if c.Advice.SafestCount < 1 {
		return fmt.Errorf("advice.safest_count must be at least 1")
	}
	if c.Advice.MaxLegs < 2 {
		return fmt.Errorf("advice.max_legs must be at least 2")
	}
	if c.Advice.AccumulatorLegs < 2 || c.Advice.AccumulatorLegs > c.Advice.MaxLegs {
		return fmt.Errorf("advice.accumulator_legs must be between 2 and advice.max_legs")
	}
	if _, err := time.LoadLocation(c.Advice.DisplayTimezone); err != nil {
		return fmt.Errorf("advice.display_timezone is not a known zone: %w", err)
	}
	if c.Advice.KickoffGrace < 0 {
		return fmt.Errorf("advice.kickoff_grace must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.RequestsPerMin < 1 {
			return fmt.Errorf("telegram.requests_per_minute must be at least 1")
		}
	}

	// Validate API config
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the API is enabled")
	}

	// Validate Storage config
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.Retention < 24*time.Hour {
		return fmt.Errorf("storage.retention must be at least 24h")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// DisplayLocation returns the zone kickoff times are shown in, falling back to UTC.
func (c *Config) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(c.Advice.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
