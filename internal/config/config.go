// Package config defines the top-level configuration for the sell bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SELLBOT_* environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Jupiter   JupiterConfig   `toml:"jupiter"`
	Trading   TradingConfig   `toml:"trading"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for order history
// archival. Archival is optional; disable it to drop purged orders instead.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the streaming price feed parameters.
type FeedConfig struct {
	WsURL   string `toml:"ws_url"`
	Enabled bool   `toml:"enabled"`
}

// JupiterConfig holds the swap aggregator and signer service endpoints.
type JupiterConfig struct {
	PriceURL          string `toml:"price_url"`
	QuoteURL          string `toml:"quote_url"`
	SignerURL         string `toml:"signer_url"`
	RequestsPerSecond int    `toml:"requests_per_second"`
}

// TradingConfig holds the trading behavior parameters.
type TradingConfig struct {
	// Mode: "auto" sells with the bot-custodied wallet, "approval" queues
	// sells for a human co-signer, "monitor" never trades.
	Mode            string   `toml:"mode"`
	DefaultStrategy string   `toml:"default_strategy"`
	SlippageBps     int      `toml:"slippage_bps"`
	RetentionDays   int      `toml:"retention_days"`
	PendingSellTTL  duration `toml:"pending_sell_ttl"`
}

// SchedulerConfig holds the loop intervals.
type SchedulerConfig struct {
	ExitInterval         duration `toml:"exit_interval"`
	LimitInterval        duration `toml:"limit_interval"`
	DCAInterval          duration `toml:"dca_interval"`
	HousekeepingInterval duration `toml:"housekeeping_interval"`
	LockTTL              duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials and the event
// allow-list. An empty Events list lets every event through.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML text (un)marshalling.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with development-friendly defaults.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sellbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sellbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Enabled: true,
		},
		Jupiter: JupiterConfig{
			PriceURL:          "https://lite-api.jup.ag/price/v2",
			QuoteURL:          "https://lite-api.jup.ag/swap/v1",
			RequestsPerSecond: 10,
		},
		Trading: TradingConfig{
			Mode:            "approval",
			DefaultStrategy: "moderate",
			SlippageBps:     100,
			RetentionDays:   30,
			PendingSellTTL:  duration{30 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			ExitInterval:         duration{10 * time.Second},
			LimitInterval:        duration{15 * time.Second},
			DCAInterval:          duration{30 * time.Second},
			HousekeepingInterval: duration{10 * time.Minute},
			LockTTL:              duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"exit_triggered", "limit_filled", "dca_buy", "pending_sell", "error"},
		},
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Trading.Mode.
var validModes = map[string]bool{
	"auto":     true,
	"approval": true,
	"monitor":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Trading.Mode)] {
		errs = append(errs, fmt.Sprintf("trading: unknown mode %q (valid: auto, approval, monitor)", c.Trading.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Feed
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty when enabled")
	}

	// Jupiter
	if c.Jupiter.PriceURL == "" {
		errs = append(errs, "jupiter: price_url must not be empty")
	}
	if c.Jupiter.QuoteURL == "" {
		errs = append(errs, "jupiter: quote_url must not be empty")
	}
	if c.Jupiter.RequestsPerSecond < 1 {
		errs = append(errs, "jupiter: requests_per_second must be >= 1")
	}
	if strings.ToLower(c.Trading.Mode) == "auto" && c.Jupiter.SignerURL == "" {
		errs = append(errs, "jupiter: signer_url is required for auto mode")
	}

	// Trading
	if c.Trading.DefaultStrategy == "" {
		errs = append(errs, "trading: default_strategy must not be empty")
	}
	if c.Trading.SlippageBps < 0 || c.Trading.SlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("trading: slippage_bps must be 0-10000, got %d", c.Trading.SlippageBps))
	}
	if c.Trading.RetentionDays < 1 {
		errs = append(errs, "trading: retention_days must be >= 1")
	}
	if c.Trading.PendingSellTTL.Duration <= 0 {
		errs = append(errs, "trading: pending_sell_ttl must be positive")
	}

	// Scheduler
	if c.Scheduler.ExitInterval.Duration <= 0 {
		errs = append(errs, "scheduler: exit_interval must be positive")
	}
	if c.Scheduler.LimitInterval.Duration <= 0 {
		errs = append(errs, "scheduler: limit_interval must be positive")
	}
	if c.Scheduler.DCAInterval.Duration <= 0 {
		errs = append(errs, "scheduler: dca_interval must be positive")
	}
	if c.Scheduler.HousekeepingInterval.Duration <= 0 {
		errs = append(errs, "scheduler: housekeeping_interval must be positive")
	}
	if c.Scheduler.LockTTL.Duration <= 0 {
		errs = append(errs, "scheduler: lock_ttl must be positive")
	}

	// Notify — chat id and token must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
