package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SELLBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SELLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "SELLBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SELLBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SELLBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SELLBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "SELLBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "SELLBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SELLBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SELLBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SELLBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SELLBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SELLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SELLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SELLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SELLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SELLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SELLBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SELLBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SELLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SELLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SELLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SELLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SELLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SELLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SELLBOT_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "SELLBOT_FEED_WS_URL")
	setBool(&cfg.Feed.Enabled, "SELLBOT_FEED_ENABLED")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.PriceURL, "SELLBOT_JUPITER_PRICE_URL")
	setStr(&cfg.Jupiter.QuoteURL, "SELLBOT_JUPITER_QUOTE_URL")
	setStr(&cfg.Jupiter.SignerURL, "SELLBOT_JUPITER_SIGNER_URL")
	setInt(&cfg.Jupiter.RequestsPerSecond, "SELLBOT_JUPITER_REQUESTS_PER_SECOND")

	// ── Trading ──
	setStr(&cfg.Trading.Mode, "SELLBOT_TRADING_MODE")
	setStr(&cfg.Trading.DefaultStrategy, "SELLBOT_TRADING_DEFAULT_STRATEGY")
	setInt(&cfg.Trading.SlippageBps, "SELLBOT_TRADING_SLIPPAGE_BPS")
	setInt(&cfg.Trading.RetentionDays, "SELLBOT_TRADING_RETENTION_DAYS")
	setDuration(&cfg.Trading.PendingSellTTL, "SELLBOT_TRADING_PENDING_SELL_TTL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.ExitInterval, "SELLBOT_SCHEDULER_EXIT_INTERVAL")
	setDuration(&cfg.Scheduler.LimitInterval, "SELLBOT_SCHEDULER_LIMIT_INTERVAL")
	setDuration(&cfg.Scheduler.DCAInterval, "SELLBOT_SCHEDULER_DCA_INTERVAL")
	setDuration(&cfg.Scheduler.HousekeepingInterval, "SELLBOT_SCHEDULER_HOUSEKEEPING_INTERVAL")
	setDuration(&cfg.Scheduler.LockTTL, "SELLBOT_SCHEDULER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SELLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SELLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SELLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SELLBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "SELLBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
