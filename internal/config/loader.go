package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLLEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// Decoding into a non-empty slice reuses its elements, so seed pools
		// start empty and fall back to the defaults only when the file is silent.
		cfg.Pools = nil
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if !md.IsDefined("pools") {
			cfg.Pools = DefaultPools()
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setInt(&cfg.Ledger.HistoryWindow, "POOLLEDGER_LEDGER_HISTORY_WINDOW")
	setInt(&cfg.Ledger.AssessmentWindow, "POOLLEDGER_LEDGER_ASSESSMENT_WINDOW")
	setInt(&cfg.Ledger.BootstrapDays, "POOLLEDGER_LEDGER_BOOTSTRAP_DAYS")
	setFloat64(&cfg.Ledger.EarlyPenaltyRate, "POOLLEDGER_LEDGER_EARLY_PENALTY_RATE")
	setBool(&cfg.Ledger.DistributedLock, "POOLLEDGER_LEDGER_DISTRIBUTED_LOCK")
	setDuration(&cfg.Ledger.LockTTL, "POOLLEDGER_LEDGER_LOCK_TTL")
	setInt(&cfg.Ledger.EventQueueSize, "POOLLEDGER_LEDGER_EVENT_QUEUE_SIZE")

	// ── Simulator ──
	setStr(&cfg.Simulator.Source, "POOLLEDGER_SIMULATOR_SOURCE")
	setUint64(&cfg.Simulator.Seed, "POOLLEDGER_SIMULATOR_SEED")
	setFloat64(&cfg.Simulator.Volatility, "POOLLEDGER_SIMULATOR_VOLATILITY")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "POOLLEDGER_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.Interval, "POOLLEDGER_SCHEDULER_INTERVAL")
	setStr(&cfg.Scheduler.Cron, "POOLLEDGER_SCHEDULER_CRON")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POOLLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POOLLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOLLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOLLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLLEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POOLLEDGER_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "POOLLEDGER_REDIS_STREAM_MAX_LEN")
	setInt(&cfg.Redis.RateLimit, "POOLLEDGER_REDIS_RATE_LIMIT")
	setDuration(&cfg.Redis.RateLimitWindow, "POOLLEDGER_REDIS_RATE_LIMIT_WINDOW")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLLEDGER_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POOLLEDGER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "POOLLEDGER_ARCHIVE_CRON")
	setInt(&cfg.Archive.LookbackDays, "POOLLEDGER_ARCHIVE_LOOKBACK_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POOLLEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POOLLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLLEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POOLLEDGER_SERVER_API_KEY")
	setDuration(&cfg.Server.ShutdownTimeout, "POOLLEDGER_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POOLLEDGER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
