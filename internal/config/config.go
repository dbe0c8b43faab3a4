// Package config defines the top-level configuration for the pool ledger
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/scheduler"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLLEDGER_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Simulator SimulatorConfig `toml:"simulator"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Pools     []PoolConfig    `toml:"pools"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// LedgerConfig tunes the in-memory ledger.
type LedgerConfig struct {
	HistoryWindow    int     `toml:"history_window"`
	AssessmentWindow int     `toml:"assessment_window"`
	BootstrapDays    int     `toml:"bootstrap_days"`
	EarlyPenaltyRate float64 `toml:"early_penalty_rate"`
	// DistributedLock serialises pool writers across replicas through Redis.
	DistributedLock bool     `toml:"distributed_lock"`
	LockTTL         duration `toml:"lock_ttl"`
	EventQueueSize  int      `toml:"event_queue_size"`
}

// SimulatorConfig picks the daily return source.
type SimulatorConfig struct {
	// Source is "random_walk" or "constant".
	Source     string  `toml:"source"`
	Seed       uint64  `toml:"seed"`
	Volatility float64 `toml:"volatility"`
}

// SchedulerConfig controls the daily tick. Cron wins over Interval when set.
type SchedulerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Cron     string   `toml:"cron"`
}

// PoolConfig seeds a pool on startup. Pools already present in the store are
// left untouched.
type PoolConfig struct {
	ID             string  `toml:"id"`
	Name           string  `toml:"name"`
	Currency       string  `toml:"currency"`
	TotalAmount    float64 `toml:"total_amount"`
	LockedAmount   float64 `toml:"locked_amount"`
	MinInvestment  float64 `toml:"min_investment"`
	MaxInvestment  float64 `toml:"max_investment"`
	APY            float64 `toml:"apy"`
	RiskLevel      string  `toml:"risk_level"`
	LockPeriodDays int     `toml:"lock_period_days"`
	ManagementFee  float64 `toml:"management_fee"`
	PerformanceFee float64 `toml:"performance_fee"`
	StrategyType   string  `toml:"strategy_type"`
	Description    string  `toml:"description"`
}

// Pool converts the seed entry into an active domain pool.
func (p PoolConfig) Pool() domain.Pool {
	total := domain.AmountFromFloat(p.TotalAmount)
	locked := domain.AmountFromFloat(p.LockedAmount)
	return domain.Pool{
		ID:              p.ID,
		Name:            p.Name,
		Currency:        p.Currency,
		TotalAmount:     total,
		AvailableAmount: total.Sub(locked),
		LockedAmount:    locked,
		MinInvestment:   domain.AmountFromFloat(p.MinInvestment),
		MaxInvestment:   domain.AmountFromFloat(p.MaxInvestment),
		APY:             p.APY,
		RiskLevel:       domain.RiskLevel(p.RiskLevel),
		LockPeriodDays:  p.LockPeriodDays,
		ManagementFee:   p.ManagementFee,
		PerformanceFee:  p.PerformanceFee,
		Status:          domain.PoolStatusActive,
		StrategyType:    domain.StrategyType(p.StrategyType),
		Description:     p.Description,
	}
}

// PostgresConfig holds PostgreSQL connection parameters. Empty DSN and Host
// run the ledger without persistence.
type PostgresConfig struct {
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

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	KeyPrefix       string   `toml:"key_prefix"`
	StreamMaxLen    int64    `toml:"stream_max_len"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cash-flow export to S3.
type ArchiveConfig struct {
	Enabled      bool   `toml:"enabled"`
	Cron         string `toml:"cron"`
	LookbackDays int    `toml:"lookback_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			HistoryWindow:    365,
			AssessmentWindow: 30,
			BootstrapDays:    365,
			EarlyPenaltyRate: 0.01,
			LockTTL:          duration{5 * time.Second},
			EventQueueSize:   1024,
		},
		Simulator: SimulatorConfig{
			Source:     "random_walk",
			Seed:       1,
			Volatility: 0.02,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: duration{24 * time.Hour},
		},
		Pools: DefaultPools(),
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			KeyPrefix:       "poolledger:",
			StreamMaxLen:    10000,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolledger-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:         "15 0 * * *",
			LookbackDays: 7,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"withdrawal_requested", "withdrawal_processed", "invariant_violation"},
		},
		LogLevel: "info",
	}
}

// DefaultPools returns the demo pools seeded when the config names none.
func DefaultPools() []PoolConfig {
	return []PoolConfig{
		{
			ID: "POOL_USD_001", Name: "USD Stablecoin Yield", Currency: "USD",
			TotalAmount: 5_000_000, LockedAmount: 1_800_000,
			MinInvestment: 1_000, MaxInvestment: 500_000,
			APY: 0.085, RiskLevel: "low", LockPeriodDays: 90,
			ManagementFee: 0.02, PerformanceFee: 0.10, StrategyType: "lending",
			Description: "Stablecoin liquidity supplied to lending protocols",
		},
		{
			ID: "POOL_CNY_001", Name: "CNY Arbitrage", Currency: "CNY",
			TotalAmount: 36_000_000, LockedAmount: 14_000_000,
			MinInvestment: 5_000, MaxInvestment: 2_000_000,
			APY: 0.12, RiskLevel: "medium", LockPeriodDays: 180,
			ManagementFee: 0.025, PerformanceFee: 0.15, StrategyType: "arbitrage",
			Description: "CNY/USDT rate arbitrage",
		},
		{
			ID: "POOL_RUB_001", Name: "RUB High Yield", Currency: "RUB",
			TotalAmount: 120_000_000, LockedAmount: 40_000_000,
			MinInvestment: 50_000, MaxInvestment: 10_000_000,
			APY: 0.18, RiskLevel: "high", LockPeriodDays: 365,
			ManagementFee: 0.03, PerformanceFee: 0.20, StrategyType: "yield_farming",
			Description: "Multi-strategy yield for risk-tolerant investors",
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"random_walk": true,
	"constant":    true,
}

var validRiskLevels = map[string]bool{
	string(domain.RiskLevelLow):    true,
	string(domain.RiskLevelMedium): true,
	string(domain.RiskLevelHigh):   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.HistoryWindow < 2 {
		errs = append(errs, "ledger: history_window must be >= 2")
	}
	if c.Ledger.AssessmentWindow < 1 {
		errs = append(errs, "ledger: assessment_window must be >= 1")
	}
	if c.Ledger.BootstrapDays < 0 || c.Ledger.BootstrapDays > c.Ledger.HistoryWindow {
		errs = append(errs, fmt.Sprintf("ledger: bootstrap_days must be 0-%d, got %d", c.Ledger.HistoryWindow, c.Ledger.BootstrapDays))
	}
	if c.Ledger.EarlyPenaltyRate < 0 || c.Ledger.EarlyPenaltyRate >= 1 {
		errs = append(errs, "ledger: early_penalty_rate must be in [0, 1)")
	}
	if c.Ledger.DistributedLock {
		if !c.Redis.Enabled {
			errs = append(errs, "ledger: distributed_lock requires redis.enabled")
		}
		if c.Ledger.LockTTL.Duration <= 0 {
			errs = append(errs, "ledger: lock_ttl must be > 0 when distributed_lock is set")
		}
	}
	if c.Ledger.EventQueueSize < 1 {
		errs = append(errs, "ledger: event_queue_size must be >= 1")
	}

	// Simulator
	if !validSources[c.Simulator.Source] {
		errs = append(errs, fmt.Sprintf("simulator: unknown source %q (valid: random_walk, constant)", c.Simulator.Source))
	}
	if c.Simulator.Volatility < 0 {
		errs = append(errs, "simulator: volatility must be >= 0")
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.Cron != "" {
			if _, err := scheduler.ParseCron(c.Scheduler.Cron); err != nil {
				errs = append(errs, fmt.Sprintf("scheduler: cron: %v", err))
			}
		} else if c.Scheduler.Interval.Duration <= 0 {
			errs = append(errs, "scheduler: interval must be > 0 when cron is empty")
		}
	}

	// Pools
	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		label := fmt.Sprintf("pools[%d]", i)
		if p.ID != "" {
			label = fmt.Sprintf("pools[%s]", p.ID)
		}
		switch {
		case strings.TrimSpace(p.ID) == "":
			errs = append(errs, label+": id must not be empty")
		case seen[p.ID]:
			errs = append(errs, label+": duplicate id")
		}
		seen[p.ID] = true
		if p.Currency == "" {
			errs = append(errs, label+": currency must not be empty")
		}
		if p.TotalAmount < 0 || p.LockedAmount < 0 || p.LockedAmount > p.TotalAmount {
			errs = append(errs, label+": need 0 <= locked_amount <= total_amount")
		}
		if p.MinInvestment < 0 || (p.MaxInvestment > 0 && p.MaxInvestment < p.MinInvestment) {
			errs = append(errs, label+": max_investment must be 0 or >= min_investment")
		}
		if p.APY < 0 {
			errs = append(errs, label+": apy must be >= 0")
		}
		if !validRiskLevels[p.RiskLevel] {
			errs = append(errs, fmt.Sprintf("%s: unknown risk_level %q", label, p.RiskLevel))
		}
		if p.LockPeriodDays < 0 {
			errs = append(errs, label+": lock_period_days must be >= 0")
		}
	}

	// Postgres
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.RateLimit > 0 && c.Redis.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "redis: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if !c.Postgres.Enabled() {
			errs = append(errs, "archive: requires postgres")
		}
		if _, err := scheduler.ParseCron(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron: %v", err))
		}
		if c.Archive.LookbackDays < 1 {
			errs = append(errs, "archive: lookback_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
