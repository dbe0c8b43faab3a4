package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/poolledger/internal/blob/s3"
	"github.com/alanyoungcy/poolledger/internal/cache/redis"
	"github.com/alanyoungcy/poolledger/internal/config"
	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/events"
	"github.com/alanyoungcy/poolledger/internal/metrics"
	"github.com/alanyoungcy/poolledger/internal/notify"
	"github.com/alanyoungcy/poolledger/internal/server/handler"
	"github.com/alanyoungcy/poolledger/internal/store/postgres"
)

// Dependencies bundles the infrastructure the ledger runs on. Every field
// except Bus, Notifier and Metrics may be nil when its backend is not
// configured. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	LedgerStore *postgres.LedgerStore
	AuditStore  domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Bus         domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier
	Metrics  *metrics.Collector

	// Checks feeds the health endpoint, keyed by backend name.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.GetCollector(),
		Checks:  make(map[string]handler.Checker),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled() {
		pgClient, err := openPostgres(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
		}

		pool := pgClient.Pool()
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: postgres not configured, ledger state is memory only")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		if cfg.Ledger.DistributedLock {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Bus = events.NewMemoryBus()
	}

	// --- S3 blob storage (only for the cash-flow archive) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func openPostgres(ctx context.Context, pc config.PostgresConfig) (*postgres.Client, error) {
	return postgres.New(ctx, postgres.ClientConfig{
		DSN:      pc.DSN,
		Host:     pc.Host,
		Port:     pc.Port,
		Database: pc.Database,
		User:     pc.User,
		Password: pc.Password,
		SSLMode:  pc.SSLMode,
		MaxConns: pc.PoolMaxConns,
		MinConns: pc.PoolMinConns,
	})
}

// eventSinks lists where ledger events are delivered. The bus sink always
// exists so WebSocket clients see events even without Redis.
func (d *Dependencies) eventSinks() []events.Sink {
	sinks := []events.Sink{events.NewBusSink(d.Bus)}
	if d.AuditStore != nil {
		sinks = append(sinks, events.NewAuditSink(d.AuditStore))
	}
	if d.Notifier.Enabled() {
		sinks = append(sinks, events.NewNotifySink(d.Notifier))
	}
	return sinks
}
