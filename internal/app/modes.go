package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/poolledger/internal/blob/s3"
	"github.com/alanyoungcy/poolledger/internal/config"
	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/events"
	"github.com/alanyoungcy/poolledger/internal/ledger"
	"github.com/alanyoungcy/poolledger/internal/scheduler"
	"github.com/alanyoungcy/poolledger/internal/server"
	"github.com/alanyoungcy/poolledger/internal/server/handler"
	"github.com/alanyoungcy/poolledger/internal/server/ws"
	"github.com/alanyoungcy/poolledger/internal/simulator"
)

// ServeMode restores the ledger, seeds the configured pools, and runs the
// event dispatcher, the daily tick, the cash-flow archive, the WebSocket hub
// and the HTTP API until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// Events raised while restoring and seeding wait in the queue until the
	// dispatcher starts.
	dispatcher := events.NewDispatcher(a.cfg.Ledger.EventQueueSize, deps.Metrics, a.logger, deps.eventSinks()...)
	l, err := a.buildLedger(ctx, deps, dispatcher)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Daily tick: extends every pool's history and accrues open positions.
	if a.cfg.Scheduler.Enabled {
		tick, err := a.newSchedule("ledger-tick", a.cfg.Scheduler, l.Tick)
		if err != nil {
			return fmt.Errorf("app: tick scheduler: %w", err)
		}
		g.Go(func() error {
			return tick.Run(ctx)
		})
	}

	// Cash-flow archive to S3.
	if deps.BlobWriter != nil && deps.LedgerStore != nil {
		archiver := s3blob.NewCashFlowArchiver(deps.LedgerStore, deps.BlobWriter, deps.BlobReader, deps.AuditStore, a.logger)
		lookback := a.cfg.Archive.LookbackDays
		job, err := scheduler.Cron("cashflow-archive", a.cfg.Archive.Cron, func(ctx context.Context) error {
			until, since := archiveWindow(time.Now(), lookback)
			n, err := archiver.ArchiveCashFlows(ctx, since, until)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "app: cash flows archived", slog.Int64("entries", n))
			return nil
		}, a.logger)
		if err != nil {
			return fmt.Errorf("app: archive scheduler: %w", err)
		}
		g.Go(func() error {
			return job.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.Bus, ws.Config{
			Channels:       []string{events.Channel},
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}, deps.Metrics, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})

		srv := server.NewServer(server.Config{
			Addr:            ":" + strconv.Itoa(a.cfg.Server.Port),
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Redis.RateLimit,
			RateLimitWindow: a.cfg.Redis.RateLimitWindow.Duration,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration,
		}, server.Handlers{
			Health:      handler.NewHealthHandler(deps.Checks, a.logger),
			Pools:       handler.NewPoolHandler(l, a.logger),
			Investments: handler.NewInvestmentHandler(l, a.logger),
		}, server.Deps{
			Hub:         hub,
			RateLimiter: deps.RateLimiter,
			Metrics:     deps.Metrics,
		}, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	return g.Wait()
}

// MigrateMode applies the schema migrations and returns the files applied.
func (a *App) MigrateMode(ctx context.Context) ([]string, error) {
	if !a.cfg.Postgres.Enabled() {
		return nil, fmt.Errorf("app: migrate: postgres is not configured")
	}
	client, err := openPostgres(ctx, a.cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	defer client.Close()

	applied, err := client.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "app: migrations applied", slog.Any("files", applied))
	return applied, nil
}

// buildLedger creates the ledger, restores persisted state and seeds the
// configured pools. Pools restored from the store keep their state.
func (a *App) buildLedger(ctx context.Context, deps *Dependencies, pub domain.EventPublisher) (*ledger.Ledger, error) {
	opts := ledger.Options{
		Publisher:        pub,
		Generator:        newGenerator(a.cfg.Simulator),
		Locks:            deps.LockManager,
		LockTTL:          a.cfg.Ledger.LockTTL.Duration,
		Metrics:          deps.Metrics,
		Logger:           a.logger,
		HistoryWindow:    a.cfg.Ledger.HistoryWindow,
		AssessmentWindow: a.cfg.Ledger.AssessmentWindow,
		BootstrapDays:    a.cfg.Ledger.BootstrapDays,
	}
	// Validate has bounded the rate, so zero here disables the penalty.
	rate := a.cfg.Ledger.EarlyPenaltyRate
	opts.EarlyPenaltyRate = &rate
	// Assigned only when present so the interface stays nil otherwise.
	if deps.LedgerStore != nil {
		opts.Store = deps.LedgerStore
	}
	l := ledger.New(opts)

	if err := l.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: restore ledger: %w", err)
	}
	for _, pc := range a.cfg.Pools {
		if err := l.SeedPool(ctx, pc.Pool()); err != nil {
			return nil, fmt.Errorf("app: seed pool %s: %w", pc.ID, err)
		}
	}
	a.logger.InfoContext(ctx, "app: ledger ready", slog.Int("pools", len(l.ListPools(ctx))))
	return l, nil
}

func newGenerator(sc config.SimulatorConfig) *simulator.Generator {
	var src simulator.Source
	switch sc.Source {
	case "constant":
		src = simulator.Constant{}
	default:
		src = simulator.NewRandomWalk(sc.Seed, sc.Volatility)
	}
	return simulator.New(src, sc.Volatility)
}

func (a *App) newSchedule(name string, sc config.SchedulerConfig, job scheduler.Job) (*scheduler.Scheduler, error) {
	if sc.Cron != "" {
		return scheduler.Cron(name, sc.Cron, job, a.logger)
	}
	return scheduler.Every(name, sc.Interval.Duration, job, a.logger)
}

// archiveWindow covers the lookback days that ended before the current UTC
// day began.
func archiveWindow(now time.Time, lookbackDays int) (until, since time.Time) {
	now = now.UTC()
	until = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return until, until.AddDate(0, 0, -lookbackDays)
}
