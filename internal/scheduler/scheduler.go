// Package scheduler runs periodic jobs on a fixed interval or a cron
// schedule until their context is cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler triggers a Job. A failed run is logged and does not stop the
// schedule.
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	cron     *Schedule
	runFirst bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithImmediateRun runs the job once before waiting for the first trigger.
func WithImmediateRun() Option {
	return func(s *Scheduler) { s.runFirst = true }
}

// WithClock replaces time.Now when computing cron triggers.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Every creates a scheduler firing every interval.
func Every(name string, interval time.Duration, job Job, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: %s: interval must be positive, got %s", name, interval)
	}
	s := newScheduler(name, job, logger, opts)
	s.interval = interval
	return s, nil
}

// Cron creates a scheduler firing on a 5-field cron expression (UTC).
func Cron(name, expr string, job Job, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %s: %w", name, err)
	}
	s := newScheduler(name, job, logger, opts)
	s.cron = &sched
	return s, nil
}

func newScheduler(name string, job Job, logger *slog.Logger, opts []Option) *Scheduler {
	s := &Scheduler{
		name:   name,
		job:    job,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "scheduler"), slog.String("job", name)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler: started",
		slog.Duration("interval", s.interval),
		slog.String("cron", s.cronExpr()),
	)
	if s.runFirst {
		s.runOnce(ctx)
	}

	var ticker *time.Ticker
	if s.cron == nil {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}

	for {
		var fire <-chan time.Time
		var timer *time.Timer
		if ticker != nil {
			fire = ticker.C
		} else {
			next, err := s.cron.Next(s.now())
			if err != nil {
				return err
			}
			timer = time.NewTimer(next.Sub(s.now()))
			fire = timer.C
			s.logger.DebugContext(ctx, "scheduler: waiting", slog.Time("next_run", next))
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.InfoContext(ctx, "scheduler: stopped")
			return ctx.Err()
		case <-fire:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	err := s.job(ctx)
	switch {
	case err == nil:
		s.logger.DebugContext(ctx, "scheduler: run complete", slog.Duration("took", time.Since(start)))
	case errors.Is(err, context.Canceled):
	default:
		s.logger.ErrorContext(ctx, "scheduler: run failed",
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) cronExpr() string {
	if s.cron == nil {
		return ""
	}
	return s.cron.String()
}
