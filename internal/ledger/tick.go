package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// Tick advances every active pool by one simulated day: a new performance
// record, refreshed position values, maturity transitions and one journal
// entry for the pool's net accrual. Pools fail independently; the returned
// error joins every per-pool failure.
func (l *Ledger) Tick(ctx context.Context) error {
	if l.gen == nil {
		return errors.New("ledger: tick requires a performance generator")
	}
	start := time.Now()

	var errs []error
	for _, ps := range l.sortedPools() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := l.tickPool(ctx, ps); err != nil {
			l.logger.ErrorContext(ctx, "ledger: tick failed",
				slog.String("pool_id", ps.id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	l.metrics.RecordTick(time.Since(start))
	return errors.Join(errs...)
}

func (l *Ledger) tickPool(ctx context.Context, ps *poolState) error {
	unlock, err := l.lockPool(ctx, ps)
	if err != nil {
		return err
	}
	defer unlock()

	if ps.pool.Status != domain.PoolStatusActive {
		return nil
	}
	now := l.now()
	pool := ps.pool

	var prev *domain.PerformanceRecord
	if last, ok := ps.history.last(); ok {
		prev = &last
	}
	rec, err := l.gen.Next(ctx, pool, prev, now)
	if err != nil {
		return fmt.Errorf("ledger: simulate %s: %w", pool.ID, err)
	}

	var (
		changed []domain.Investment
		total   decimal.Decimal
		matured int
	)
	for _, cur := range ps.investments {
		if cur.Status.Terminal() {
			continue
		}
		inv := cur.Clone()
		delta, _ := refresh(&inv, pool, now)
		total = total.Add(delta)
		if inv.Status == domain.InvestmentStatusActive && !now.Before(inv.MaturityDate) {
			if inv.AutoReinvest {
				inv.MaturityDate = inv.MaturityDate.AddDate(0, 0, pool.LockPeriodDays)
			} else {
				inv.Status = domain.InvestmentStatusMatured
				matured++
			}
		}
		changed = append(changed, inv)
	}

	applyAccrual(&pool, total, now)
	flows, err := l.accrualFlows(pool, []accrualDelta{{delta: total}}, now)
	if err != nil {
		return err
	}
	for i := range flows {
		flows[i].Description = "daily accrual"
	}

	m := domain.Mutation{
		PoolID:      pool.ID,
		Balances:    balancesOf(pool),
		Investments: changed,
		CashFlows:   flows,
		Performance: []domain.PerformanceRecord{rec},
	}
	if err := l.commit(ctx, ps, pool, m); err != nil {
		return err
	}
	ps.history.push(rec)
	ps.journal.append(flows...)
	for _, inv := range changed {
		*ps.investments[inv.ID] = inv
	}

	l.logger.DebugContext(ctx, "ledger: pool ticked",
		slog.String("pool_id", pool.ID),
		slog.Float64("daily_return", rec.DailyReturn),
		slog.String("accrued", total.String()),
		slog.Int("positions", len(changed)),
		slog.Int("matured", matured),
	)
	return nil
}
