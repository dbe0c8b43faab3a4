package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/simulator"
)

// AddPool registers a pool. A nil history is bootstrapped by the generator
// when BootstrapDays is set; longer histories keep only the newest records
// that fit the window.
func (l *Ledger) AddPool(ctx context.Context, pool domain.Pool, hist []domain.PerformanceRecord) error {
	if strings.TrimSpace(pool.ID) == "" {
		return fmt.Errorf("ledger: pool id is empty: %w", domain.ErrConstraintViolation)
	}
	pool.TotalAmount = domain.RoundAmount(pool.TotalAmount)
	pool.AvailableAmount = domain.RoundAmount(pool.AvailableAmount)
	pool.LockedAmount = domain.RoundAmount(pool.LockedAmount)
	if !pool.CheckBalances() {
		return fmt.Errorf("ledger: pool %s amounts do not add up: %w", pool.ID, domain.ErrConstraintViolation)
	}
	if pool.MinInvestment.IsNegative() || pool.MaxInvestment.IsNegative() ||
		(pool.MaxInvestment.IsPositive() && pool.MaxInvestment.LessThan(pool.MinInvestment)) {
		return fmt.Errorf("ledger: pool %s investment bounds [%s, %s]: %w",
			pool.ID, pool.MinInvestment, pool.MaxInvestment, domain.ErrConstraintViolation)
	}

	now := l.now()
	if pool.Status == "" {
		pool.Status = domain.PoolStatusActive
	}
	if pool.InceptionValue <= 0 {
		pool.InceptionValue = simulator.DefaultInceptionValue
	}
	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = now
	}
	pool.UpdatedAt = now

	l.mu.RLock()
	_, exists := l.pools[pool.ID]
	l.mu.RUnlock()
	if exists {
		return fmt.Errorf("ledger: pool %s: %w", pool.ID, domain.ErrAlreadyExists)
	}

	if hist == nil && l.gen != nil && l.bootstrapDays > 0 {
		var err error
		hist, err = l.gen.History(ctx, pool, l.bootstrapDays, now)
		if err != nil {
			return fmt.Errorf("ledger: bootstrap history for %s: %w", pool.ID, err)
		}
	}
	if len(hist) > l.historyWindow {
		hist = hist[len(hist)-l.historyWindow:]
	}

	if l.store != nil {
		if err := l.store.CreatePool(ctx, pool, hist); err != nil {
			return fmt.Errorf("ledger: persist pool %s: %w", pool.ID, err)
		}
	}

	st := l.newPoolState(pool)
	for _, rec := range hist {
		st.history.push(rec)
	}

	l.mu.Lock()
	if _, exists := l.pools[pool.ID]; exists {
		l.mu.Unlock()
		return fmt.Errorf("ledger: pool %s: %w", pool.ID, domain.ErrAlreadyExists)
	}
	l.pools[pool.ID] = st
	l.mu.Unlock()

	l.recordBalances(pool)
	l.logger.InfoContext(ctx, "ledger: pool added",
		slog.String("pool_id", pool.ID),
		slog.String("currency", pool.Currency),
		slog.Int("history", len(hist)),
	)
	return nil
}

// SeedPool adds pool unless a pool with the same id already exists.
func (l *Ledger) SeedPool(ctx context.Context, pool domain.Pool) error {
	err := l.AddPool(ctx, pool, nil)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	return err
}

// ListPools returns the active pools ordered by id.
func (l *Ledger) ListPools(ctx context.Context) []domain.Pool {
	var out []domain.Pool
	for _, ps := range l.sortedPools() {
		ps.mu.RLock()
		if ps.pool.Status == domain.PoolStatusActive {
			out = append(out, ps.pool)
		}
		ps.mu.RUnlock()
	}
	return out
}

// GetPool returns the pool together with a copy of its history.
func (l *Ledger) GetPool(ctx context.Context, poolID string) (domain.PoolView, error) {
	ps, err := l.poolState(poolID)
	if err != nil {
		return domain.PoolView{}, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return domain.PoolView{Pool: ps.pool, HistoricalPerformance: ps.history.records()}, nil
}

func (l *Ledger) sortedPools() []*poolState {
	l.mu.RLock()
	out := make([]*poolState, 0, len(l.pools))
	for _, ps := range l.pools {
		out = append(out, ps)
	}
	l.mu.RUnlock()
	slices.SortFunc(out, func(a, b *poolState) int { return strings.Compare(a.id, b.id) })
	return out
}
