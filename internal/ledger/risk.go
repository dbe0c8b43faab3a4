package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/risk"
)

// GetPoolStatistics summarises the pool's investors and its performance
// history. Every position ever opened in the pool counts.
func (l *Ledger) GetPoolStatistics(ctx context.Context, poolID string) (domain.PoolStatistics, error) {
	ps, err := l.poolState(poolID)
	if err != nil {
		return domain.PoolStatistics{}, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	users := make(map[string]struct{})
	var principal, earned decimal.Decimal
	for _, inv := range ps.investments {
		users[inv.UserID] = struct{}{}
		principal = principal.Add(inv.InitialPrincipal)
		earned = earned.Add(inv.EarnedInterest)
	}

	stats := domain.PoolStatistics{
		PoolID:         poolID,
		TotalInvestors: len(users),
		TotalReturns:   earned,
	}
	if n := len(ps.investments); n > 0 {
		stats.AverageInvestment = domain.RoundAmount(principal.Div(decimal.NewFromInt(int64(n))))
	}
	if ps.pool.TotalAmount.IsPositive() {
		stats.UtilizationRate = ps.pool.LockedAmount.Div(ps.pool.TotalAmount).InexactFloat64()
	}
	returns, cumulative := ps.history.series()
	stats.PerformanceMetrics = risk.Performance(returns, cumulative)
	return stats, nil
}

// PerformRiskAssessment evaluates the pool's current history. The result is
// kept in a bounded per-pool list and persisted. The pool's write lock is held
// from evaluation to append, so retained assessments stay in date order.
func (l *Ledger) PerformRiskAssessment(ctx context.Context, poolID string) (out domain.RiskAssessment, err error) {
	defer l.observe("risk_assessment", time.Now(), &err)

	ps, err := l.poolState(poolID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	unlock, err := l.lockPool(ctx, ps)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	defer unlock()

	returns, cumulative := ps.history.series()
	a := risk.Assess(poolID, returns, cumulative, l.now())

	if l.store != nil {
		if err := l.store.Commit(ctx, domain.Mutation{PoolID: poolID, RiskAssessment: &a}); err != nil {
			return domain.RiskAssessment{}, fmt.Errorf("ledger: persist assessment for %s: %w", poolID, err)
		}
	}
	ps.assessments = l.keepRecent(append(ps.assessments, a))

	l.metrics.SetRiskScore(poolID, a.RiskScore)
	l.logger.InfoContext(ctx, "ledger: risk assessed",
		slog.String("pool_id", poolID),
		slog.Int("risk_score", a.RiskScore),
		slog.Float64("volatility", a.Volatility),
		slog.Float64("max_drawdown", a.MaxDrawdown),
	)
	return a, nil
}

// RiskAssessments returns up to limit retained assessments, newest first.
func (l *Ledger) RiskAssessments(ctx context.Context, poolID string, limit int) ([]domain.RiskAssessment, error) {
	ps, err := l.poolState(poolID)
	if err != nil {
		return nil, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	n := len(ps.assessments)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.RiskAssessment, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ps.assessments[i])
	}
	return out, nil
}
