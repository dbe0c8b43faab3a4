package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// CreateInvestment moves amount from the pool's available capital into a new
// position. Checks run in order: pool exists, pool active, amount within the
// pool's bounds, amount covered by available capital. Nothing changes unless
// every check passes and the mutation is persisted. The amount is rounded to
// domain.AmountScale digits first.
func (l *Ledger) CreateInvestment(ctx context.Context, userID, poolID string, amount decimal.Decimal, opts domain.InvestmentOptions) (out domain.Investment, err error) {
	defer l.observe("create_investment", time.Now(), &err)

	ps, err := l.poolState(poolID)
	if err != nil {
		return domain.Investment{}, err
	}
	unlock, err := l.lockPool(ctx, ps)
	if err != nil {
		return domain.Investment{}, err
	}
	defer unlock()

	pool := ps.pool
	if pool.Status != domain.PoolStatusActive {
		return domain.Investment{}, fmt.Errorf("ledger: pool %s is %s: %w", poolID, pool.Status, domain.ErrInvalidState)
	}
	if userID == "" {
		return domain.Investment{}, fmt.Errorf("ledger: user id is empty: %w", domain.ErrConstraintViolation)
	}
	amount = domain.RoundAmount(amount)
	if !amount.IsPositive() || amount.LessThan(pool.MinInvestment) ||
		(pool.MaxInvestment.IsPositive() && amount.GreaterThan(pool.MaxInvestment)) {
		return domain.Investment{}, fmt.Errorf("ledger: amount %s outside [%s, %s]: %w",
			amount, pool.MinInvestment, pool.MaxInvestment, domain.ErrConstraintViolation)
	}
	if amount.GreaterThan(pool.AvailableAmount) {
		return domain.Investment{}, fmt.Errorf("ledger: amount %s exceeds available %s: %w",
			amount, pool.AvailableAmount, domain.ErrConstraintViolation)
	}

	now := l.now()
	pool.AvailableAmount = pool.AvailableAmount.Sub(amount)
	pool.LockedAmount = pool.LockedAmount.Add(amount)
	pool.UpdatedAt = now

	inv := domain.Investment{
		ID:                 "inv_" + uuid.NewString(),
		UserID:             userID,
		PoolID:             poolID,
		InitialPrincipal:   amount,
		Principal:          amount,
		CurrentValue:       amount,
		InvestmentDate:     now,
		MaturityDate:       now.AddDate(0, 0, pool.LockPeriodDays),
		EarnedInterest:     decimal.Zero,
		Status:             domain.InvestmentStatusActive,
		CompoundingEnabled: opts.CompoundingEnabled,
		AutoReinvest:       opts.AutoReinvest,
		WithdrawalRequests: []domain.WithdrawalRequest{},
		UpdatedAt:          now,
	}
	cf, err := newCashFlow(pool, domain.CashFlowDeposit, amount, "investment deposit", userID, opts.TxHash, now)
	if err != nil {
		return domain.Investment{}, err
	}

	m := domain.Mutation{
		PoolID:      poolID,
		Balances:    balancesOf(pool),
		Investments: []domain.Investment{inv},
		CashFlows:   []domain.CashFlow{cf},
	}
	if err := l.commit(ctx, ps, pool, m); err != nil {
		return domain.Investment{}, err
	}

	stored := inv.Clone()
	ps.investments[inv.ID] = &stored
	ps.journal.append(cf)
	l.mu.Lock()
	l.indexInvestmentLocked(inv)
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: investment created",
		slog.String("investment_id", inv.ID),
		slog.String("pool_id", poolID),
		slog.String("user_id", userID),
		slog.String("amount", amount.String()),
	)
	evtInv := inv.Clone()
	l.publish(domain.Event{
		Type:       domain.EventInvestmentCreated,
		PoolID:     poolID,
		UserID:     userID,
		Investment: &evtInv,
		OccurredAt: now,
	})
	return inv, nil
}

// GetInvestment returns a copy of one position.
func (l *Ledger) GetInvestment(ctx context.Context, investmentID string) (domain.Investment, error) {
	ps, err := l.poolOfInvestment(investmentID)
	if err != nil {
		return domain.Investment{}, err
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	inv, ok := ps.investments[investmentID]
	if !ok {
		return domain.Investment{}, fmt.Errorf("ledger: investment %s: %w", investmentID, domain.ErrNotFound)
	}
	return inv.Clone(), nil
}

// GetUserInvestments returns every position of the user ordered by
// investment date. An unknown user has no positions.
func (l *Ledger) GetUserInvestments(ctx context.Context, userID string) []domain.Investment {
	l.mu.RLock()
	ids := slices.Clone(l.userInvs[userID])
	byPool := make(map[*poolState][]string)
	for _, id := range ids {
		if ps, ok := l.pools[l.invPool[id]]; ok {
			byPool[ps] = append(byPool[ps], id)
		}
	}
	l.mu.RUnlock()

	found := make(map[string]domain.Investment, len(ids))
	for ps, invIDs := range byPool {
		ps.mu.RLock()
		for _, id := range invIDs {
			if inv, ok := ps.investments[id]; ok {
				found[id] = inv.Clone()
			}
		}
		ps.mu.RUnlock()
	}

	// ids are in creation order, which breaks ties between equal dates.
	out := make([]domain.Investment, 0, len(found))
	for _, id := range ids {
		if inv, ok := found[id]; ok {
			out = append(out, inv)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Investment) int {
		return a.InvestmentDate.Compare(b.InvestmentDate)
	})
	return out
}

// PortfolioOverview totals the user's open positions.
func (l *Ledger) PortfolioOverview(ctx context.Context, userID string) domain.Portfolio {
	invs := l.GetUserInvestments(ctx, userID)
	p := domain.Portfolio{UserID: userID, Investments: invs}
	for _, inv := range invs {
		if inv.Status.Terminal() {
			continue
		}
		p.TotalPrincipal = p.TotalPrincipal.Add(inv.Principal)
		p.TotalValue = p.TotalValue.Add(inv.CurrentValue)
		p.TotalEarned = p.TotalEarned.Add(inv.EarnedInterest)
		p.ActiveInvestments++
	}
	return p
}
