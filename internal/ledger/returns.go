package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/simulator"
)

const daysPerYear = 365

// Accrual is the result of compounding a principal over whole days. The
// compounding math runs in float64; money amounts are derived from Growth.
type Accrual struct {
	Days             int
	Value            float64
	Fee              float64
	TotalReturn      float64
	DailyReturn      float64
	AnnualizedReturn float64
}

// Accrue compounds principal daily at the pool's APY for days whole days and
// deducts the pro-rated management fee from the result.
func Accrue(principal, apy, managementFee float64, days int) Accrual {
	if days < 0 {
		days = 0
	}
	gross := principal * compound(apy, days)
	fee := gross * managementFee * float64(days) / daysPerYear
	value := gross - fee

	a := Accrual{Days: days, Value: value, Fee: fee, TotalReturn: value - principal}
	if days > 0 {
		a.DailyReturn = a.TotalReturn / float64(days)
		if principal > 0 && value > 0 {
			a.AnnualizedReturn = math.Pow(value/principal, daysPerYear/float64(days)) - 1
		}
	}
	return a
}

// Growth is the net factor Accrue applies to a principal over days.
func Growth(apy, managementFee float64, days int) float64 {
	if days <= 0 {
		return 1
	}
	return compound(apy, days) * (1 - managementFee*float64(days)/daysPerYear)
}

func compound(apy float64, days int) float64 {
	rate := simulator.DailyTargetReturn(apy)
	f := 1.0
	for i := 0; i < days; i++ {
		f *= 1 + rate
	}
	return f
}

// elapsedDays is the number of whole days between from and to, never negative.
func elapsedDays(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// refresh recomputes the investment's value in place and returns the change
// in value. Terminal investments are left untouched. The value is the
// principal scaled by Growth, so zero elapsed days leave it unchanged.
func refresh(inv *domain.Investment, pool domain.Pool, now time.Time) (decimal.Decimal, Accrual) {
	days := elapsedDays(inv.InvestmentDate, now)
	principal := inv.Principal.InexactFloat64()
	if inv.Status.Terminal() {
		return decimal.Zero, summarize(principal, inv.CurrentValue.InexactFloat64(), days)
	}
	a := Accrue(principal, pool.APY, pool.ManagementFee, days)
	value := inv.Principal
	if days > 0 {
		value = domain.RoundAmount(inv.Principal.Mul(decimal.NewFromFloat(Growth(pool.APY, pool.ManagementFee, days))))
	}
	delta := value.Sub(inv.CurrentValue)
	inv.CurrentValue = value
	inv.EarnedInterest = value.Sub(inv.Principal)
	inv.UpdatedAt = now
	return delta, a
}

// summarize reports returns for a value that is not recomputed.
func summarize(principal, value float64, days int) Accrual {
	a := Accrual{Days: days, Value: value, TotalReturn: value - principal}
	if days > 0 {
		a.DailyReturn = a.TotalReturn / float64(days)
		if principal > 0 && value > 0 {
			a.AnnualizedReturn = math.Pow(value/principal, daysPerYear/float64(days)) - 1
		}
	}
	return a
}

// CalculateReturns refreshes an investment's accrued value and reports its
// returns. The refreshed value is persisted and the pool's locked capital
// follows the change.
func (l *Ledger) CalculateReturns(ctx context.Context, investmentID string) (summary domain.ReturnsSummary, err error) {
	defer l.observe("calculate_returns", time.Now(), &err)

	ps, err := l.poolOfInvestment(investmentID)
	if err != nil {
		return domain.ReturnsSummary{}, err
	}
	unlock, err := l.lockPool(ctx, ps)
	if err != nil {
		return domain.ReturnsSummary{}, err
	}
	defer unlock()

	cur, ok := ps.investments[investmentID]
	if !ok {
		return domain.ReturnsSummary{}, fmt.Errorf("ledger: investment %s: %w", investmentID, domain.ErrNotFound)
	}
	now := l.now()
	inv := cur.Clone()
	delta, acc := refresh(&inv, ps.pool, now)

	if !delta.IsZero() {
		pool := ps.pool
		applyAccrual(&pool, delta, now)
		flows, err := l.accrualFlows(pool, []accrualDelta{{userID: inv.UserID, delta: delta}}, now)
		if err != nil {
			return domain.ReturnsSummary{}, err
		}
		m := domain.Mutation{
			PoolID:      pool.ID,
			Balances:    balancesOf(pool),
			Investments: []domain.Investment{inv},
			CashFlows:   flows,
		}
		if err := l.commit(ctx, ps, pool, m); err != nil {
			return domain.ReturnsSummary{}, err
		}
		*cur = inv
		ps.journal.append(flows...)
	}

	l.logger.DebugContext(ctx, "ledger: returns refreshed",
		slog.String("investment_id", investmentID),
		slog.Int("days", acc.Days),
		slog.String("current_value", inv.CurrentValue.String()),
	)

	total := inv.CurrentValue.Sub(inv.Principal)
	daily := decimal.Zero
	if acc.Days > 0 {
		daily = domain.RoundAmount(total.Div(decimal.NewFromInt(int64(acc.Days))))
	}
	return domain.ReturnsSummary{
		InvestmentID:     investmentID,
		Principal:        inv.Principal,
		CurrentValue:     inv.CurrentValue,
		TotalReturn:      total,
		DailyReturn:      daily,
		AnnualizedReturn: acc.AnnualizedReturn,
		DaysElapsed:      acc.Days,
	}, nil
}

// applyAccrual credits accrued value to the pool's locked capital. Accrued
// interest is owed to investors, so it grows the pool rather than moving
// capital out of the available share.
func applyAccrual(pool *domain.Pool, delta decimal.Decimal, now time.Time) {
	pool.LockedAmount = pool.LockedAmount.Add(delta)
	pool.TotalAmount = pool.TotalAmount.Add(delta)
	pool.UpdatedAt = now
}

type accrualDelta struct {
	userID string
	delta  decimal.Decimal
}

// accrualFlows journals each change in value: gains as interest, net losses
// (fees exceeding growth) as fee entries.
func (l *Ledger) accrualFlows(pool domain.Pool, deltas []accrualDelta, now time.Time) ([]domain.CashFlow, error) {
	var flows []domain.CashFlow
	for _, d := range deltas {
		if d.delta.IsZero() {
			continue
		}
		typ, desc := domain.CashFlowInterest, "accrued interest"
		amount := d.delta
		if d.delta.IsNegative() {
			typ, desc, amount = domain.CashFlowFee, "management fee in excess of accrual", d.delta.Neg()
		}
		cf, err := newCashFlow(pool, typ, amount, desc, d.userID, "", now)
		if err != nil {
			return nil, err
		}
		flows = append(flows, cf)
	}
	return flows, nil
}
