package ledger

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

func TestAccrue(t *testing.T) {
	t.Run("one year without fee compounds to apy", func(t *testing.T) {
		a := Accrue(10_000, 0.085, 0, 365)
		assert.InDelta(t, 10_850, a.Value, 1e-6)
		assert.InDelta(t, 850, a.TotalReturn, 1e-6)
		assert.InDelta(t, 850.0/365, a.DailyReturn, 1e-9)
		assert.InDelta(t, 0.085, a.AnnualizedReturn, 1e-9)
	})

	t.Run("fee is pro-rated on the compounded value", func(t *testing.T) {
		a := Accrue(10_000, 0.085, 0.02, 365)
		assert.InDelta(t, 10_850*0.02, a.Fee, 1e-6)
		assert.InDelta(t, 10_850*0.98, a.Value, 1e-6)
	})

	t.Run("zero days", func(t *testing.T) {
		a := Accrue(10_000, 0.085, 0.02, 0)
		assert.Equal(t, 10_000.0, a.Value)
		assert.Zero(t, a.DailyReturn)
		assert.Zero(t, a.AnnualizedReturn)
	})

	t.Run("negative days clamp to zero", func(t *testing.T) {
		a := Accrue(10_000, 0.085, 0, -4)
		assert.Equal(t, 0, a.Days)
		assert.Equal(t, 10_000.0, a.Value)
	})

	t.Run("growth matches the accrual factor", func(t *testing.T) {
		a := Accrue(10_000, 0.085, 0.02, 200)
		assert.InDelta(t, a.Value/10_000, Growth(0.085, 0.02, 200), 1e-12)
		assert.Equal(t, 1.0, Growth(0.085, 0.02, 0))
	})

	t.Run("annualised from half a year", func(t *testing.T) {
		a := Accrue(1000, 0.12, 0, 180)
		want := math.Pow(a.Value/1000, 365.0/180) - 1
		assert.InDelta(t, want, a.AnnualizedReturn, 1e-12)
		assert.InDelta(t, 0.12, a.AnnualizedReturn, 1e-9)
	})
}

func TestElapsedDays(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, elapsedDays(t0, t0.Add(23*time.Hour)))
	assert.Equal(t, 1, elapsedDays(t0, t0.Add(24*time.Hour)))
	assert.Equal(t, 0, elapsedDays(t0, t0.Add(-72*time.Hour)))
}

func TestCalculateReturnsRefreshesPosition(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	ctx := context.Background()

	inv, err := h.ledger.CreateInvestment(ctx, "user1", "POOL_USD_001", dec(10_000), domain.InvestmentOptions{})
	require.NoError(t, err)

	sum, err := h.ledger.CalculateReturns(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.DaysElapsed)
	assertAmount(t, 10_000, sum.CurrentValue)
	assert.True(t, sum.TotalReturn.IsZero())
	assert.Zero(t, sum.AnnualizedReturn)

	h.clock.Advance(365*day + 5*time.Hour)
	sum, err = h.ledger.CalculateReturns(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 365, sum.DaysElapsed)
	assert.InDelta(t, 10_850*0.98, sum.CurrentValue.InexactFloat64(), 1e-6)
	assert.InDelta(t, 10_850*0.98-10_000, sum.TotalReturn.InexactFloat64(), 1e-6)
	assert.True(t, sum.CurrentValue.Sub(sum.Principal).Equal(sum.TotalReturn))

	stored, err := h.ledger.GetInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, sum.CurrentValue.Equal(stored.CurrentValue))
	assert.True(t, sum.CurrentValue.Sub(dec(10_000)).Equal(stored.EarnedInterest))

	p := h.pool(t, "POOL_USD_001")
	assert.True(t, sum.CurrentValue.Equal(p.LockedAmount))
	assert.True(t, p.CheckBalances())

	flows, err := h.ledger.GetCashFlows(ctx, "POOL_USD_001", 1)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, domain.CashFlowInterest, flows[0].Type)
	assert.True(t, sum.TotalReturn.Equal(flows[0].Amount))

	// A second refresh on the same day changes nothing.
	again, err := h.ledger.CalculateReturns(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, sum.DaysElapsed, again.DaysElapsed)
	assert.True(t, sum.CurrentValue.Equal(again.CurrentValue))
	assert.True(t, sum.TotalReturn.Equal(again.TotalReturn))
	assert.True(t, sum.DailyReturn.Equal(again.DailyReturn))
	flows, _ = h.ledger.GetCashFlows(ctx, "POOL_USD_001", 0)
	assert.Len(t, flows, 2)
}

func TestCalculateReturnsUnknownInvestment(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.CalculateReturns(context.Background(), "inv_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCalculateReturnsTerminalIsFrozen(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	ctx := context.Background()

	inv, err := h.ledger.CreateInvestment(ctx, "user1", "POOL_USD_001", dec(10_000), domain.InvestmentOptions{})
	require.NoError(t, err)
	req, err := h.ledger.RequestWithdrawal(ctx, inv.ID, dec(10_000), false)
	require.NoError(t, err)
	_, err = h.ledger.ProcessWithdrawal(ctx, req.ID, true, "")
	require.NoError(t, err)

	h.clock.Advance(100 * day)
	sum, err := h.ledger.CalculateReturns(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, sum.CurrentValue.IsZero())
	assert.Equal(t, 100, sum.DaysElapsed)
}
