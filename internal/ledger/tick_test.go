package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/simulator"
)

type brokenFeed struct{}

func (brokenFeed) DailyReturn(context.Context, domain.Pool, time.Time) (float64, error) {
	return 0, errors.New("feed unavailable")
}

func TestTickHistoryWindow(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Store = nil })
	h.addPool(t, usdPool())
	ctx := context.Background()
	start := h.clock.Now()

	for i := 1; i <= 400; i++ {
		h.clock.Advance(day)
		require.NoError(t, h.ledger.Tick(ctx))
	}

	v, err := h.ledger.GetPool(ctx, "POOL_USD_001")
	require.NoError(t, err)
	require.Len(t, v.HistoricalPerformance, DefaultHistoryWindow)
	// Ticks 36..400 are retained.
	assert.Equal(t, start.Add(36*day), v.HistoricalPerformance[0].Date)
	assert.Equal(t, start.Add(400*day), v.HistoricalPerformance[364].Date)
	for i := 1; i < len(v.HistoricalPerformance); i++ {
		assert.True(t, v.HistoricalPerformance[i].Date.After(v.HistoricalPerformance[i-1].Date))
	}
}

func TestTickCompoundsAndMatures(t *testing.T) {
	h := newHarness(t)
	p := usdPool()
	p.ManagementFee = 0
	h.addPool(t, p)
	ctx := context.Background()

	plain, err := h.ledger.CreateInvestment(ctx, "user1", p.ID, dec(10_000), domain.InvestmentOptions{})
	require.NoError(t, err)
	rolling, err := h.ledger.CreateInvestment(ctx, "user2", p.ID, dec(10_000), domain.InvestmentOptions{AutoReinvest: true})
	require.NoError(t, err)

	for i := 0; i < 90; i++ {
		h.clock.Advance(day)
		require.NoError(t, h.ledger.Tick(ctx))
	}

	got, err := h.ledger.GetInvestment(ctx, plain.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusMatured, got.Status)
	assert.InDelta(t, Accrue(10_000, 0.085, 0, 90).Value, got.CurrentValue.InexactFloat64(), 1e-6)

	rolled, err := h.ledger.GetInvestment(ctx, rolling.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusActive, rolled.Status)
	assert.Equal(t, rolling.MaturityDate.AddDate(0, 0, 90), rolled.MaturityDate)

	for i := 90; i < 365; i++ {
		h.clock.Advance(day)
		require.NoError(t, h.ledger.Tick(ctx))
	}
	got, err = h.ledger.GetInvestment(ctx, plain.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10_850, got.CurrentValue.InexactFloat64(), 1e-6)

	pool := h.pool(t, p.ID)
	assert.InDelta(t, 2*10_850, pool.LockedAmount.InexactFloat64(), 1e-6)
	assert.True(t, pool.CheckBalances())

	flows, err := h.ledger.GetCashFlows(ctx, p.ID, 1000)
	require.NoError(t, err)
	interest := decimal.Zero
	for _, cf := range flows {
		if cf.Type == domain.CashFlowInterest {
			interest = interest.Add(cf.Amount)
			assert.Empty(t, cf.RelatedUserID)
		}
	}
	assert.InDelta(t, 2*850, interest.InexactFloat64(), 1e-6)
	assert.True(t, interest.Equal(pool.TotalAmount.Sub(dec(1_000_000))))
}

func TestTickRacesWithPositionChanges(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Store = nil })
	p := usdPool()
	p.MaxInvestment = decimal.Zero
	p.LockPeriodDays = 7
	h.addPool(t, p)
	ctx := context.Background()

	var seeded []string
	for i := 0; i < 8; i++ {
		inv, err := h.ledger.CreateInvestment(ctx, "seed", p.ID, dec(20_000), domain.InvestmentOptions{})
		require.NoError(t, err)
		seeded = append(seeded, inv.ID)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			h.clock.Advance(day)
			assert.NoError(t, h.ledger.Tick(ctx))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			_, err := h.ledger.CreateInvestment(ctx, "buyer", p.ID, dec(1500.25), domain.InvestmentOptions{AutoReinvest: i%2 == 0})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			id := seeded[i%len(seeded)]
			req, err := h.ledger.RequestWithdrawal(ctx, id, dec(100.1), i%3 == 0)
			if err != nil {
				continue
			}
			_, err = h.ledger.ProcessWithdrawal(ctx, req.ID, i%5 != 0, "")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	pool := h.pool(t, p.ID)
	assert.True(t, pool.CheckBalances(), "total %s available %s locked %s",
		pool.TotalAmount, pool.AvailableAmount, pool.LockedAmount)
	assert.Empty(t, h.events.ofType(domain.EventInvariantViolation))

	// Locked funds equal the open positions.
	locked := decimal.Zero
	for _, inv := range h.ledger.PortfolioOverview(ctx, "seed").Investments {
		if !inv.Status.Terminal() {
			locked = locked.Add(inv.CurrentValue)
		}
	}
	for _, inv := range h.ledger.PortfolioOverview(ctx, "buyer").Investments {
		if !inv.Status.Terminal() {
			locked = locked.Add(inv.CurrentValue)
		}
	}
	assert.True(t, locked.Equal(pool.LockedAmount), "positions %s, pool locked %s", locked, pool.LockedAmount)
}

func TestTickSkipsInactivePools(t *testing.T) {
	h := newHarness(t)
	p := usdPool()
	p.Status = domain.PoolStatusPaused
	h.addPool(t, p)

	h.clock.Advance(day)
	require.NoError(t, h.ledger.Tick(context.Background()))
	v, err := h.ledger.GetPool(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, v.HistoricalPerformance)
}

func TestTickReportsSourceFailures(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Generator = simulator.New(brokenFeed{}, 0)
	})
	h.addPool(t, usdPool())

	err := h.ledger.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")
}

func TestTickWithoutGenerator(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Generator = nil })
	assert.Error(t, h.ledger.Tick(context.Background()))
}
