package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/risk"
)

func TestPoolStatistics(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BootstrapDays = 60 })
	h.addPool(t, usdPool())
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "alice"} {
		_, err := h.ledger.CreateInvestment(ctx, u, "POOL_USD_001", dec(20_000), domain.InvestmentOptions{})
		require.NoError(t, err)
	}

	stats, err := h.ledger.GetPoolStatistics(ctx, "POOL_USD_001")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalInvestors)
	assertAmount(t, 20_000, stats.AverageInvestment)
	assert.InDelta(t, 0.06, stats.UtilizationRate, 1e-12)

	v, _ := h.ledger.GetPool(ctx, "POOL_USD_001")
	last := v.HistoricalPerformance[len(v.HistoricalPerformance)-1]
	assert.Equal(t, last.CumulativeReturn, stats.PerformanceMetrics.TotalReturn)
	// Constant returns: no meaningful dispersion.
	assert.Less(t, stats.PerformanceMetrics.Volatility, 1e-9)
	assert.Zero(t, stats.PerformanceMetrics.MaxDrawdown)

	_, err = h.ledger.GetPoolStatistics(ctx, "POOL_NONE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPoolStatisticsEmptyPool(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())

	stats, err := h.ledger.GetPoolStatistics(context.Background(), "POOL_USD_001")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalInvestors)
	assert.True(t, stats.AverageInvestment.IsZero())
	assert.Zero(t, stats.PerformanceMetrics.Volatility)
}

func TestPerformRiskAssessment(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BootstrapDays = 90 })
	h.addPool(t, usdPool())
	ctx := context.Background()

	a, err := h.ledger.PerformRiskAssessment(ctx, "POOL_USD_001")
	require.NoError(t, err)
	assert.Equal(t, "POOL_USD_001", a.PoolID)
	assert.Equal(t, h.clock.Now(), a.Date)
	assert.Equal(t, 5, a.RiskScore)
	assert.Equal(t, 1.0, a.Beta)
	assert.Equal(t, risk.StressTests(), a.StressTestResults)
	assert.NotEmpty(t, a.Recommendations)
	assert.Equal(t, 1, h.store.commitCount())

	_, err = h.ledger.PerformRiskAssessment(ctx, "POOL_NONE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRiskAssessmentsAreBounded(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BootstrapDays = 10 })
	h.addPool(t, usdPool())
	ctx := context.Background()

	for i := 0; i < 35; i++ {
		h.clock.Advance(time.Minute)
		_, err := h.ledger.PerformRiskAssessment(ctx, "POOL_USD_001")
		require.NoError(t, err)
	}

	all, err := h.ledger.RiskAssessments(ctx, "POOL_USD_001", 0)
	require.NoError(t, err)
	require.Len(t, all, DefaultAssessmentWindow)
	assert.Equal(t, h.clock.Now(), all[0].Date)
	assert.True(t, all[0].Date.After(all[1].Date))

	top, err := h.ledger.RiskAssessments(ctx, "POOL_USD_001", 3)
	require.NoError(t, err)
	assert.Len(t, top, 3)
}

func TestConcurrentRiskAssessmentsKeepDateOrder(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BootstrapDays = 10 })
	h.addPool(t, usdPool())
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.clock.Advance(time.Second)
				_, err := h.ledger.PerformRiskAssessment(ctx, "POOL_USD_001")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	all, err := h.ledger.RiskAssessments(ctx, "POOL_USD_001", 0)
	require.NoError(t, err)
	require.Len(t, all, DefaultAssessmentWindow)
	assert.Equal(t, h.clock.Now(), all[0].Date)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Date.After(all[i-1].Date), "assessment %d out of order", i)
	}

	// Persisted in the same order they were taken.
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	var prev time.Time
	for _, m := range h.store.commits {
		if m.RiskAssessment == nil {
			continue
		}
		assert.False(t, m.RiskAssessment.Date.Before(prev))
		prev = m.RiskAssessment.Date
	}
}

func TestCashFlowsBetween(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	cny := usdPool()
	cny.ID, cny.Currency = "POOL_CNY_001", "CNY"
	h.addPool(t, cny)
	ctx := context.Background()
	start := h.clock.Now()

	_, err := h.ledger.CreateInvestment(ctx, "u", "POOL_USD_001", dec(1000), domain.InvestmentOptions{})
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.ledger.CreateInvestment(ctx, "u", "POOL_CNY_001", dec(2000), domain.InvestmentOptions{})
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.ledger.CreateInvestment(ctx, "u", "POOL_USD_001", dec(3000), domain.InvestmentOptions{})
	require.NoError(t, err)

	got, err := h.ledger.CashFlowsBetween(ctx, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assertAmount(t, 1000, got[0].Amount)
	assert.Equal(t, "CNY", got[1].Currency)

	recent, err := h.ledger.GetCashFlows(ctx, "POOL_USD_001", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assertAmount(t, 3000, recent[0].Amount)

	_, err = h.ledger.GetCashFlows(ctx, "POOL_NONE", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
