package simulator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

type failingSource struct{}

func (failingSource) DailyReturn(context.Context, domain.Pool, time.Time) (float64, error) {
	return 0, errors.New("feed down")
}

func TestDailyTargetReturnCompoundsToAPY(t *testing.T) {
	r := DailyTargetReturn(0.085)
	assert.InDelta(t, 1.085, math.Pow(1+r, 365), 1e-12)
}

func TestRandomWalkWithinBand(t *testing.T) {
	pool := domain.Pool{ID: "P", APY: 0.12}
	target := DailyTargetReturn(pool.APY)
	w := NewRandomWalk(42, 0.02)

	for i := 0; i < 1000; i++ {
		r, err := w.DailyReturn(context.Background(), pool, time.Time{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r, target*0.99)
		assert.LessOrEqual(t, r, target*1.01)
	}
}

func TestRandomWalkSeedIsDeterministic(t *testing.T) {
	pool := domain.Pool{APY: 0.18}
	a, b := NewRandomWalk(7, 0), NewRandomWalk(7, 0)
	for i := 0; i < 10; i++ {
		ra, _ := a.DailyReturn(context.Background(), pool, time.Time{})
		rb, _ := b.DailyReturn(context.Background(), pool, time.Time{})
		assert.Equal(t, ra, rb)
	}
}

func TestHistory(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := domain.Pool{ID: "P", APY: 0.085, InceptionValue: 1000}
	g := New(Constant{}, 0.02)

	recs, err := g.History(context.Background(), pool, 365, end)
	require.NoError(t, err)
	require.Len(t, recs, 365)

	assert.Equal(t, end, recs[364].Date)
	assert.Equal(t, end.Add(-364*24*time.Hour), recs[0].Date)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i].Date.After(recs[i-1].Date))
	}

	last := recs[364]
	assert.InDelta(t, 1085, last.TotalValue, 1e-6)
	assert.InDelta(t, 0.085, last.CumulativeReturn, 1e-9)
	assert.InDelta(t, last.CumulativeReturn/math.Sqrt(0.02*365), last.SharpeRatio, 1e-12)
	assert.Equal(t, 0.02, last.Volatility)
}

func TestNextDefaultsInception(t *testing.T) {
	g := New(Constant{}, 0)
	rec, err := g.Next(context.Background(), domain.Pool{APY: 0}, nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultInceptionValue), rec.TotalValue)
	assert.Equal(t, DefaultVolatility, rec.Volatility)
}

func TestSourceErrorPropagates(t *testing.T) {
	g := New(failingSource{}, 0.02)
	_, err := g.History(context.Background(), domain.Pool{ID: "P"}, 3, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed down")
}
