// Package simulator produces daily performance records for pools. The return
// for each day comes from a Source so a real yield feed can replace the
// random walk without touching the ledger.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

const (
	// DefaultVolatility is the assumed daily volatility of simulated returns.
	DefaultVolatility = 0.02
	// DefaultInceptionValue is the notional starting value of a pool's curve.
	DefaultInceptionValue = 1_000_000
	daysPerYear           = 365
	day                   = 24 * time.Hour
)

// Source yields the return of a pool for one day.
type Source interface {
	DailyReturn(ctx context.Context, pool domain.Pool, date time.Time) (float64, error)
}

// DailyTargetReturn converts an annual yield into its compounded daily rate.
func DailyTargetReturn(apy float64) float64 {
	return math.Pow(1+apy, 1.0/daysPerYear) - 1
}

// RandomWalk scales the pool's daily target by a uniform factor in
// [1-v/2, 1+v/2]. It is safe for concurrent use.
type RandomWalk struct {
	mu         sync.Mutex
	rng        *rand.Rand
	volatility float64
}

// NewRandomWalk creates a seeded random walk. A zero volatility uses
// DefaultVolatility.
func NewRandomWalk(seed uint64, volatility float64) *RandomWalk {
	if volatility <= 0 {
		volatility = DefaultVolatility
	}
	return &RandomWalk{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		volatility: volatility,
	}
}

func (w *RandomWalk) DailyReturn(_ context.Context, pool domain.Pool, _ time.Time) (float64, error) {
	w.mu.Lock()
	u := w.rng.Float64()
	w.mu.Unlock()

	factor := 1 + (u-0.5)*w.volatility
	return DailyTargetReturn(pool.APY) * factor, nil
}

// Constant returns the pool's daily target with no noise.
type Constant struct{}

func (Constant) DailyReturn(_ context.Context, pool domain.Pool, _ time.Time) (float64, error) {
	return DailyTargetReturn(pool.APY), nil
}

// Generator turns daily returns into performance records.
type Generator struct {
	Source Source
	// Volatility is recorded on every record and feeds the per-record
	// Sharpe estimate.
	Volatility float64
}

// New returns a Generator over src.
func New(src Source, volatility float64) *Generator {
	if volatility <= 0 {
		volatility = DefaultVolatility
	}
	return &Generator{Source: src, Volatility: volatility}
}

// Next builds the record following prev. A nil prev starts from the pool's
// inception value.
func (g *Generator) Next(ctx context.Context, pool domain.Pool, prev *domain.PerformanceRecord, date time.Time) (domain.PerformanceRecord, error) {
	ret, err := g.Source.DailyReturn(ctx, pool, date)
	if err != nil {
		return domain.PerformanceRecord{}, fmt.Errorf("simulator: daily return for %s: %w", pool.ID, err)
	}

	inception := inceptionValue(pool)
	value := inception
	if prev != nil {
		value = prev.TotalValue
	}
	value *= 1 + ret
	cumulative := value/inception - 1

	return domain.PerformanceRecord{
		Date:             date,
		TotalValue:       value,
		DailyReturn:      ret,
		CumulativeReturn: cumulative,
		SharpeRatio:      cumulative / math.Sqrt(g.Volatility*daysPerYear),
		Volatility:       g.Volatility,
	}, nil
}

// History bootstraps days records ending on end, one per calendar day.
func (g *Generator) History(ctx context.Context, pool domain.Pool, days int, end time.Time) ([]domain.PerformanceRecord, error) {
	if days <= 0 {
		return nil, nil
	}
	out := make([]domain.PerformanceRecord, 0, days)
	var prev *domain.PerformanceRecord
	for i := days - 1; i >= 0; i-- {
		rec, err := g.Next(ctx, pool, prev, end.Add(-time.Duration(i)*day))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		prev = &out[len(out)-1]
	}
	return out, nil
}

func inceptionValue(pool domain.Pool) float64 {
	if pool.InceptionValue > 0 {
		return pool.InceptionValue
	}
	return DefaultInceptionValue
}
