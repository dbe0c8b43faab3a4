// Package risk computes statistical risk metrics from a pool's daily
// performance series. Every function is pure and safe for concurrent use.
package risk

import (
	"math"
	"sort"
)

// TradingDaysPerYear annualises daily statistics. Pools accrue every calendar day.
const TradingDaysPerYear = 365

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Volatility returns the annualised standard deviation of daily returns using
// the population variance (divide by N).
func Volatility(returns []float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	mean := Mean(returns)
	var sumSqDiff float64
	for _, r := range returns {
		d := r - mean
		sumSqDiff += d * d
	}
	variance := sumSqDiff / float64(n)
	return math.Sqrt(variance * TradingDaysPerYear)
}

// MaxDrawdown returns the largest relative decline of the cumulative-return
// curve from its running peak. Points whose running peak is not positive have
// no meaningful relative drawdown and contribute zero.
func MaxDrawdown(cumulative []float64) float64 {
	if len(cumulative) == 0 {
		return 0
	}
	peak := math.Inf(-1)
	var maxDD float64
	for _, c := range cumulative {
		if c > peak {
			peak = c
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - c) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// VaR95 is the historical-simulation value-at-risk: the 5th-percentile daily
// return of the sample. It returns 0 for an empty sample.
func VaR95(returns []float64) float64 {
	return HistoricalVaR(returns, 0.95)
}

// HistoricalVaR returns sorted[floor(n*(1-confidence))].
func HistoricalVaR(returns []float64, confidence float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(n) * (1 - confidence)))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// Sharpe divides the average daily return by volatility. A zero (or
// non-finite) volatility yields 0 rather than an infinity.
func Sharpe(avgReturn, volatility float64) float64 {
	if volatility == 0 || math.IsNaN(volatility) || math.IsInf(volatility, 0) {
		return 0
	}
	return avgReturn / volatility
}

// Stress scenario names.
const (
	ScenarioMarketCrash         = "market_crash"
	ScenarioLiquidityCrisis     = "liquidity_crisis"
	ScenarioRateHike            = "rate_hike"
	ScenarioCurrencyDevaluation = "currency_devaluation"
)

// StressTests returns the fixed table of scenario impacts. A fresh map is
// returned on every call.
func StressTests() map[string]float64 {
	return map[string]float64{
		ScenarioMarketCrash:         -0.30,
		ScenarioLiquidityCrisis:     -0.15,
		ScenarioRateHike:            -0.08,
		ScenarioCurrencyDevaluation: -0.12,
	}
}
