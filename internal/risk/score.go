package risk

import (
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

const (
	baseScore = 5
	minScore  = 1
	maxScore  = 10
)

// Score maps volatility and max drawdown to an integer risk score in [1,10].
func Score(volatility, maxDrawdown float64) int {
	score := baseScore
	switch {
	case volatility > 0.30:
		score += 2
	case volatility > 0.20:
		score++
	}
	switch {
	case maxDrawdown > 0.20:
		score += 2
	case maxDrawdown > 0.10:
		score++
	}
	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// Recommendations builds the advice list for an assessment. The output depends
// only on its arguments.
func Recommendations(score int, volatility, maxDrawdown float64) []string {
	var out []string
	switch {
	case score >= 8:
		out = append(out,
			"High risk: invest only funds you can afford to lose entirely",
			"Consider diversifying into lower-risk pools",
		)
	case score >= 6:
		out = append(out,
			"Medium risk: keep this pool to a controlled share of your portfolio",
			"Monitor the pool's performance regularly",
		)
	default:
		out = append(out, "Low risk: suitable for conservative investors")
	}
	if volatility > 0.25 {
		out = append(out, "Volatility is elevated; watch market conditions closely")
	}
	if maxDrawdown > 0.15 {
		out = append(out, "Historical drawdown is large; expect significant interim losses")
	}
	return out
}

// Assess derives a full assessment from a pool's daily returns and cumulative
// return curve.
func Assess(poolID string, returns, cumulative []float64, at time.Time) domain.RiskAssessment {
	vol := Volatility(returns)
	dd := MaxDrawdown(cumulative)
	score := Score(vol, dd)

	return domain.RiskAssessment{
		PoolID:            poolID,
		Date:              at,
		Volatility:        vol,
		MaxDrawdown:       dd,
		Beta:              1.0,
		VaR95:             VaR95(returns),
		SharpeRatio:       Sharpe(Mean(returns), vol),
		StressTestResults: StressTests(),
		RiskScore:         score,
		Recommendations:   Recommendations(score, vol, dd),
	}
}

// Performance summarises the series the way pool statistics report it.
func Performance(returns, cumulative []float64) domain.PerformanceMetrics {
	vol := Volatility(returns)
	var total float64
	if n := len(cumulative); n > 0 {
		total = cumulative[n-1]
	}
	return domain.PerformanceMetrics{
		SharpeRatio: Sharpe(Mean(returns), vol),
		Volatility:  vol,
		MaxDrawdown: MaxDrawdown(cumulative),
		TotalReturn: total,
	}
}
