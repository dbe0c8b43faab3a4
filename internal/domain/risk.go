package domain

import "time"

// RiskAssessment is a point-in-time risk evaluation of a pool.
type RiskAssessment struct {
	PoolID            string             `json:"pool_id"`
	Date              time.Time          `json:"date"`
	Volatility        float64            `json:"volatility"`
	MaxDrawdown       float64            `json:"max_drawdown"`
	Beta              float64            `json:"beta"`
	VaR95             float64            `json:"var_95"`
	SharpeRatio       float64            `json:"sharpe_ratio"`
	StressTestResults map[string]float64 `json:"stress_test_results"`
	RiskScore         int                `json:"risk_score"`
	Recommendations   []string           `json:"recommendations"`
}
