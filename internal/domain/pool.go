package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolStatus is the lifecycle state of a capital pool.
type PoolStatus string

const (
	PoolStatusActive PoolStatus = "active"
	PoolStatusPaused PoolStatus = "paused"
	PoolStatusClosed PoolStatus = "closed"
)

// RiskLevel is the advertised risk tier of a pool.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// StrategyType tags how a pool deploys its capital. Informational only.
type StrategyType string

const (
	StrategyLending      StrategyType = "lending"
	StrategyArbitrage    StrategyType = "arbitrage"
	StrategyYieldFarming StrategyType = "yield_farming"
	StrategyStaking      StrategyType = "staking"
)

// Pool is a shared capital reserve investors buy into.
type Pool struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Currency        string          `json:"currency"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	LockedAmount    decimal.Decimal `json:"locked_amount"`
	MinInvestment   decimal.Decimal `json:"min_investment"`
	// MaxInvestment of zero means no upper bound.
	MaxInvestment  decimal.Decimal `json:"max_investment"`
	APY            float64         `json:"apy"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	LockPeriodDays int             `json:"lock_period_days"`
	ManagementFee  float64         `json:"management_fee"`
	PerformanceFee float64         `json:"performance_fee"`
	Status         PoolStatus      `json:"status"`
	StrategyType   StrategyType    `json:"strategy_type"`
	Description    string          `json:"description,omitempty"`
	// InceptionValue is the simulated value the cumulative return is measured
	// against. It survives eviction of the oldest performance records.
	InceptionValue float64   `json:"inception_value"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CheckBalances reports whether the pool amounts are non-negative and add up
// exactly.
func (p Pool) CheckBalances() bool {
	if p.AvailableAmount.IsNegative() || p.LockedAmount.IsNegative() {
		return false
	}
	return p.AvailableAmount.Add(p.LockedAmount).Equal(p.TotalAmount)
}

// Balances returns the pool's amount triple.
func (p Pool) Balances() PoolBalances {
	return PoolBalances{
		PoolID:          p.ID,
		TotalAmount:     p.TotalAmount,
		AvailableAmount: p.AvailableAmount,
		LockedAmount:    p.LockedAmount,
		UpdatedAt:       p.UpdatedAt,
	}
}

// PerformanceRecord is one simulated day of pool performance.
type PerformanceRecord struct {
	Date             time.Time `json:"date"`
	TotalValue       float64   `json:"total_value"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	Volatility       float64   `json:"volatility"`
}

// PoolView is a pool together with a copy of its retained performance history.
type PoolView struct {
	Pool
	HistoricalPerformance []PerformanceRecord `json:"historical_performance"`
}

// PerformanceMetrics summarises the performance history of a pool.
type PerformanceMetrics struct {
	SharpeRatio float64 `json:"sharpe_ratio"`
	Volatility  float64 `json:"volatility"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TotalReturn float64 `json:"total_return"`
}

// PoolStatistics aggregates investor and performance figures for one pool.
type PoolStatistics struct {
	PoolID             string             `json:"pool_id"`
	TotalInvestors     int                `json:"total_investors"`
	AverageInvestment  decimal.Decimal    `json:"average_investment"`
	TotalReturns       decimal.Decimal    `json:"total_returns"`
	UtilizationRate    float64            `json:"utilization_rate"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
}
