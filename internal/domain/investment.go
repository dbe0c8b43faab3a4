package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentStatus tracks the lifecycle of an investor position.
type InvestmentStatus string

const (
	InvestmentStatusActive           InvestmentStatus = "active"
	InvestmentStatusMatured          InvestmentStatus = "matured"
	InvestmentStatusWithdrawn        InvestmentStatus = "withdrawn"
	InvestmentStatusPenaltyWithdrawn InvestmentStatus = "penalty_withdrawn"
)

// Terminal reports whether no further mutation may be applied.
func (s InvestmentStatus) Terminal() bool {
	return s == InvestmentStatusWithdrawn || s == InvestmentStatusPenaltyWithdrawn
}

// InvestmentOptions are the optional flags accepted by CreateInvestment.
type InvestmentOptions struct {
	CompoundingEnabled bool `json:"compounding_enabled"`
	AutoReinvest       bool `json:"auto_reinvest"`
	// TxHash optionally links the deposit to a settlement transaction.
	TxHash string `json:"tx_hash,omitempty"`
}

// Investment is one investor's position inside a pool.
type Investment struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	PoolID string `json:"pool_id"`
	// InitialPrincipal is the amount deposited. Principal is the remaining
	// cost basis after partial withdrawals.
	InitialPrincipal   decimal.Decimal     `json:"initial_principal"`
	Principal          decimal.Decimal     `json:"principal"`
	CurrentValue       decimal.Decimal     `json:"current_value"`
	EarnedInterest     decimal.Decimal     `json:"earned_interest"`
	InvestmentDate     time.Time           `json:"investment_date"`
	MaturityDate       time.Time           `json:"maturity_date"`
	Status             InvestmentStatus    `json:"status"`
	CompoundingEnabled bool                `json:"compounding_enabled"`
	AutoReinvest       bool                `json:"auto_reinvest"`
	WithdrawalRequests []WithdrawalRequest `json:"withdrawal_requests"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot alias ledger-owned slices.
func (inv Investment) Clone() Investment {
	out := inv
	if inv.WithdrawalRequests != nil {
		out.WithdrawalRequests = make([]WithdrawalRequest, len(inv.WithdrawalRequests))
		for i, r := range inv.WithdrawalRequests {
			out.WithdrawalRequests[i] = r.Clone()
		}
	}
	return out
}

// ReturnsSummary is the result of a returns refresh.
type ReturnsSummary struct {
	InvestmentID     string          `json:"investment_id"`
	Principal        decimal.Decimal `json:"principal"`
	CurrentValue     decimal.Decimal `json:"current_value"`
	TotalReturn      decimal.Decimal `json:"total_return"`
	DailyReturn      decimal.Decimal `json:"daily_return"`
	AnnualizedReturn float64         `json:"annualized_return"`
	DaysElapsed      int             `json:"days_elapsed"`
}

// Portfolio totals a user's positions across every pool.
type Portfolio struct {
	UserID            string          `json:"user_id"`
	TotalPrincipal    decimal.Decimal `json:"total_principal"`
	TotalValue        decimal.Decimal `json:"total_value"`
	TotalEarned       decimal.Decimal `json:"total_earned"`
	ActiveInvestments int             `json:"active_investments"`
	Investments       []Investment    `json:"investments"`
}
