package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus tracks a withdrawal request through processing.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

// Reason tags attached when a request is created.
const (
	ReasonEarlyWithdrawal    = "early_withdrawal"
	ReasonMaturityWithdrawal = "maturity_withdrawal"
)

// WithdrawalRequest asks to take money out of an investment.
// ActualAmount + Penalty == RequestedAmount always holds.
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	InvestmentID    string           `json:"investment_id"`
	PoolID          string           `json:"pool_id"`
	UserID          string           `json:"user_id"`
	RequestedAmount decimal.Decimal  `json:"requested_amount"`
	ActualAmount    decimal.Decimal  `json:"actual_amount"`
	Penalty         decimal.Decimal  `json:"penalty"`
	Status          WithdrawalStatus `json:"status"`
	RequestDate     time.Time        `json:"request_date"`
	ProcessedDate   *time.Time       `json:"processed_date,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// Clone returns a copy that does not share the ProcessedDate pointer.
func (r WithdrawalRequest) Clone() WithdrawalRequest {
	out := r
	if r.ProcessedDate != nil {
		t := *r.ProcessedDate
		out.ProcessedDate = &t
	}
	return out
}
