package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashFlowType classifies a capital movement.
type CashFlowType string

const (
	CashFlowDeposit    CashFlowType = "deposit"
	CashFlowWithdrawal CashFlowType = "withdrawal"
	CashFlowInterest   CashFlowType = "interest"
	CashFlowFee        CashFlowType = "fee"
	CashFlowRebalance  CashFlowType = "rebalance"
)

// CashFlow is one immutable entry in a pool's journal.
type CashFlow struct {
	ID            string          `json:"id"`
	PoolID        string          `json:"pool_id"`
	Type          CashFlowType    `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	Timestamp     time.Time       `json:"timestamp"`
	TxHash        string          `json:"tx_hash,omitempty"`
	RelatedUserID string          `json:"related_user_id,omitempty"`
}
