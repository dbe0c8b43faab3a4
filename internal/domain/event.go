package domain

import "time"

// EventType names a ledger lifecycle event.
type EventType string

const (
	EventInvestmentCreated   EventType = "investment_created"
	EventWithdrawalRequested EventType = "withdrawal_requested"
	EventWithdrawalProcessed EventType = "withdrawal_processed"
	EventInvariantViolation  EventType = "invariant_violation"
)

// Event is published outward after a ledger mutation commits.
type Event struct {
	Type       EventType          `json:"type"`
	PoolID     string             `json:"pool_id"`
	UserID     string             `json:"user_id,omitempty"`
	Investment *Investment        `json:"investment,omitempty"`
	Withdrawal *WithdrawalRequest `json:"withdrawal,omitempty"`
	Detail     map[string]any     `json:"detail,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// EventPublisher accepts events without blocking the caller.
type EventPublisher interface {
	Publish(evt Event)
}
