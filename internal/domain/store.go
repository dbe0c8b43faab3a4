package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolBalances is the mutable amount triple of a pool.
type PoolBalances struct {
	PoolID          string
	TotalAmount     decimal.Decimal
	AvailableAmount decimal.Decimal
	LockedAmount    decimal.Decimal
	UpdatedAt       time.Time
}

// Matches reports whether both triples hold the same amounts.
func (b PoolBalances) Matches(o PoolBalances) bool {
	return b.TotalAmount.Equal(o.TotalAmount) &&
		b.AvailableAmount.Equal(o.AvailableAmount) &&
		b.LockedAmount.Equal(o.LockedAmount)
}

// Mutation is one atomic group of ledger changes. Fields left nil or empty
// are not touched.
type Mutation struct {
	PoolID string
	// Expected is the pool's balances as the writer last saw them. When set,
	// the store refuses the mutation with ErrStale unless the persisted row
	// still holds exactly these amounts.
	Expected       *PoolBalances
	Balances       *PoolBalances
	Investments    []Investment
	Withdrawal     *WithdrawalRequest
	CashFlows      []CashFlow
	Performance    []PerformanceRecord
	RiskAssessment *RiskAssessment
}

// PoolSnapshot is everything persisted for one pool.
type PoolSnapshot struct {
	Pool        Pool
	Performance []PerformanceRecord
	CashFlows   []CashFlow
	// Assessments are the most recent risk assessments, oldest first.
	Assessments []RiskAssessment
}

// Snapshot is the persisted ledger state used to rebuild memory at startup.
type Snapshot struct {
	Pools       []PoolSnapshot
	Investments []Investment
}

// LedgerStore persists ledger mutations. Commit must apply the whole mutation
// or nothing, holding the pool row lock for the duration of the transaction.
type LedgerStore interface {
	CreatePool(ctx context.Context, pool Pool, history []PerformanceRecord) error
	Commit(ctx context.Context, m Mutation) error
	Load(ctx context.Context) (Snapshot, error)
	// LoadPool reads one pool and every position in it.
	LoadPool(ctx context.Context, poolID string) (PoolSnapshot, []Investment, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
