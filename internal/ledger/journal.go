package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// DefaultCashFlowLimit applies when GetCashFlows is called without a limit.
const DefaultCashFlowLimit = 100

// journal is a pool's append-only cash-flow log in commit order.
type journal struct {
	entries []domain.CashFlow
}

func (j *journal) append(flows ...domain.CashFlow) {
	j.entries = append(j.entries, flows...)
}

// recent returns up to limit entries, newest first.
func (j *journal) recent(limit int) []domain.CashFlow {
	n := len(j.entries)
	if limit > n {
		limit = n
	}
	out := make([]domain.CashFlow, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.entries[i])
	}
	return out
}

// between returns entries with since <= Timestamp < until, oldest first.
func (j *journal) between(since, until time.Time) []domain.CashFlow {
	var out []domain.CashFlow
	for _, cf := range j.entries {
		if cf.Timestamp.Before(since) || !cf.Timestamp.Before(until) {
			continue
		}
		out = append(out, cf)
	}
	return out
}

func newCashFlow(pool domain.Pool, typ domain.CashFlowType, amount decimal.Decimal, desc, userID, txHash string, at time.Time) (domain.CashFlow, error) {
	hash, err := normalizeTxHash(txHash)
	if err != nil {
		return domain.CashFlow{}, err
	}
	return domain.CashFlow{
		ID:            "cf_" + uuid.NewString(),
		PoolID:        pool.ID,
		Type:          typ,
		Amount:        amount,
		Currency:      pool.Currency,
		Description:   desc,
		Timestamp:     at,
		TxHash:        hash,
		RelatedUserID: userID,
	}, nil
}

// normalizeTxHash accepts a 32-byte hex hash with or without the 0x prefix
// and returns it in canonical lower-case 0x form. Empty input stays empty.
func normalizeTxHash(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil || len(b) != common.HashLength {
		return "", fmt.Errorf("ledger: tx hash %q is not a 32-byte hex hash: %w", s, domain.ErrConstraintViolation)
	}
	return common.BytesToHash(b).Hex(), nil
}

// GetCashFlows returns the pool's journal newest first. A non-positive limit
// means DefaultCashFlowLimit.
func (l *Ledger) GetCashFlows(ctx context.Context, poolID string, limit int) ([]domain.CashFlow, error) {
	ps, err := l.poolState(poolID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultCashFlowLimit
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.journal.recent(limit), nil
}

// CashFlowsBetween returns every pool's entries in [since, until) ordered by
// timestamp.
func (l *Ledger) CashFlowsBetween(ctx context.Context, since, until time.Time) ([]domain.CashFlow, error) {
	var out []domain.CashFlow
	for _, ps := range l.sortedPools() {
		ps.mu.RLock()
		out = append(out, ps.journal.between(since, until)...)
		ps.mu.RUnlock()
	}
	slices.SortStableFunc(out, func(a, b domain.CashFlow) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}
