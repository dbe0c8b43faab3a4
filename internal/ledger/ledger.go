// Package ledger owns pools, investor positions, withdrawal requests and the
// cash-flow journal. Every mutation of a pool and its positions happens under
// that pool's write lock and is persisted before it becomes visible.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/metrics"
	"github.com/alanyoungcy/poolledger/internal/simulator"
)

const (
	// DefaultAssessmentWindow is the number of risk assessments kept per pool.
	DefaultAssessmentWindow = 30
	// DefaultEarlyPenaltyRate is the annualised early-withdrawal penalty.
	DefaultEarlyPenaltyRate = 0.01

	defaultLockTTL   = 5 * time.Second
	lockRetryBackoff = 25 * time.Millisecond
)

// Clock returns the current time. Tests inject a fixed or stepped clock.
type Clock func() time.Time

// Options configures a Ledger. Only Generator is needed for Tick; every other
// collaborator is optional.
type Options struct {
	Clock     Clock
	Store     domain.LedgerStore
	Publisher domain.EventPublisher
	Generator *simulator.Generator
	// Locks, when set, serialises writers to the same pool across replicas.
	Locks   domain.LockManager
	LockTTL time.Duration
	Metrics *metrics.Collector
	Logger  *slog.Logger

	HistoryWindow    int
	AssessmentWindow int
	// BootstrapDays of simulated history are generated for pools added
	// without one.
	BootstrapDays int
	// EarlyPenaltyRate is the annualised early-withdrawal charge. Nil means
	// DefaultEarlyPenaltyRate; zero disables the charge.
	EarlyPenaltyRate *float64
}

type poolState struct {
	id          string
	mu          sync.RWMutex
	pool        domain.Pool
	history     *history
	journal     journal
	investments map[string]*domain.Investment
	assessments []domain.RiskAssessment
}

// Ledger is the in-memory system of record for pools and positions.
type Ledger struct {
	// mu guards the maps below. It is never held while waiting for a pool lock.
	mu          sync.RWMutex
	pools       map[string]*poolState
	invPool     map[string]string
	userInvs    map[string][]string
	withdrawals map[string]string

	clock            Clock
	store            domain.LedgerStore
	pub              domain.EventPublisher
	gen              *simulator.Generator
	locks            domain.LockManager
	lockTTL          time.Duration
	metrics          *metrics.Collector
	logger           *slog.Logger
	historyWindow    int
	assessmentWindow int
	bootstrapDays    int
	penaltyRate      float64
}

// New creates an empty Ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		pools:            make(map[string]*poolState),
		invPool:          make(map[string]string),
		userInvs:         make(map[string][]string),
		withdrawals:      make(map[string]string),
		clock:            opts.Clock,
		store:            opts.Store,
		pub:              opts.Publisher,
		gen:              opts.Generator,
		locks:            opts.Locks,
		lockTTL:          opts.LockTTL,
		metrics:          opts.Metrics,
		logger:           opts.Logger,
		historyWindow:    opts.HistoryWindow,
		assessmentWindow: opts.AssessmentWindow,
		bootstrapDays:    opts.BootstrapDays,
		penaltyRate:      DefaultEarlyPenaltyRate,
	}
	if opts.EarlyPenaltyRate != nil {
		l.penaltyRate = *opts.EarlyPenaltyRate
	}
	if l.clock == nil {
		l.clock = func() time.Time { return time.Now().UTC() }
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With(slog.String("component", "ledger"))
	if l.lockTTL <= 0 {
		l.lockTTL = defaultLockTTL
	}
	if l.historyWindow <= 0 {
		l.historyWindow = DefaultHistoryWindow
	}
	if l.assessmentWindow <= 0 {
		l.assessmentWindow = DefaultAssessmentWindow
	}
	return l
}

// Restore rebuilds memory from the store. It must run before the ledger
// serves requests.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load snapshot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ps := range snap.Pools {
		if _, exists := l.pools[ps.Pool.ID]; exists {
			continue
		}
		st := l.newPoolState(ps.Pool)
		for _, rec := range ps.Performance {
			st.history.push(rec)
		}
		st.journal.append(ps.CashFlows...)
		st.assessments = l.keepRecent(ps.Assessments)
		l.pools[ps.Pool.ID] = st
		l.recordBalances(ps.Pool)
	}

	var restored int
	for i := range snap.Investments {
		inv := snap.Investments[i].Clone()
		st, ok := l.pools[inv.PoolID]
		if !ok {
			l.logger.WarnContext(ctx, "ledger: investment references unknown pool",
				slog.String("investment_id", inv.ID),
				slog.String("pool_id", inv.PoolID),
			)
			continue
		}
		st.investments[inv.ID] = &inv
		l.indexInvestmentLocked(inv)
		for _, req := range inv.WithdrawalRequests {
			l.withdrawals[req.ID] = inv.ID
		}
		restored++
	}

	l.logger.InfoContext(ctx, "ledger: state restored",
		slog.Int("pools", len(snap.Pools)),
		slog.Int("investments", restored),
	)
	return nil
}

func (l *Ledger) newPoolState(pool domain.Pool) *poolState {
	return &poolState{
		id:          pool.ID,
		pool:        pool,
		history:     newHistory(l.historyWindow),
		investments: make(map[string]*domain.Investment),
	}
}

func (l *Ledger) now() time.Time { return l.clock() }

func (l *Ledger) poolState(poolID string) (*poolState, error) {
	l.mu.RLock()
	ps, ok := l.pools[poolID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: pool %s: %w", poolID, domain.ErrNotFound)
	}
	return ps, nil
}

func (l *Ledger) poolOfInvestment(investmentID string) (*poolState, error) {
	l.mu.RLock()
	poolID, ok := l.invPool[investmentID]
	var ps *poolState
	if ok {
		ps = l.pools[poolID]
	}
	l.mu.RUnlock()
	if ps == nil {
		return nil, fmt.Errorf("ledger: investment %s: %w", investmentID, domain.ErrNotFound)
	}
	return ps, nil
}

func (l *Ledger) indexInvestmentLocked(inv domain.Investment) {
	l.invPool[inv.ID] = inv.PoolID
	l.userInvs[inv.UserID] = append(l.userInvs[inv.UserID], inv.ID)
}

// lockPool takes the pool's write lock, preceded by the cross-replica lock
// when one is configured. Acquisition of the distributed lock is retried until
// ctx is done.
func (l *Ledger) lockPool(ctx context.Context, ps *poolState) (func(), error) {
	var release func()
	if l.locks != nil {
		key := "ledger:pool:" + ps.id
		for {
			unlock, err := l.locks.Acquire(ctx, key, l.lockTTL)
			if err == nil {
				release = unlock
				break
			}
			if !errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("ledger: acquire %s: %w", key, err)
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("ledger: acquire %s: %w", key, ctx.Err())
			case <-time.After(lockRetryBackoff):
			}
		}
	}
	ps.mu.Lock()
	return func() {
		ps.mu.Unlock()
		if release != nil {
			release()
		}
	}, nil
}

// commit validates the candidate pool, persists m and installs the candidate.
// The caller installs the remaining parts of the mutation after a nil return.
// A candidate that breaks the balance invariant is never persisted. When the
// store reports that another writer moved the pool, the pool is reloaded and
// the error wraps domain.ErrStale so the caller can retry.
func (l *Ledger) commit(ctx context.Context, ps *poolState, candidate domain.Pool, m domain.Mutation) error {
	if !candidate.CheckBalances() {
		l.alertInvariant(ctx, candidate)
		return fmt.Errorf("ledger: pool %s balances total=%s available=%s locked=%s: %w",
			candidate.ID, candidate.TotalAmount, candidate.AvailableAmount, candidate.LockedAmount, domain.ErrInternal)
	}
	if l.store != nil {
		expected := ps.pool.Balances()
		m.Expected = &expected
		if err := l.store.Commit(ctx, m); err != nil {
			if errors.Is(err, domain.ErrStale) {
				l.resync(ctx, ps)
			}
			return fmt.Errorf("ledger: persist %s: %w", candidate.ID, err)
		}
	}
	ps.pool = candidate
	l.recordBalances(candidate)
	for _, cf := range m.CashFlows {
		l.metrics.RecordCashFlow(cf.PoolID, string(cf.Type))
	}
	return nil
}

// resync replaces the pool's in-memory state with the persisted one. The
// caller holds the pool's write lock.
func (l *Ledger) resync(ctx context.Context, ps *poolState) {
	snap, invs, err := l.store.LoadPool(ctx, ps.id)
	if err != nil {
		l.logger.ErrorContext(ctx, "ledger: reload stale pool failed",
			slog.String("pool_id", ps.id),
			slog.String("error", err.Error()),
		)
		return
	}

	ps.pool = snap.Pool
	ps.history = newHistory(l.historyWindow)
	for _, rec := range snap.Performance {
		ps.history.push(rec)
	}
	ps.journal = journal{}
	ps.journal.append(snap.CashFlows...)
	if len(snap.Assessments) > 0 {
		ps.assessments = l.keepRecent(snap.Assessments)
	}
	ps.investments = make(map[string]*domain.Investment, len(invs))

	l.mu.Lock()
	for i := range invs {
		inv := invs[i].Clone()
		ps.investments[inv.ID] = &inv
		if _, known := l.invPool[inv.ID]; !known {
			l.indexInvestmentLocked(inv)
		}
		for _, req := range inv.WithdrawalRequests {
			l.withdrawals[req.ID] = inv.ID
		}
	}
	l.mu.Unlock()

	l.recordBalances(snap.Pool)
	l.logger.WarnContext(ctx, "ledger: pool changed by another writer, reloaded",
		slog.String("pool_id", ps.id),
		slog.Int("investments", len(invs)),
	)
}

func (l *Ledger) keepRecent(as []domain.RiskAssessment) []domain.RiskAssessment {
	if over := len(as) - l.assessmentWindow; over > 0 {
		as = as[over:]
	}
	return append([]domain.RiskAssessment(nil), as...)
}

func (l *Ledger) recordBalances(p domain.Pool) {
	l.metrics.SetPoolBalances(p.ID, p.Currency,
		p.TotalAmount.InexactFloat64(), p.AvailableAmount.InexactFloat64(), p.LockedAmount.InexactFloat64())
}

func (l *Ledger) alertInvariant(ctx context.Context, p domain.Pool) {
	l.logger.ErrorContext(ctx, "ledger: balance invariant violated, mutation refused",
		slog.String("pool_id", p.ID),
		slog.String("total_amount", p.TotalAmount.String()),
		slog.String("available_amount", p.AvailableAmount.String()),
		slog.String("locked_amount", p.LockedAmount.String()),
	)
	l.metrics.RecordInvariantViolation(p.ID)
	l.publish(domain.Event{
		Type:   domain.EventInvariantViolation,
		PoolID: p.ID,
		Detail: map[string]any{
			"total_amount":     p.TotalAmount.String(),
			"available_amount": p.AvailableAmount.String(),
			"locked_amount":    p.LockedAmount.String(),
		},
	})
}

func (l *Ledger) publish(evt domain.Event) {
	if l.pub == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = l.now()
	}
	l.pub.Publish(evt)
}

func (l *Ledger) observe(op string, start time.Time, err *error) {
	l.metrics.RecordOperation(op, *err, time.Since(start))
}

func balancesOf(p domain.Pool) *domain.PoolBalances {
	b := p.Balances()
	return &b
}
