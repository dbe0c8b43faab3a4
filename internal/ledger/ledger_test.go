package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/simulator"
)

const day = 24 * time.Hour

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func assertAmount(t *testing.T, want float64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %v, got %s", want, got)
}

// memStore keeps the persisted pool rows and positions in memory. Several
// ledgers may share one to act as replicas.
type memStore struct {
	mu       sync.Mutex
	pools    map[string]domain.Pool
	invs     map[string]domain.Investment
	invOrder []string
	flows    map[string][]domain.CashFlow
	commits  []domain.Mutation
	snapshot domain.Snapshot
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		pools: make(map[string]domain.Pool),
		invs:  make(map[string]domain.Investment),
		flows: make(map[string][]domain.CashFlow),
	}
}

func (s *memStore) CreatePool(_ context.Context, pool domain.Pool, _ []domain.PerformanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.pools[pool.ID] = pool
	return nil
}

func (s *memStore) Commit(_ context.Context, m domain.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	row, known := s.pools[m.PoolID]
	if known && m.Expected != nil && !row.Balances().Matches(*m.Expected) {
		return domain.ErrStale
	}
	if b := m.Balances; b != nil && known {
		row.TotalAmount, row.AvailableAmount, row.LockedAmount = b.TotalAmount, b.AvailableAmount, b.LockedAmount
		row.UpdatedAt = b.UpdatedAt
		s.pools[m.PoolID] = row
	}
	for _, inv := range m.Investments {
		if _, ok := s.invs[inv.ID]; !ok {
			s.invOrder = append(s.invOrder, inv.ID)
		}
		s.invs[inv.ID] = inv.Clone()
	}
	s.flows[m.PoolID] = append(s.flows[m.PoolID], m.CashFlows...)
	s.commits = append(s.commits, m)
	return nil
}

func (s *memStore) Load(context.Context) (domain.Snapshot, error) {
	return s.snapshot, nil
}

func (s *memStore) LoadPool(_ context.Context, poolID string) (domain.PoolSnapshot, []domain.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pools[poolID]
	if !ok {
		return domain.PoolSnapshot{}, nil, domain.ErrNotFound
	}
	var invs []domain.Investment
	for _, id := range s.invOrder {
		if inv := s.invs[id]; inv.PoolID == poolID {
			invs = append(invs, inv.Clone())
		}
	}
	snap := domain.PoolSnapshot{Pool: row, CashFlows: append([]domain.CashFlow(nil), s.flows[poolID]...)}
	return snap, invs, nil
}

func (s *memStore) balances(poolID string) domain.PoolBalances {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pools[poolID].Balances()
}

func (s *memStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commits)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ledger *Ledger
	clock  *fakeClock
	store  *memStore
	events *recorder
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), store: newMemStore(), events: &recorder{}}
	opts := Options{
		Clock:     h.clock.Now,
		Store:     h.store,
		Publisher: h.events,
		Generator: simulator.New(simulator.Constant{}, simulator.DefaultVolatility),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.ledger = New(opts)
	return h
}

func usdPool() domain.Pool {
	return domain.Pool{
		ID:              "POOL_USD_001",
		Name:            "USD stable",
		Currency:        "USD",
		TotalAmount:     dec(1_000_000),
		AvailableAmount: dec(1_000_000),
		MinInvestment:   dec(1000),
		MaxInvestment:   dec(500_000),
		APY:             0.085,
		RiskLevel:       domain.RiskLevelLow,
		LockPeriodDays:  90,
		ManagementFee:   0.02,
		StrategyType:    domain.StrategyLending,
	}
}

func (h *harness) addPool(t *testing.T, p domain.Pool) {
	t.Helper()
	require.NoError(t, h.ledger.AddPool(context.Background(), p, nil))
}

func (h *harness) pool(t *testing.T, id string) domain.Pool {
	t.Helper()
	v, err := h.ledger.GetPool(context.Background(), id)
	require.NoError(t, err)
	return v.Pool
}

func TestCreateInvestmentHappyPath(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	ctx := context.Background()

	inv, err := h.ledger.CreateInvestment(ctx, "user1", "POOL_USD_001", dec(10_000), domain.InvestmentOptions{CompoundingEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, domain.InvestmentStatusActive, inv.Status)
	assertAmount(t, 10_000, inv.Principal)
	assertAmount(t, 10_000, inv.CurrentValue)
	assert.Equal(t, h.clock.Now().AddDate(0, 0, 90), inv.MaturityDate)
	assert.True(t, inv.CompoundingEnabled)

	p := h.pool(t, "POOL_USD_001")
	assertAmount(t, 990_000, p.AvailableAmount)
	assertAmount(t, 10_000, p.LockedAmount)
	assert.True(t, p.CheckBalances())

	flows, err := h.ledger.GetCashFlows(ctx, "POOL_USD_001", 0)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, domain.CashFlowDeposit, flows[0].Type)
	assertAmount(t, 10_000, flows[0].Amount)
	assert.Equal(t, "user1", flows[0].RelatedUserID)

	assert.Len(t, h.events.ofType(domain.EventInvestmentCreated), 1)
	assert.Equal(t, 1, h.store.commitCount())
}

func TestCreateInvestmentRejections(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	paused := usdPool()
	paused.ID = "POOL_PAUSED"
	paused.Status = domain.PoolStatusPaused
	h.addPool(t, paused)
	small := usdPool()
	small.ID = "POOL_SMALL"
	small.TotalAmount, small.AvailableAmount = dec(5000), dec(5000)
	h.addPool(t, small)

	tests := []struct {
		name   string
		poolID string
		amount float64
		want   error
	}{
		{"unknown pool", "POOL_NONE", 10_000, domain.ErrNotFound},
		{"paused pool", "POOL_PAUSED", 10_000, domain.ErrInvalidState},
		{"below minimum", "POOL_USD_001", 999, domain.ErrConstraintViolation},
		{"above maximum", "POOL_USD_001", 500_001, domain.ErrConstraintViolation},
		{"non-positive", "POOL_USD_001", 0, domain.ErrConstraintViolation},
		{"exceeds available", "POOL_SMALL", 6000, domain.ErrConstraintViolation},
		{"paused wins over amount", "POOL_PAUSED", 1, domain.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ledger.CreateInvestment(context.Background(), "user1", tt.poolID, dec(tt.amount), domain.InvestmentOptions{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	p := h.pool(t, "POOL_USD_001")
	assertAmount(t, 1_000_000, p.AvailableAmount)
	assert.True(t, p.LockedAmount.IsZero())
	flows, err := h.ledger.GetCashFlows(context.Background(), "POOL_USD_001", 0)
	require.NoError(t, err)
	assert.Empty(t, flows)
	assert.Zero(t, h.store.commitCount())
	assert.Empty(t, h.events.ofType(domain.EventInvestmentCreated))
}

func TestCreateInvestmentStoreFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	h.store.failNext = errors.New("connection reset")

	_, err := h.ledger.CreateInvestment(context.Background(), "user1", "POOL_USD_001", dec(10_000), domain.InvestmentOptions{})
	require.Error(t, err)

	p := h.pool(t, "POOL_USD_001")
	assertAmount(t, 1_000_000, p.AvailableAmount)
	assert.Empty(t, h.ledger.GetUserInvestments(context.Background(), "user1"))
	assert.Empty(t, h.events.ofType(domain.EventInvestmentCreated))
}

func TestCreateInvestmentTxHash(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	ctx := context.Background()

	hash := "ABCDEF0000000000000000000000000000000000000000000000000000000001"
	_, err := h.ledger.CreateInvestment(ctx, "user1", "POOL_USD_001", dec(2000), domain.InvestmentOptions{TxHash: hash})
	require.NoError(t, err)
	flows, err := h.ledger.GetCashFlows(ctx, "POOL_USD_001", 1)
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000000000000000000000000000001", flows[0].TxHash)

	_, err = h.ledger.CreateInvestment(ctx, "user1", "POOL_USD_001", dec(2000), domain.InvestmentOptions{TxHash: "0x1234"})
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestConcurrentInvestmentsNeverOverdraw(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Store = nil })
	p := usdPool()
	p.TotalAmount, p.AvailableAmount = dec(50_000), dec(50_000)
	h.addPool(t, p)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.CreateInvestment(context.Background(), "user", "POOL_USD_001", dec(1000), domain.InvestmentOptions{})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrConstraintViolation)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	got := h.pool(t, "POOL_USD_001")
	assert.True(t, got.AvailableAmount.IsZero())
	assertAmount(t, 50_000, got.LockedAmount)
	assert.True(t, got.CheckBalances())
	assert.Len(t, h.ledger.GetUserInvestments(context.Background(), "user"), 50)
}

func TestGetUserInvestmentsOrderedByDate(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	cny := usdPool()
	cny.ID, cny.Currency = "POOL_CNY_001", "CNY"
	h.addPool(t, cny)
	ctx := context.Background()

	first, err := h.ledger.CreateInvestment(ctx, "user1", "POOL_CNY_001", dec(5000), domain.InvestmentOptions{})
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	second, err := h.ledger.CreateInvestment(ctx, "user1", "POOL_USD_001", dec(5000), domain.InvestmentOptions{})
	require.NoError(t, err)
	_, err = h.ledger.CreateInvestment(ctx, "user2", "POOL_USD_001", dec(5000), domain.InvestmentOptions{})
	require.NoError(t, err)

	got := h.ledger.GetUserInvestments(ctx, "user1")
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Empty(t, h.ledger.GetUserInvestments(ctx, "nobody"))

	overview := h.ledger.PortfolioOverview(ctx, "user1")
	assert.Equal(t, 2, overview.ActiveInvestments)
	assertAmount(t, 10_000, overview.TotalPrincipal)
}

func TestAddPoolValidation(t *testing.T) {
	h := newHarness(t)
	h.addPool(t, usdPool())
	ctx := context.Background()

	err := h.ledger.AddPool(ctx, usdPool(), nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.NoError(t, h.ledger.SeedPool(ctx, usdPool()))

	bad := usdPool()
	bad.ID = "POOL_BAD"
	bad.LockedAmount = dec(10)
	assert.ErrorIs(t, h.ledger.AddPool(ctx, bad, nil), domain.ErrConstraintViolation)

	_, err = h.ledger.GetPool(ctx, "POOL_BAD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPoolsActiveOnly(t *testing.T) {
	h := newHarness(t)
	b := usdPool()
	b.ID = "B"
	a := usdPool()
	a.ID = "A"
	closed := usdPool()
	closed.ID = "C"
	closed.Status = domain.PoolStatusClosed
	h.addPool(t, b)
	h.addPool(t, closed)
	h.addPool(t, a)

	pools := h.ledger.ListPools(context.Background())
	require.Len(t, pools, 2)
	assert.Equal(t, "A", pools[0].ID)
	assert.Equal(t, "B", pools[1].ID)
}

func TestAddPoolBootstrapsHistory(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BootstrapDays = 30 })
	h.addPool(t, usdPool())

	v, err := h.ledger.GetPool(context.Background(), "POOL_USD_001")
	require.NoError(t, err)
	require.Len(t, v.HistoricalPerformance, 30)
	assert.Equal(t, h.clock.Now(), v.HistoricalPerformance[29].Date)

	// Returned history is a copy.
	v.HistoricalPerformance[0].TotalValue = -1
	again, _ := h.ledger.GetPool(context.Background(), "POOL_USD_001")
	assert.NotEqual(t, -1.0, again.HistoricalPerformance[0].TotalValue)
}

func TestRestoreRebuildsIndices(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	pool := usdPool()
	pool.AvailableAmount, pool.LockedAmount = dec(995_000), dec(5000)
	h.store.snapshot = domain.Snapshot{
		Pools: []domain.PoolSnapshot{{Pool: pool}},
		Investments: []domain.Investment{{
			ID: "inv_1", UserID: "user1", PoolID: pool.ID,
			InitialPrincipal: dec(5000), Principal: dec(5000), CurrentValue: dec(5000),
			InvestmentDate: now, MaturityDate: now.AddDate(0, 0, 90),
			Status: domain.InvestmentStatusActive,
			WithdrawalRequests: []domain.WithdrawalRequest{{
				ID: "wdr_1", InvestmentID: "inv_1", RequestedAmount: dec(100), ActualAmount: dec(100),
				Status: domain.WithdrawalStatusPending, RequestDate: now,
			}},
		}},
	}
	require.NoError(t, h.ledger.Restore(context.Background()))

	inv, err := h.ledger.GetInvestment(context.Background(), "inv_1")
	require.NoError(t, err)
	assert.Equal(t, "user1", inv.UserID)

	req, err := h.ledger.ProcessWithdrawal(context.Background(), "wdr_1", false, "")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusRejected, req.Status)
}

func TestRestoreKeepsRecentAssessments(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AssessmentWindow = 2 })
	pool := usdPool()
	now := h.clock.Now()
	h.store.snapshot = domain.Snapshot{
		Pools: []domain.PoolSnapshot{{
			Pool: pool,
			Assessments: []domain.RiskAssessment{
				{PoolID: pool.ID, Date: now.AddDate(0, 0, -2), RiskScore: 4},
				{PoolID: pool.ID, Date: now.AddDate(0, 0, -1), RiskScore: 5},
				{PoolID: pool.ID, Date: now, RiskScore: 6},
			},
		}},
	}
	require.NoError(t, h.ledger.Restore(context.Background()))

	got, err := h.ledger.RiskAssessments(context.Background(), pool.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 6, got[0].RiskScore)
	assert.Equal(t, 5, got[1].RiskScore)
}

func TestLargePoolKeepsBalancesExact(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Store = nil })
	p := usdPool()
	p.TotalAmount, p.AvailableAmount = dec(1e11), dec(1e11)
	p.MaxInvestment = decimal.Zero
	h.addPool(t, p)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		amount := dec(1000.37).Add(decimal.New(int64(i), -2))
		_, err := h.ledger.CreateInvestment(ctx, "whale", p.ID, amount, domain.InvestmentOptions{})
		require.NoError(t, err, "investment %d", i)
	}

	got := h.pool(t, p.ID)
	assert.True(t, got.CheckBalances())
	// 200 * 1000.37 + (0 + ... + 1.99)
	assertAmount(t, 200_074+199, got.LockedAmount)
	assert.True(t, got.TotalAmount.Equal(dec(1e11)))
	assert.Empty(t, h.events.ofType(domain.EventInvariantViolation))
}

func TestStaleReplicaReloadsInsteadOfOverdrawing(t *testing.T) {
	shared := newMemStore()
	a := newHarness(t, func(o *Options) { o.Store = shared })
	b := newHarness(t, func(o *Options) { o.Store = shared })
	p := usdPool()
	p.MaxInvestment = decimal.Zero
	a.addPool(t, p)
	shared.snapshot = domain.Snapshot{Pools: []domain.PoolSnapshot{{Pool: a.pool(t, p.ID)}}}
	ctx := context.Background()
	require.NoError(t, b.ledger.Restore(ctx))

	first, err := a.ledger.CreateInvestment(ctx, "alice", p.ID, dec(600_000), domain.InvestmentOptions{})
	require.NoError(t, err)

	// b still believes the whole pool is available.
	_, err = b.ledger.CreateInvestment(ctx, "bob", p.ID, dec(600_000), domain.InvestmentOptions{})
	require.ErrorIs(t, err, domain.ErrStale)
	assertAmount(t, 400_000, shared.balances(p.ID).AvailableAmount)

	// The refused write reloaded b, which now sees alice's position.
	assertAmount(t, 400_000, b.pool(t, p.ID).AvailableAmount)
	seen, err := b.ledger.GetInvestment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", seen.UserID)

	_, err = b.ledger.CreateInvestment(ctx, "bob", p.ID, dec(600_000), domain.InvestmentOptions{})
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
	_, err = b.ledger.CreateInvestment(ctx, "bob", p.ID, dec(300_000), domain.InvestmentOptions{})
	require.NoError(t, err)

	stored := shared.balances(p.ID)
	assertAmount(t, 100_000, stored.AvailableAmount)
	assertAmount(t, 900_000, stored.LockedAmount)
}
