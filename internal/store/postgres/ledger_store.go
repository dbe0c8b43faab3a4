package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

const (
	// historyRetention is the number of performance rows kept per pool.
	historyRetention = 365
	// assessmentRetention is the number of risk assessments loaded per pool.
	assessmentRetention = 30
	uniqueViolation     = "23505"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Each Commit is
// one transaction holding the pool row lock.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// CreatePool inserts a pool together with its bootstrap history. It returns
// domain.ErrAlreadyExists when the id is taken.
func (s *LedgerStore) CreatePool(ctx context.Context, p domain.Pool, history []domain.PerformanceRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO pools (
				id, name, currency, total_amount, available_amount, locked_amount,
				min_investment, max_investment, apy, risk_level, lock_period_days,
				management_fee, performance_fee, status, strategy_type, description,
				inception_value, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
				$7::numeric, $8::numeric, $9, $10, $11,
				$12, $13, $14, $15, $16,
				$17::numeric, $18, $19
			)`
		_, err := tx.Exec(ctx, query,
			p.ID, p.Name, p.Currency,
			amountArg(p.TotalAmount), amountArg(p.AvailableAmount), amountArg(p.LockedAmount),
			amountArg(p.MinInvestment), amountArg(p.MaxInvestment),
			p.APY, string(p.RiskLevel), p.LockPeriodDays,
			p.ManagementFee, p.PerformanceFee,
			string(p.Status), string(p.StrategyType), p.Description,
			toNumeric(p.InceptionValue), p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("postgres: create pool %s: %w", p.ID, domain.ErrAlreadyExists)
			}
			return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
		}
		if err := insertPerformance(ctx, tx, p.ID, history); err != nil {
			return err
		}
		return trimPerformance(ctx, tx, p.ID)
	})
}

// Commit applies m in a single transaction. The pool row is locked with
// SELECT ... FOR UPDATE first so concurrent replicas serialise per pool. When
// m.Expected is set and the locked row holds other amounts, nothing is written
// and domain.ErrStale is returned.
func (s *LedgerStore) Commit(ctx context.Context, m domain.Mutation) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := domain.PoolBalances{PoolID: m.PoolID}
		var n numericScanner
		err := tx.QueryRow(ctx, `
			SELECT total_amount::text, available_amount::text, locked_amount::text
			FROM pools WHERE id = $1 FOR UPDATE`, m.PoolID,
		).Scan(n.amount(&row.TotalAmount), n.amount(&row.AvailableAmount), n.amount(&row.LockedAmount))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: commit: pool %s: %w", m.PoolID, domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: commit: lock pool %s: %w", m.PoolID, err)
		}
		if err := n.apply(); err != nil {
			return err
		}
		if m.Expected != nil && !row.Matches(*m.Expected) {
			return fmt.Errorf("postgres: commit: pool %s holds %s/%s/%s: %w", m.PoolID,
				row.TotalAmount, row.AvailableAmount, row.LockedAmount, domain.ErrStale)
		}

		if b := m.Balances; b != nil {
			const query = `
				UPDATE pools SET
					total_amount = $2::numeric,
					available_amount = $3::numeric,
					locked_amount = $4::numeric,
					updated_at = $5
				WHERE id = $1`
			if _, err := tx.Exec(ctx, query, m.PoolID,
				amountArg(b.TotalAmount), amountArg(b.AvailableAmount), amountArg(b.LockedAmount), b.UpdatedAt,
			); err != nil {
				return fmt.Errorf("postgres: commit: update balances %s: %w", m.PoolID, err)
			}
		}

		for _, inv := range m.Investments {
			if err := upsertInvestment(ctx, tx, inv); err != nil {
				return err
			}
		}
		if m.Withdrawal != nil {
			if err := upsertWithdrawal(ctx, tx, *m.Withdrawal); err != nil {
				return err
			}
		}
		if err := insertCashFlows(ctx, tx, m.CashFlows); err != nil {
			return err
		}
		if len(m.Performance) > 0 {
			if err := insertPerformance(ctx, tx, m.PoolID, m.Performance); err != nil {
				return err
			}
			if err := trimPerformance(ctx, tx, m.PoolID); err != nil {
				return err
			}
		}
		if m.RiskAssessment != nil {
			if err := insertAssessment(ctx, tx, *m.RiskAssessment); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertInvestment(ctx context.Context, tx pgx.Tx, inv domain.Investment) error {
	const query = `
		INSERT INTO investments (
			id, user_id, pool_id, initial_principal, principal, current_value,
			earned_interest, investment_date, maturity_date, status,
			compounding_enabled, auto_reinvest, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8, $9, $10,
			$11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			principal = EXCLUDED.principal,
			current_value = EXCLUDED.current_value,
			earned_interest = EXCLUDED.earned_interest,
			maturity_date = EXCLUDED.maturity_date,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`
	_, err := tx.Exec(ctx, query,
		inv.ID, inv.UserID, inv.PoolID,
		amountArg(inv.InitialPrincipal), amountArg(inv.Principal), amountArg(inv.CurrentValue),
		amountArg(inv.EarnedInterest), inv.InvestmentDate, inv.MaturityDate, string(inv.Status),
		inv.CompoundingEnabled, inv.AutoReinvest, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert investment %s: %w", inv.ID, err)
	}
	return nil
}

func upsertWithdrawal(ctx context.Context, tx pgx.Tx, w domain.WithdrawalRequest) error {
	const query = `
		INSERT INTO withdrawal_requests (
			id, investment_id, pool_id, user_id, requested_amount, actual_amount,
			penalty, status, request_date, processed_date, reason
		) VALUES (
			$1, $2, $3, $4, $5::numeric, $6::numeric,
			$7::numeric, $8, $9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			processed_date = EXCLUDED.processed_date,
			reason = EXCLUDED.reason`
	_, err := tx.Exec(ctx, query,
		w.ID, w.InvestmentID, w.PoolID, w.UserID,
		amountArg(w.RequestedAmount), amountArg(w.ActualAmount), amountArg(w.Penalty),
		string(w.Status), w.RequestDate, w.ProcessedDate, w.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert withdrawal %s: %w", w.ID, err)
	}
	return nil
}

func insertCashFlows(ctx context.Context, tx pgx.Tx, flows []domain.CashFlow) error {
	if len(flows) == 0 {
		return nil
	}
	const query = `
		INSERT INTO cash_flows (
			id, pool_id, type, amount, currency, description,
			occurred_at, tx_hash, related_user_id
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`

	batch := &pgx.Batch{}
	for _, cf := range flows {
		batch.Queue(query,
			cf.ID, cf.PoolID, string(cf.Type), amountArg(cf.Amount), cf.Currency,
			cf.Description, cf.Timestamp, cf.TxHash, cf.RelatedUserID,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert cash flows: %w", err)
	}
	return nil
}

func insertPerformance(ctx context.Context, tx pgx.Tx, poolID string, recs []domain.PerformanceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	const query = `
		INSERT INTO pool_performance (
			pool_id, date, total_value, daily_return, cumulative_return,
			sharpe_ratio, volatility
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		ON CONFLICT (pool_id, date) DO UPDATE SET
			total_value = EXCLUDED.total_value,
			daily_return = EXCLUDED.daily_return,
			cumulative_return = EXCLUDED.cumulative_return,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			volatility = EXCLUDED.volatility`

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(query, poolID, r.Date, toNumeric(r.TotalValue),
			r.DailyReturn, r.CumulativeReturn, r.SharpeRatio, r.Volatility)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert performance for %s: %w", poolID, err)
	}
	return nil
}

// trimPerformance evicts the oldest rows beyond historyRetention.
func trimPerformance(ctx context.Context, tx pgx.Tx, poolID string) error {
	const query = `
		DELETE FROM pool_performance
		WHERE pool_id = $1 AND date < (
			SELECT MIN(date) FROM (
				SELECT date FROM pool_performance
				WHERE pool_id = $1
				ORDER BY date DESC
				LIMIT $2
			) AS kept
		)`
	if _, err := tx.Exec(ctx, query, poolID, historyRetention); err != nil {
		return fmt.Errorf("postgres: trim performance for %s: %w", poolID, err)
	}
	return nil
}

func insertAssessment(ctx context.Context, tx pgx.Tx, a domain.RiskAssessment) error {
	stress, err := json.Marshal(a.StressTestResults)
	if err != nil {
		return fmt.Errorf("postgres: marshal stress results: %w", err)
	}
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("postgres: marshal recommendations: %w", err)
	}
	const query = `
		INSERT INTO risk_assessments (
			pool_id, assessed_at, volatility, max_drawdown, beta, var_95,
			sharpe_ratio, stress_test_results, risk_score, recommendations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := tx.Exec(ctx, query,
		a.PoolID, a.Date, a.Volatility, a.MaxDrawdown, a.Beta, a.VaR95,
		a.SharpeRatio, stress, a.RiskScore, recs,
	); err != nil {
		return fmt.Errorf("postgres: insert risk assessment for %s: %w", a.PoolID, err)
	}
	return nil
}

// Load reads the whole persisted ledger. Withdrawal requests are attached to
// their investments in request order.
func (s *LedgerStore) Load(ctx context.Context) (domain.Snapshot, error) {
	pools, invs, err := s.load(ctx, "")
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{Pools: pools, Investments: invs}, nil
}

// LoadPool reads one pool with its positions. It returns domain.ErrNotFound
// when the pool does not exist.
func (s *LedgerStore) LoadPool(ctx context.Context, poolID string) (domain.PoolSnapshot, []domain.Investment, error) {
	if poolID == "" {
		return domain.PoolSnapshot{}, nil, fmt.Errorf("postgres: load pool: empty id: %w", domain.ErrNotFound)
	}
	pools, invs, err := s.load(ctx, poolID)
	if err != nil {
		return domain.PoolSnapshot{}, nil, err
	}
	if len(pools) == 0 {
		return domain.PoolSnapshot{}, nil, fmt.Errorf("postgres: load pool %s: %w", poolID, domain.ErrNotFound)
	}
	return pools[0], invs, nil
}

// load reads the pools matching poolID, or every pool when poolID is empty.
func (s *LedgerStore) load(ctx context.Context, poolID string) ([]domain.PoolSnapshot, []domain.Investment, error) {
	pools, err := s.loadPools(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	for i := range pools {
		id := pools[i].Pool.ID
		if pools[i].Performance, err = s.loadPerformance(ctx, id); err != nil {
			return nil, nil, err
		}
		if pools[i].CashFlows, err = s.loadCashFlows(ctx, id); err != nil {
			return nil, nil, err
		}
		if pools[i].Assessments, err = s.loadAssessments(ctx, id); err != nil {
			return nil, nil, err
		}
	}

	invs, err := s.loadInvestments(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.attachWithdrawals(ctx, invs, poolID); err != nil {
		return nil, nil, err
	}
	return pools, invs, nil
}

func (s *LedgerStore) loadPools(ctx context.Context, poolID string) ([]domain.PoolSnapshot, error) {
	const query = `
		SELECT id, name, currency, total_amount::text, available_amount::text,
			locked_amount::text, min_investment::text, max_investment::text,
			apy, risk_level, lock_period_days, management_fee, performance_fee,
			status, strategy_type, description, inception_value::text,
			created_at, updated_at
		FROM pools WHERE ($1 = '' OR id = $1) ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load pools: %w", err)
	}
	defer rows.Close()

	var out []domain.PoolSnapshot
	for rows.Next() {
		var p domain.Pool
		var risk, status, strategy string
		var n numericScanner
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Currency,
			n.amount(&p.TotalAmount), n.amount(&p.AvailableAmount), n.amount(&p.LockedAmount),
			n.amount(&p.MinInvestment), n.amount(&p.MaxInvestment),
			&p.APY, &risk, &p.LockPeriodDays, &p.ManagementFee, &p.PerformanceFee,
			&status, &strategy, &p.Description, n.target(&p.InceptionValue),
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		if err := n.apply(); err != nil {
			return nil, err
		}
		p.RiskLevel = domain.RiskLevel(risk)
		p.Status = domain.PoolStatus(status)
		p.StrategyType = domain.StrategyType(strategy)
		out = append(out, domain.PoolSnapshot{Pool: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load pools rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) loadPerformance(ctx context.Context, poolID string) ([]domain.PerformanceRecord, error) {
	const query = `
		SELECT date, total_value::text, daily_return, cumulative_return, sharpe_ratio, volatility
		FROM (
			SELECT * FROM pool_performance WHERE pool_id = $1 ORDER BY date DESC LIMIT $2
		) AS recent
		ORDER BY date`
	rows, err := s.pool.Query(ctx, query, poolID, historyRetention)
	if err != nil {
		return nil, fmt.Errorf("postgres: load performance %s: %w", poolID, err)
	}
	defer rows.Close()

	var out []domain.PerformanceRecord
	for rows.Next() {
		var r domain.PerformanceRecord
		var n numericScanner
		if err := rows.Scan(&r.Date, n.target(&r.TotalValue), &r.DailyReturn,
			&r.CumulativeReturn, &r.SharpeRatio, &r.Volatility); err != nil {
			return nil, fmt.Errorf("postgres: scan performance: %w", err)
		}
		if err := n.apply(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LedgerStore) loadCashFlows(ctx context.Context, poolID string) ([]domain.CashFlow, error) {
	const query = `
		SELECT id, pool_id, type, amount::text, currency, description,
			occurred_at, tx_hash, related_user_id
		FROM cash_flows WHERE pool_id = $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load cash flows %s: %w", poolID, err)
	}
	defer rows.Close()

	var out []domain.CashFlow
	for rows.Next() {
		cf, err := scanCashFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}

func scanCashFlow(row pgx.Row) (domain.CashFlow, error) {
	var cf domain.CashFlow
	var typ string
	var n numericScanner
	if err := row.Scan(&cf.ID, &cf.PoolID, &typ, n.amount(&cf.Amount), &cf.Currency,
		&cf.Description, &cf.Timestamp, &cf.TxHash, &cf.RelatedUserID); err != nil {
		return domain.CashFlow{}, fmt.Errorf("postgres: scan cash flow: %w", err)
	}
	if err := n.apply(); err != nil {
		return domain.CashFlow{}, err
	}
	cf.Type = domain.CashFlowType(typ)
	return cf, nil
}

// CashFlowsBetween returns every journal entry with since <= timestamp <
// until across all pools, in journal order.
func (s *LedgerStore) CashFlowsBetween(ctx context.Context, since, until time.Time) ([]domain.CashFlow, error) {
	const query = `
		SELECT id, pool_id, type, amount::text, currency, description,
			occurred_at, tx_hash, related_user_id
		FROM cash_flows WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at, seq`
	rows, err := s.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: cash flows between: %w", err)
	}
	defer rows.Close()

	var out []domain.CashFlow
	for rows.Next() {
		cf, err := scanCashFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}

func (s *LedgerStore) loadAssessments(ctx context.Context, poolID string) ([]domain.RiskAssessment, error) {
	const query = `
		SELECT pool_id, assessed_at, volatility, max_drawdown, beta, var_95,
			sharpe_ratio, stress_test_results, risk_score, recommendations
		FROM (
			SELECT * FROM risk_assessments WHERE pool_id = $1 ORDER BY assessed_at DESC, id DESC LIMIT $2
		) AS recent
		ORDER BY assessed_at, id`
	rows, err := s.pool.Query(ctx, query, poolID, assessmentRetention)
	if err != nil {
		return nil, fmt.Errorf("postgres: load assessments %s: %w", poolID, err)
	}
	defer rows.Close()

	var out []domain.RiskAssessment
	for rows.Next() {
		var a domain.RiskAssessment
		var stress, recs []byte
		if err := rows.Scan(&a.PoolID, &a.Date, &a.Volatility, &a.MaxDrawdown, &a.Beta,
			&a.VaR95, &a.SharpeRatio, &stress, &a.RiskScore, &recs); err != nil {
			return nil, fmt.Errorf("postgres: scan assessment: %w", err)
		}
		if err := json.Unmarshal(stress, &a.StressTestResults); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal stress results: %w", err)
		}
		if err := json.Unmarshal(recs, &a.Recommendations); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal recommendations: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LedgerStore) loadInvestments(ctx context.Context, poolID string) ([]domain.Investment, error) {
	const query = `
		SELECT id, user_id, pool_id, initial_principal::text, principal::text,
			current_value::text, earned_interest::text, investment_date, maturity_date,
			status, compounding_enabled, auto_reinvest, updated_at
		FROM investments WHERE ($1 = '' OR pool_id = $1) ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load investments: %w", err)
	}
	defer rows.Close()

	var out []domain.Investment
	for rows.Next() {
		var inv domain.Investment
		var status string
		var n numericScanner
		if err := rows.Scan(
			&inv.ID, &inv.UserID, &inv.PoolID,
			n.amount(&inv.InitialPrincipal), n.amount(&inv.Principal),
			n.amount(&inv.CurrentValue), n.amount(&inv.EarnedInterest),
			&inv.InvestmentDate, &inv.MaturityDate,
			&status, &inv.CompoundingEnabled, &inv.AutoReinvest, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan investment: %w", err)
		}
		if err := n.apply(); err != nil {
			return nil, err
		}
		inv.Status = domain.InvestmentStatus(status)
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load investments rows: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) attachWithdrawals(ctx context.Context, invs []domain.Investment, poolID string) error {
	byID := make(map[string]*domain.Investment, len(invs))
	for i := range invs {
		byID[invs[i].ID] = &invs[i]
	}

	const query = `
		SELECT id, investment_id, pool_id, user_id, requested_amount::text,
			actual_amount::text, penalty::text, status, request_date, processed_date, reason
		FROM withdrawal_requests WHERE ($1 = '' OR pool_id = $1)
		ORDER BY request_date, id`
	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return fmt.Errorf("postgres: load withdrawals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w domain.WithdrawalRequest
		var status string
		var n numericScanner
		if err := rows.Scan(&w.ID, &w.InvestmentID, &w.PoolID, &w.UserID,
			n.amount(&w.RequestedAmount), n.amount(&w.ActualAmount), n.amount(&w.Penalty),
			&status, &w.RequestDate, &w.ProcessedDate, &w.Reason); err != nil {
			return fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		if err := n.apply(); err != nil {
			return err
		}
		w.Status = domain.WithdrawalStatus(status)
		if inv, ok := byID[w.InvestmentID]; ok {
			inv.WithdrawalRequests = append(inv.WithdrawalRequests, w)
		}
	}
	return rows.Err()
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
