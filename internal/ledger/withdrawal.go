package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// Penalty is the early-withdrawal charge: amount * rate * remainingDays/365,
// rounded to domain.AmountScale digits.
func Penalty(amount decimal.Decimal, rate float64, remainingDays int) decimal.Decimal {
	if remainingDays <= 0 || !amount.IsPositive() || rate <= 0 {
		return decimal.Zero
	}
	p := amount.Mul(decimal.NewFromFloat(rate)).Mul(decimal.NewFromInt(int64(remainingDays)))
	return domain.RoundAmount(p.Div(decimal.NewFromInt(daysPerYear)))
}

// RequestWithdrawal records a pending request against an investment. The
// penalty is fixed at request time from the days left until maturity.
func (l *Ledger) RequestWithdrawal(ctx context.Context, investmentID string, amount decimal.Decimal, isEarly bool) (out domain.WithdrawalRequest, err error) {
	defer l.observe("request_withdrawal", time.Now(), &err)

	ps, err := l.poolOfInvestment(investmentID)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	unlock, err := l.lockPool(ctx, ps)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	defer unlock()

	cur, ok := ps.investments[investmentID]
	if !ok {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: investment %s: %w", investmentID, domain.ErrNotFound)
	}
	if cur.Status.Terminal() {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: investment %s is %s: %w", investmentID, cur.Status, domain.ErrInvalidState)
	}
	amount = domain.RoundAmount(amount)
	if !amount.IsPositive() || amount.GreaterThan(cur.CurrentValue) {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: withdrawal %s outside (0, %s]: %w",
			amount, cur.CurrentValue, domain.ErrConstraintViolation)
	}

	now := l.now()
	penalty := decimal.Zero
	reason := domain.ReasonMaturityWithdrawal
	if isEarly {
		reason = domain.ReasonEarlyWithdrawal
		penalty = Penalty(amount, l.penaltyRate, elapsedDays(now, cur.MaturityDate))
	}
	req := domain.WithdrawalRequest{
		ID:              "wdr_" + uuid.NewString(),
		InvestmentID:    investmentID,
		PoolID:          cur.PoolID,
		UserID:          cur.UserID,
		RequestedAmount: amount,
		ActualAmount:    amount.Sub(penalty),
		Penalty:         penalty,
		Status:          domain.WithdrawalStatusPending,
		RequestDate:     now,
		Reason:          reason,
	}

	inv := cur.Clone()
	inv.WithdrawalRequests = append(inv.WithdrawalRequests, req)
	inv.UpdatedAt = now

	m := domain.Mutation{
		PoolID:      inv.PoolID,
		Investments: []domain.Investment{inv},
		Withdrawal:  &req,
	}
	if err := l.commit(ctx, ps, ps.pool, m); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	*cur = inv
	l.mu.Lock()
	l.withdrawals[req.ID] = investmentID
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger: withdrawal requested",
		slog.String("request_id", req.ID),
		slog.String("investment_id", investmentID),
		slog.String("amount", amount.String()),
		slog.String("penalty", penalty.String()),
	)
	evtReq := req.Clone()
	l.publish(domain.Event{
		Type:       domain.EventWithdrawalRequested,
		PoolID:     inv.PoolID,
		UserID:     inv.UserID,
		Withdrawal: &evtReq,
		OccurredAt: now,
	})
	return req, nil
}

// ProcessWithdrawal approves or rejects a pending request. Approval releases
// the requested amount from the investment and from the pool in one step and
// leaves the request completed. Rejection only records the decision.
func (l *Ledger) ProcessWithdrawal(ctx context.Context, requestID string, approved bool, reason string) (out domain.WithdrawalRequest, err error) {
	defer l.observe("process_withdrawal", time.Now(), &err)

	l.mu.RLock()
	investmentID, ok := l.withdrawals[requestID]
	l.mu.RUnlock()
	if !ok {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: withdrawal %s: %w", requestID, domain.ErrNotFound)
	}
	ps, err := l.poolOfInvestment(investmentID)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	unlock, err := l.lockPool(ctx, ps)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	defer unlock()

	cur, ok := ps.investments[investmentID]
	if !ok {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: investment %s: %w", investmentID, domain.ErrNotFound)
	}
	idx := -1
	for i, r := range cur.WithdrawalRequests {
		if r.ID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: withdrawal %s: %w", requestID, domain.ErrNotFound)
	}
	if st := cur.WithdrawalRequests[idx].Status; st != domain.WithdrawalStatusPending {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: withdrawal %s is %s: %w", requestID, st, domain.ErrInvalidState)
	}
	if cur.Status.Terminal() {
		return domain.WithdrawalRequest{}, fmt.Errorf("ledger: investment %s is %s: %w", investmentID, cur.Status, domain.ErrInvalidState)
	}

	now := l.now()
	inv := cur.Clone()
	req := &inv.WithdrawalRequests[idx]
	processed := now
	req.ProcessedDate = &processed
	if reason != "" {
		req.Reason = reason
	}
	pool := ps.pool
	var flows []domain.CashFlow

	if !approved {
		req.Status = domain.WithdrawalStatusRejected
		inv.UpdatedAt = now
	} else {
		delta, _ := refresh(&inv, pool, now)
		applyAccrual(&pool, delta, now)
		accrued, err := l.accrualFlows(pool, []accrualDelta{{userID: inv.UserID, delta: delta}}, now)
		if err != nil {
			return domain.WithdrawalRequest{}, err
		}
		flows = append(flows, accrued...)

		if req.RequestedAmount.GreaterThan(inv.CurrentValue) {
			return domain.WithdrawalRequest{}, fmt.Errorf("ledger: withdrawal %s exceeds current value %s: %w",
				req.RequestedAmount, inv.CurrentValue, domain.ErrConstraintViolation)
		}
		releaseFromInvestment(&inv, req.RequestedAmount, req.Penalty.IsPositive())
		pool.LockedAmount = pool.LockedAmount.Sub(req.RequestedAmount)
		pool.TotalAmount = pool.TotalAmount.Sub(req.RequestedAmount)
		pool.UpdatedAt = now

		wf, err := newCashFlow(pool, domain.CashFlowWithdrawal, req.ActualAmount, "investment withdrawal", inv.UserID, "", now)
		if err != nil {
			return domain.WithdrawalRequest{}, err
		}
		flows = append(flows, wf)
		if req.Penalty.IsPositive() {
			ff, err := newCashFlow(pool, domain.CashFlowFee, req.Penalty, "early withdrawal penalty", inv.UserID, "", now)
			if err != nil {
				return domain.WithdrawalRequest{}, err
			}
			flows = append(flows, ff)
		}
		req.Status = domain.WithdrawalStatusCompleted
	}

	result := req.Clone()
	m := domain.Mutation{
		PoolID:      pool.ID,
		Investments: []domain.Investment{inv},
		Withdrawal:  &result,
		CashFlows:   flows,
	}
	if approved {
		m.Balances = balancesOf(pool)
	}
	if err := l.commit(ctx, ps, pool, m); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	*cur = inv
	ps.journal.append(flows...)

	l.logger.InfoContext(ctx, "ledger: withdrawal processed",
		slog.String("request_id", requestID),
		slog.String("investment_id", investmentID),
		slog.Bool("approved", approved),
		slog.String("status", string(result.Status)),
		slog.String("investment_status", string(inv.Status)),
	)
	evtReq := result.Clone()
	evtInv := inv.Clone()
	l.publish(domain.Event{
		Type:       domain.EventWithdrawalProcessed,
		PoolID:     pool.ID,
		UserID:     inv.UserID,
		Investment: &evtInv,
		Withdrawal: &evtReq,
		Detail:     map[string]any{"approved": approved},
		OccurredAt: now,
	})
	return result, nil
}

// releaseFromInvestment takes amount out of the position. Principal shrinks by
// the same fraction as the value so later refreshes start from the reduced
// basis. A position drained to zero becomes terminal.
func releaseFromInvestment(inv *domain.Investment, amount decimal.Decimal, penalised bool) {
	value := inv.CurrentValue
	remaining := value.Sub(amount)
	if !remaining.IsPositive() {
		inv.Principal = decimal.Zero
		inv.CurrentValue = decimal.Zero
		inv.EarnedInterest = decimal.Zero
		inv.Status = domain.InvestmentStatusWithdrawn
		if penalised {
			inv.Status = domain.InvestmentStatusPenaltyWithdrawn
		}
		return
	}
	inv.Principal = domain.RoundAmount(inv.Principal.Mul(remaining).Div(value))
	inv.CurrentValue = remaining
	inv.EarnedInterest = remaining.Sub(inv.Principal)
}
