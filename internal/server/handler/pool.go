package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// PoolService is the slice of the ledger the pool endpoints use.
type PoolService interface {
	ListPools(ctx context.Context) []domain.Pool
	GetPool(ctx context.Context, poolID string) (domain.PoolView, error)
	GetPoolStatistics(ctx context.Context, poolID string) (domain.PoolStatistics, error)
	GetCashFlows(ctx context.Context, poolID string, limit int) ([]domain.CashFlow, error)
	PerformRiskAssessment(ctx context.Context, poolID string) (domain.RiskAssessment, error)
	RiskAssessments(ctx context.Context, poolID string, limit int) ([]domain.RiskAssessment, error)
	CreateInvestment(ctx context.Context, userID, poolID string, amount decimal.Decimal, opts domain.InvestmentOptions) (domain.Investment, error)
}

// PoolHandler serves pool endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

// ListPools returns the active pools.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.pools.ListPools(r.Context())
	if pools == nil {
		pools = []domain.Pool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

// GetPool returns one pool with its performance history.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	view, err := h.pools.GetPool(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Statistics returns investor and performance aggregates.
// GET /api/pools/{id}/statistics
func (h *PoolHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pools.GetPoolStatistics(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "pool statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CashFlows returns the most recent journal entries, newest first.
// GET /api/pools/{id}/cashflows?limit=
func (h *PoolHandler) CashFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.pools.GetCashFlows(r.Context(), r.PathValue("id"), parseLimit(r, 100, 1000))
	if err != nil {
		writeLedgerError(w, r, h.logger, "list cash flows", err)
		return
	}
	if flows == nil {
		flows = []domain.CashFlow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cash_flows": flows})
}

// RiskAssessment runs and stores a fresh assessment.
// GET /api/pools/{id}/risk-assessment
func (h *PoolHandler) RiskAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.pools.PerformRiskAssessment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "risk assessment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RiskAssessments lists retained assessments, newest first.
// GET /api/pools/{id}/risk-assessments?limit=
func (h *PoolHandler) RiskAssessments(w http.ResponseWriter, r *http.Request) {
	list, err := h.pools.RiskAssessments(r.Context(), r.PathValue("id"), parseLimit(r, 10, 100))
	if err != nil {
		writeLedgerError(w, r, h.logger, "list risk assessments", err)
		return
	}
	if list == nil {
		list = []domain.RiskAssessment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": list})
}

type investRequest struct {
	UserID             string          `json:"user_id"`
	Amount             decimal.Decimal `json:"amount"`
	CompoundingEnabled bool            `json:"compounding_enabled"`
	AutoReinvest       bool            `json:"auto_reinvest"`
	TxHash             string          `json:"tx_hash"`
}

// Invest opens a position in the pool.
// POST /api/pools/{id}/invest
func (h *PoolHandler) Invest(w http.ResponseWriter, r *http.Request) {
	var req investRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := h.pools.CreateInvestment(r.Context(), req.UserID, r.PathValue("id"), req.Amount, domain.InvestmentOptions{
		CompoundingEnabled: req.CompoundingEnabled,
		AutoReinvest:       req.AutoReinvest,
		TxHash:             req.TxHash,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "create investment", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}
