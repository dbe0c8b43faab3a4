package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// InvestmentService is the slice of the ledger the investor endpoints use.
type InvestmentService interface {
	GetUserInvestments(ctx context.Context, userID string) []domain.Investment
	CalculateReturns(ctx context.Context, investmentID string) (domain.ReturnsSummary, error)
	RequestWithdrawal(ctx context.Context, investmentID string, amount decimal.Decimal, isEarly bool) (domain.WithdrawalRequest, error)
	ProcessWithdrawal(ctx context.Context, requestID string, approved bool, reason string) (domain.WithdrawalRequest, error)
	PortfolioOverview(ctx context.Context, userID string) domain.Portfolio
}

// InvestmentHandler serves investment, withdrawal and portfolio endpoints.
type InvestmentHandler struct {
	ledger InvestmentService
	logger *slog.Logger
}

// NewInvestmentHandler creates an InvestmentHandler.
func NewInvestmentHandler(ledger InvestmentService, logger *slog.Logger) *InvestmentHandler {
	return &InvestmentHandler{ledger: ledger, logger: logger}
}

// ListInvestments returns a user's positions, oldest first.
// GET /api/investments?user_id=
func (h *InvestmentHandler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireQuery(w, r, "user_id")
	if !ok {
		return
	}
	invs := h.ledger.GetUserInvestments(r.Context(), userID)
	if invs == nil {
		invs = []domain.Investment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": invs})
}

// Returns refreshes and reports an investment's returns.
// GET /api/investments/{id}/returns
func (h *InvestmentHandler) Returns(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.CalculateReturns(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "calculate returns", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Early  bool            `json:"early"`
}

// Withdraw files a pending withdrawal request.
// POST /api/investments/{id}/withdraw
func (h *InvestmentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wr, err := h.ledger.RequestWithdrawal(r.Context(), r.PathValue("id"), req.Amount, req.Early)
	if err != nil {
		writeLedgerError(w, r, h.logger, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

type processRequest struct {
	Approved *bool  `json:"approved"`
	Reason   string `json:"reason"`
}

// Process approves or rejects a pending withdrawal.
// PUT /api/withdrawals/{id}/process
func (h *InvestmentHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}
	wr, err := h.ledger.ProcessWithdrawal(r.Context(), r.PathValue("id"), *req.Approved, req.Reason)
	if err != nil {
		writeLedgerError(w, r, h.logger, "process withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// Portfolio totals a user's positions.
// GET /api/portfolio?user_id=
func (h *InvestmentHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireQuery(w, r, "user_id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.PortfolioOverview(r.Context(), userID))
}
