// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
	"github.com/alanyoungcy/poolledger/internal/metrics"
	"github.com/alanyoungcy/poolledger/internal/server/handler"
	"github.com/alanyoungcy/poolledger/internal/server/middleware"
	"github.com/alanyoungcy/poolledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey enables authentication when set. Health and metrics stay open.
	APIKey          string
	RateLimit       int
	RateLimitWindow time.Duration
	ShutdownTimeout time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Pools       *handler.PoolHandler
	Investments *handler.InvestmentHandler
}

// Deps are optional collaborators. Nil fields disable their feature.
type Deps struct {
	Hub         *ws.Hub
	RateLimiter domain.RateLimiter
	Metrics     *metrics.Collector
}

// Server is the ledger's HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	cfg        Config
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newHandler(cfg, h, deps, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, cfg: cfg, logger: logger}
}

func newHandler(cfg Config, h Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/pools", h.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", h.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/statistics", h.Pools.Statistics)
	mux.HandleFunc("GET /api/pools/{id}/cashflows", h.Pools.CashFlows)
	mux.HandleFunc("GET /api/pools/{id}/risk-assessment", h.Pools.RiskAssessment)
	mux.HandleFunc("GET /api/pools/{id}/risk-assessments", h.Pools.RiskAssessments)
	mux.HandleFunc("POST /api/pools/{id}/invest", h.Pools.Invest)

	mux.HandleFunc("GET /api/investments", h.Investments.ListInvestments)
	mux.HandleFunc("GET /api/investments/{id}/returns", h.Investments.Returns)
	mux.HandleFunc("POST /api/investments/{id}/withdraw", h.Investments.Withdraw)
	mux.HandleFunc("PUT /api/withdrawals/{id}/process", h.Investments.Process)
	mux.HandleFunc("GET /api/portfolio", h.Investments.Portfolio)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var handler http.Handler = mux
	if deps.RateLimiter != nil && cfg.RateLimit > 0 && cfg.RateLimitWindow > 0 {
		handler = middleware.RateLimit(deps.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow, deps.Metrics, logger)(handler)
	}
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(handler)
	handler = middleware.Logging(logger, deps.Metrics)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.InfoContext(ctx, "server: listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
