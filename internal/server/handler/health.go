package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Checker
	now    func() time.Time
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a dependency name
// (postgres, redis, s3) to its probe.
func NewHealthHandler(checks map[string]Checker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now, logger: logger}
}

// HealthCheck reports overall status and one entry per dependency. Any
// failing probe turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    h.now().UTC().Format(time.RFC3339),
	})
}
