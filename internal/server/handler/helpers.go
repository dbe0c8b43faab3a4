package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status. A
// marshal failure becomes a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrStale):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConstraintViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError writes err with the status for its kind. Client errors
// echo the message; server errors are logged and hidden.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// parseLimit reads the limit query parameter. Missing or non-positive
// values yield def; values above max are clamped.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// requireQuery returns the named query parameter or writes a 400.
func requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeError(w, http.StatusBadRequest, name+" query parameter required")
		return "", false
	}
	return v, true
}
