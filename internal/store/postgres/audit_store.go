package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The events
// dispatcher writes one row per ledger event.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := row.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return e, err
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return e, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit entries: %w", err)
	}
	return entries, nil
}

// auditQuery builds the filtered audit_log select for opts.
func auditQuery(opts domain.ListOpts) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at <= "+arg(*opts.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
