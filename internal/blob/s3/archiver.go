package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

const (
	jsonLinesContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// CashFlowSource reads the journal for a time range. The ledger and the
// Postgres store both satisfy it.
type CashFlowSource interface {
	CashFlowsBetween(ctx context.Context, since, until time.Time) ([]domain.CashFlow, error)
}

// CashFlowArchiver implements domain.Archiver. It writes one JSON Lines
// object per UTC day at cashflows/<yyyy>/<mm>/<dd>.jsonl and never rewrites
// an object that already exists, so reruns over the same range are no-ops.
//
// Archived entries stay in the primary store; the journal is append-only.
type CashFlowArchiver struct {
	source CashFlowSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewCashFlowArchiver creates a CashFlowArchiver. audit may be nil.
func NewCashFlowArchiver(
	source CashFlowSource,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *CashFlowArchiver {
	return &CashFlowArchiver{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCashFlows archives each UTC day from the one containing since to the
// last day ending at or before until, and returns the number of entries
// uploaded.
func (a *CashFlowArchiver) ArchiveCashFlows(ctx context.Context, since, until time.Time) (int64, error) {
	var total int64
	for day := truncateDay(since); day.Before(until); day = day.AddDate(0, 0, 1) {
		end := day.AddDate(0, 0, 1)
		if end.After(until) {
			break
		}
		n, err := a.archiveDay(ctx, day, end)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (a *CashFlowArchiver) archiveDay(ctx context.Context, day, end time.Time) (int64, error) {
	path := ArchivePath(day)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", path, err)
	}
	if exists {
		a.logger.DebugContext(ctx, "archiver: object exists, skipping", slog.String("path", path))
		return 0, nil
	}

	flows, err := a.source.CashFlowsBetween(ctx, day, end)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: query: %w", path, err)
	}
	if len(flows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(flows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: marshal: %w", path, err)
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonLinesContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: upload: %w", path, err)
	}

	count := int64(len(flows))
	a.logger.InfoContext(ctx, "archiver: day archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int("bytes", len(buf)),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.cashflows", map[string]any{
			"path":  path,
			"count": count,
			"day":   day.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s: audit log: %w", path, err)
		}
	}
	return count, nil
}

// ArchivePath returns the object key for the UTC day containing t.
func ArchivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("cashflows/%04d/%02d/%02d.jsonl", t.Year(), int(t.Month()), t.Day())
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// marshalJSONL encodes items as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*CashFlowArchiver)(nil)
