package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type sliceSource []domain.CashFlow

func (s sliceSource) CashFlowsBetween(_ context.Context, since, until time.Time) ([]domain.CashFlow, error) {
	var out []domain.CashFlow
	for _, cf := range s {
		if !cf.Timestamp.Before(since) && cf.Timestamp.Before(until) {
			out = append(out, cf)
		}
	}
	return out, nil
}

type failingSource struct{}

func (failingSource) CashFlowsBetween(context.Context, time.Time, time.Time) ([]domain.CashFlow, error) {
	return nil, errors.New("db down")
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "cashflows/2026/03/04.jsonl", ArchivePath(day(4, 23)))
	tz := time.FixedZone("UTC+8", 8*3600)
	assert.Equal(t, "cashflows/2026/03/03.jsonl", ArchivePath(time.Date(2026, 3, 4, 7, 0, 0, 0, tz)))
}

func TestArchiveCashFlowsPerDay(t *testing.T) {
	src := sliceSource{
		{ID: "cf_1", PoolID: "P", Type: domain.CashFlowDeposit, Amount: decimal.NewFromInt(100), Timestamp: day(1, 9)},
		{ID: "cf_2", PoolID: "P", Type: domain.CashFlowInterest, Amount: decimal.NewFromInt(1), Timestamp: day(1, 23)},
		{ID: "cf_3", PoolID: "P", Type: domain.CashFlowWithdrawal, Amount: decimal.NewFromInt(50), Timestamp: day(3, 10)},
		{ID: "cf_4", PoolID: "P", Type: domain.CashFlowDeposit, Amount: decimal.NewFromInt(7), Timestamp: day(4, 1)},
	}
	blobs := newMemBlobs()
	a := NewCashFlowArchiver(src, blobs, blobs, nil, discard)

	n, err := a.ArchiveCashFlows(context.Background(), day(1, 0), day(4, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, blobs.objects, 2)

	sc := bufio.NewScanner(bytes.NewReader(blobs.objects["cashflows/2026/03/01.jsonl"]))
	var ids []string
	for sc.Scan() {
		var cf domain.CashFlow
		require.NoError(t, json.Unmarshal(sc.Bytes(), &cf))
		ids = append(ids, cf.ID)
	}
	assert.Equal(t, []string{"cf_1", "cf_2"}, ids)
	_, partial := blobs.objects["cashflows/2026/03/04.jsonl"]
	assert.False(t, partial, "the unfinished day is not archived")

	// A rerun finds every object and uploads nothing.
	n, err = a.ArchiveCashFlows(context.Background(), day(1, 0), day(4, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, blobs.puts)
}

type auditRecorder struct{ events []string }

func (r *auditRecorder) Log(_ context.Context, event string, _ map[string]any) error {
	r.events = append(r.events, event)
	return nil
}

func (r *auditRecorder) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveAuditsUploads(t *testing.T) {
	blobs := newMemBlobs()
	audit := &auditRecorder{}
	src := sliceSource{{ID: "cf_1", Timestamp: day(2, 12)}}
	a := NewCashFlowArchiver(src, blobs, blobs, audit, discard)

	_, err := a.ArchiveCashFlows(context.Background(), day(2, 0), day(3, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"archive.cashflows"}, audit.events)
}

func TestArchiveSourceError(t *testing.T) {
	blobs := newMemBlobs()
	a := NewCashFlowArchiver(failingSource{}, blobs, blobs, nil, discard)
	_, err := a.ArchiveCashFlows(context.Background(), day(1, 0), day(2, 0))
	assert.ErrorContains(t, err, "db down")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
