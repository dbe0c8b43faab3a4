package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader inspects object storage.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves journal data to cold storage.
type Archiver interface {
	ArchiveCashFlows(ctx context.Context, since, until time.Time) (int64, error)
}
