package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// LogArchiver stores a finished alert log somewhere durable.
type LogArchiver interface {
	ArchiveLog(ctx context.Context, path string) error
}
