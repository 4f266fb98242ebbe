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

// SessionArchiver stores the trade log of a finished session and returns
// the object path.
type SessionArchiver interface {
	ArchiveSession(ctx context.Context, sessionID string, trades []ArbTrade) (string, error)
}
