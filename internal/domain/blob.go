package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveInfo describes one archived ledger batch in the object store.
type ArchiveInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ArchiveWriter uploads ledger batches to the object store.
type ArchiveWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error
}

// ArchiveReader retrieves previously archived batches.
type ArchiveReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ArchiveInfo, error)
}

// Archiver copies aged event-ledger entries into long-term object storage
// and marks them archived in the primary store. Entries are never deleted;
// the ledger stays the authoritative idempotency record. Marking happens
// only after the upload succeeded, so a crash between the two leaves
// duplicates in the archive, never a gap.
type Archiver interface {
	Archive(ctx context.Context, before time.Time) (int64, error)
}
