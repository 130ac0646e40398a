package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/castmarket/fidmarket/internal/domain"
)

// archiveBatchSize bounds how many ledger entries go into one archive
// object.
const archiveBatchSize = 5000

// LedgerArchiver implements domain.Archiver: it copies aged event-ledger
// entries into JSONL objects under archive/ledger/ and marks each batch
// archived only after its upload succeeded. The rows themselves stay in the
// primary store; the ledger remains the idempotency record for every
// transaction ever reconciled.
type LedgerArchiver struct {
	writer domain.ArchiveWriter
	ledger domain.EventLedgerStore
	logger *slog.Logger
}

var _ domain.Archiver = (*LedgerArchiver)(nil)

// NewLedgerArchiver creates a LedgerArchiver.
func NewLedgerArchiver(writer domain.ArchiveWriter, ledger domain.EventLedgerStore, logger *slog.Logger) *LedgerArchiver {
	return &LedgerArchiver{
		writer: writer,
		ledger: ledger,
		logger: logger,
	}
}

// Archive uploads all unarchived ledger entries recorded before the cutoff
// and flags them archived, batch by batch. It returns the number of archived
// entries. A failure mid-run leaves remaining entries unflagged for the next
// run; re-uploading an already uploaded batch is harmless.
func (a *LedgerArchiver) Archive(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
		batch, err := a.ledger.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive list batch: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive marshal batch: %w", err)
		}

		key := archiveKey(batch[len(batch)-1].RecordedAt)
		if int64(len(buf)) >= minPartSize {
			err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive upload %s: %w", key, err)
		}

		// Entries sharing the newest timestamp in the batch ride along in
		// the mark even when the batch was cut mid-timestamp. Recorded-at
		// has microsecond resolution, so the overlap window is negligible.
		boundary := batch[len(batch)-1].RecordedAt.Add(time.Microsecond)
		if boundary.After(before) {
			boundary = before
		}
		marked, err := a.ledger.MarkArchivedBefore(ctx, boundary)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive mark batch: %w", err)
		}

		total += int64(len(batch))
		a.logger.InfoContext(ctx, "archiver: batch archived",
			slog.String("key", key),
			slog.Int("entries", len(batch)),
			slog.Int64("marked", marked),
		)

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// Run archives on a fixed interval until the context ends, copying out
// entries older than retention as they age past it.
func (a *LedgerArchiver) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := a.Archive(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archiver: run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archiveKey partitions archives by month and stamps each object with its
// batch boundary plus a random suffix to avoid collisions.
//
//	archive/ledger/2026-08/20260831T120000-9f3b.jsonl
func archiveKey(boundary time.Time) string {
	return fmt.Sprintf("archive/ledger/%s/%s-%s.jsonl",
		boundary.Format("2006-01"),
		boundary.Format("20060102T150405"),
		uuid.NewString()[:8],
	)
}

// marshalJSONL renders entries as newline-delimited JSON, one compact line
// per entry.
func marshalJSONL(entries []domain.LedgerEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("jsonl encode entry %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
