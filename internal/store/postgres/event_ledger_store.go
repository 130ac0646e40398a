package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castmarket/fidmarket/internal/domain"
)

// EventLedgerStore implements the idempotency guard over a write-once table
// keyed by tx hash.
type EventLedgerStore struct {
	pool *pgxpool.Pool
}

// NewEventLedgerStore creates an EventLedgerStore backed by the given pool.
func NewEventLedgerStore(pool *pgxpool.Pool) *EventLedgerStore {
	return &EventLedgerStore{pool: pool}
}

// Has reports whether a transaction has already been reconciled.
func (s *EventLedgerStore) Has(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM event_ledger WHERE tx_hash = $1)", txHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: ledger has %s: %w", txHash, err)
	}
	return exists, nil
}

// Record writes the ledger entry for a reconciled transaction. ON CONFLICT
// DO NOTHING makes concurrent duplicate calls converge: the existing record
// wins and neither caller sees an error.
func (s *EventLedgerStore) Record(ctx context.Context, e domain.LedgerEntry) error {
	const query = `
		INSERT INTO event_ledger (tx_hash, event_type, fid, counterparty, amount, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tx_hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.TxHash, string(e.EventType), e.Fid, e.Counterparty, e.Amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: ledger record %s: %w", e.TxHash, err)
	}
	return nil
}

func scanLedgerEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var eventType string
	err := row.Scan(&e.TxHash, &eventType, &e.Fid, &e.Counterparty, &e.Amount, &e.RecordedAt)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.EventType = domain.EventKind(eventType)
	return e, nil
}

const ledgerCols = `tx_hash, event_type, fid, counterparty, amount, recorded_at`

// Get retrieves the ledger entry for a transaction.
func (s *EventLedgerStore) Get(ctx context.Context, txHash string) (domain.LedgerEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ledgerCols+` FROM event_ledger WHERE tx_hash = $1`, txHash)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("postgres: ledger get %s: %w", txHash, err)
	}
	return e, nil
}

// ListSalesSince returns Bought entries recorded at or after the given time,
// oldest first. The stats rebuild sums these for total volume.
func (s *EventLedgerStore) ListSalesSince(ctx context.Context, since time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerCols+` FROM event_ledger
		WHERE event_type = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`,
		string(domain.EventBought), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger list sales: %w", err)
	}
	defer rows.Close()
	return collectLedgerRows(rows)
}

// ListBefore returns up to limit unarchived entries recorded before the
// cutoff, oldest first. The archiver works through the ledger in these
// batches.
func (s *EventLedgerStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerCols+` FROM event_ledger
		WHERE recorded_at < $1 AND archived_at IS NULL
		ORDER BY recorded_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger list before: %w", err)
	}
	defer rows.Close()
	return collectLedgerRows(rows)
}

// MarkArchivedBefore stamps unarchived entries older than the cutoff and
// reports how many rows it flagged. Rows are never removed; the ledger is
// the idempotency record and must keep answering Has for every reconciled
// transaction. Only call after the same range has been uploaded.
func (s *EventLedgerStore) MarkArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_ledger SET archived_at = NOW()
		WHERE recorded_at < $1 AND archived_at IS NULL`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: ledger mark archived: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectLedgerRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ledger rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.EventLedgerStore = (*EventLedgerStore)(nil)
