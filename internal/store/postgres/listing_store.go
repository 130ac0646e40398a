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

// ListingStore implements domain.ListingStore using PostgreSQL. All writes
// are single-row upserts keyed by fid; the row conflict resolution is the
// only serialization point for concurrent reconcilers.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `fid, owner_address, min_fee, deadline, canceled_at,
	last_tx_hash, created_at, updated_at`

// Upsert inserts or fully overwrites the listing for a fid. A re-list after
// cancellation clears canceled_at because the new row carries a nil value.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			fid, owner_address, min_fee, deadline, canceled_at, last_tx_hash,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (fid) DO UPDATE SET
			owner_address = EXCLUDED.owner_address,
			min_fee       = EXCLUDED.min_fee,
			deadline      = EXCLUDED.deadline,
			canceled_at   = EXCLUDED.canceled_at,
			last_tx_hash  = EXCLUDED.last_tx_hash,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		l.Fid, l.OwnerAddress, l.MinFee, l.Deadline, l.CanceledAt, l.LastTxHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.Fid, err)
	}
	return nil
}

// SetCanceled marks a listing as canceled (or sold) without touching its fee
// or deadline. Missing rows are not an error: a cancel observed before the
// listing itself is a no-op, matching last-write-wins semantics.
func (s *ListingStore) SetCanceled(ctx context.Context, fid uint64, at time.Time, txHash string) error {
	const query = `
		UPDATE listings
		SET canceled_at = $2, last_tx_hash = $3, updated_at = NOW()
		WHERE fid = $1`

	_, err := s.pool.Exec(ctx, query, fid, at, txHash)
	if err != nil {
		return fmt.Errorf("postgres: cancel listing %d: %w", fid, err)
	}
	return nil
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(
		&l.Fid, &l.OwnerAddress, &l.MinFee, &l.Deadline, &l.CanceledAt,
		&l.LastTxHash, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// GetByFid retrieves a listing by its fid, canceled or not.
func (s *ListingStore) GetByFid(ctx context.Context, fid uint64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings WHERE fid = $1`, fid)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", fid, err)
	}
	return l, nil
}

// GetByFids retrieves listings for a set of fids in one round trip. Fids
// without a listing are simply absent from the result map.
func (s *ListingStore) GetByFids(ctx context.Context, fids []uint64) (map[uint64]domain.Listing, error) {
	result := make(map[uint64]domain.Listing, len(fids))
	if len(fids) == 0 {
		return result, nil
	}

	ids := make([]int64, len(fids))
	for i, fid := range fids {
		ids[i] = int64(fid)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+listingCols+` FROM listings WHERE fid = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get listings by fids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		result[l.Fid] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get listings by fids rows: %w", err)
	}
	return result, nil
}

// ListActive returns active listings sorted by their zero-padded fee. The
// fixed-width encoding makes the TEXT sort numerically correct.
func (s *ListingStore) ListActive(ctx context.Context, q domain.ActiveQuery) ([]domain.Listing, error) {
	order := "min_fee ASC"
	if q.Sort == domain.SortFeeDesc {
		order = "min_fee DESC"
	}

	query := `SELECT ` + listingCols + ` FROM listings
		WHERE canceled_at IS NULL AND deadline > $1
		ORDER BY ` + order + `, fid ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, q.Now.Unix(), q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active listings rows: %w", err)
	}
	return listings, nil
}

// Count returns the total number of listing rows, canceled included.
func (s *ListingStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
