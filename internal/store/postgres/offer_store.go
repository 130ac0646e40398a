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

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates an OfferStore backed by the given connection pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

// Upsert inserts or overwrites the offer for a fid. Later offers replace
// earlier ones; the store keeps at most one row per fid.
func (s *OfferStore) Upsert(ctx context.Context, o domain.Offer) error {
	const query = `
		INSERT INTO offers (
			fid, buyer_address, amount, deadline, canceled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (fid) DO UPDATE SET
			buyer_address = EXCLUDED.buyer_address,
			amount        = EXCLUDED.amount,
			deadline      = EXCLUDED.deadline,
			canceled_at   = EXCLUDED.canceled_at,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		o.Fid, o.BuyerAddress, o.Amount, o.Deadline, o.CanceledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert offer %d: %w", o.Fid, err)
	}
	return nil
}

// SetCanceled marks the offer for a fid as canceled or consumed. A missing
// row is a no-op, same as listing cancellation.
func (s *OfferStore) SetCanceled(ctx context.Context, fid uint64, at time.Time) error {
	const query = `
		UPDATE offers SET canceled_at = $2, updated_at = NOW() WHERE fid = $1`

	if _, err := s.pool.Exec(ctx, query, fid, at); err != nil {
		return fmt.Errorf("postgres: cancel offer %d: %w", fid, err)
	}
	return nil
}

// GetByFid retrieves the offer for a fid, canceled or not.
func (s *OfferStore) GetByFid(ctx context.Context, fid uint64) (domain.Offer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fid, buyer_address, amount, deadline, canceled_at, created_at, updated_at
		FROM offers WHERE fid = $1`, fid)

	var o domain.Offer
	err := row.Scan(
		&o.Fid, &o.BuyerAddress, &o.Amount, &o.Deadline, &o.CanceledAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %d: %w", fid, err)
	}
	return o, nil
}

// Compile-time interface check.
var _ domain.OfferStore = (*OfferStore)(nil)
