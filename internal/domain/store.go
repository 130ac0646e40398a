package domain

import (
	"context"
	"time"
)

// SortDir orders price-sorted listing pages.
type SortDir string

const (
	SortFeeAsc  SortDir = "minFee"
	SortFeeDesc SortDir = "-minFee"
)

// ActiveQuery selects active listings (not canceled, deadline in the future)
// for the price-sorted read path.
type ActiveQuery struct {
	Sort   SortDir
	Limit  int
	Offset int
	Now    time.Time
}

// ListingStore persists listings keyed by fid. Upserts must be atomic per
// fid; concurrent writers rely on the store's per-row conflict resolution,
// not process-level locks.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	SetCanceled(ctx context.Context, fid uint64, at time.Time, txHash string) error
	GetByFid(ctx context.Context, fid uint64) (Listing, error)
	GetByFids(ctx context.Context, fids []uint64) (map[uint64]Listing, error)
	ListActive(ctx context.Context, q ActiveQuery) ([]Listing, error)
	Count(ctx context.Context) (int64, error)
}

// OfferStore persists offers keyed by fid, same lifecycle as listings.
type OfferStore interface {
	Upsert(ctx context.Context, o Offer) error
	SetCanceled(ctx context.Context, fid uint64, at time.Time) error
	GetByFid(ctx context.Context, fid uint64) (Offer, error)
}

// EventLedgerStore is the idempotency guard: a write-once-per-txHash record
// of already reconciled transactions. Record uses an upsert so concurrent
// duplicate calls converge rather than conflict. Entries are never deleted;
// archival only marks them, so Has and Get keep answering for every
// transaction ever reconciled.
type EventLedgerStore interface {
	Has(ctx context.Context, txHash string) (bool, error)
	Record(ctx context.Context, entry LedgerEntry) error
	Get(ctx context.Context, txHash string) (LedgerEntry, error)
	ListSalesSince(ctx context.Context, since time.Time) ([]LedgerEntry, error)

	// ListBefore returns entries recorded before the cutoff that have not
	// been archived yet; MarkArchivedBefore flags them once uploaded.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]LedgerEntry, error)
	MarkArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
