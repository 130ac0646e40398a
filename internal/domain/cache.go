package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ListingCache is the per-fid read cache: an enriched listing snapshot with
// unbounded lifetime, invalidated explicitly by every mutating operation on
// that fid. Invalidation failures are logged, never fatal.
type ListingCache interface {
	Get(ctx context.Context, fid uint64) (ListingView, error)
	Set(ctx context.Context, view ListingView) error
	Invalidate(ctx context.Context, fid uint64) error
}

// StatsCache holds the process-wide aggregate scalars in wei. Updates are
// last-write-wins with no compare-and-swap; a lost update is an accepted
// approximation. A nil big.Int from a getter means "never set".
type StatsCache interface {
	FloorPrice(ctx context.Context) (*big.Int, error)
	SetFloorPrice(ctx context.Context, wei *big.Int) error
	HighestSale(ctx context.Context) (*big.Int, error)
	SetHighestSale(ctx context.Context, wei *big.Int) error
	TotalVolume(ctx context.Context) (*big.Int, error)
	SetTotalVolume(ctx context.Context, wei *big.Int) error
	AddVolume(ctx context.Context, wei *big.Int) (*big.Int, error)
}

// SpotPriceCache caches the oracle's fiat spot price with a short TTL so
// read-path enrichment does not hit the oracle on every request.
type SpotPriceCache interface {
	Get(ctx context.Context) (decimal.Decimal, error)
	Set(ctx context.Context, price decimal.Decimal, ttl time.Duration) error
}

// LockManager provides distributed locking, used to serialize stats rebuilds
// across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventPublisher fans a reconciled event out to live subscribers. Publishing
// is fire-and-forget; failures never affect the primary operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev MarketEvent)
}

// RateLimiter answers whether a keyed caller may proceed under a
// requests-per-window budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
