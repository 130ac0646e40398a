package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/castmarket/fidmarket/internal/domain"
)

// SpotPriceCache caches the oracle's ETH/USD spot price under a short TTL so
// the read path converts wei to fiat without a network call per request.
type SpotPriceCache struct {
	rdb *redis.Client
}

// NewSpotPriceCache creates a SpotPriceCache backed by the given Client.
func NewSpotPriceCache(c *Client) *SpotPriceCache {
	return &SpotPriceCache{rdb: c.Underlying()}
}

const spotPriceKey = "price:eth_usd"

// Get retrieves the cached spot price.
// It returns domain.ErrNotFound when the entry has expired or never existed.
func (pc *SpotPriceCache) Get(ctx context.Context) (decimal.Decimal, error) {
	val, err := pc.rdb.Get(ctx, spotPriceKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, domain.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("redis: get spot price: %w", err)
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse spot price %q: %w", val, err)
	}
	return price, nil
}

// Set stores the spot price with the given TTL.
func (pc *SpotPriceCache) Set(ctx context.Context, price decimal.Decimal, ttl time.Duration) error {
	if err := pc.rdb.Set(ctx, spotPriceKey, price.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set spot price: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SpotPriceCache = (*SpotPriceCache)(nil)
