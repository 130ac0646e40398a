package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"

	"github.com/castmarket/fidmarket/internal/domain"
)

// StatsCache holds the aggregate scalars as decimal wei strings.
//
// Key schema:
//
//	stats:floor_price_wei
//	stats:highest_sale_wei
//	stats:total_volume_wei
//
// All updates are plain SETs with no compare-and-swap: concurrent writers
// may lose an update, which the design accepts because the stats are
// advisory, never correctness-critical.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

const (
	floorKey   = "stats:floor_price_wei"
	highestKey = "stats:highest_sale_wei"
	volumeKey  = "stats:total_volume_wei"
)

func (sc *StatsCache) getWei(ctx context.Context, key string) (*big.Int, error) {
	val, err := sc.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // never set
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	wei, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, fmt.Errorf("redis: %s holds non-numeric value %q", key, val)
	}
	return wei, nil
}

func (sc *StatsCache) setWei(ctx context.Context, key string, wei *big.Int) error {
	if wei == nil {
		wei = new(big.Int)
	}
	if err := sc.rdb.Set(ctx, key, wei.Text(10), 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// FloorPrice returns the cached floor, or nil if never set.
func (sc *StatsCache) FloorPrice(ctx context.Context) (*big.Int, error) {
	return sc.getWei(ctx, floorKey)
}

// SetFloorPrice overwrites the cached floor.
func (sc *StatsCache) SetFloorPrice(ctx context.Context, wei *big.Int) error {
	return sc.setWei(ctx, floorKey, wei)
}

// HighestSale returns the cached highest sale, or nil if never set.
func (sc *StatsCache) HighestSale(ctx context.Context) (*big.Int, error) {
	return sc.getWei(ctx, highestKey)
}

// SetHighestSale overwrites the cached highest sale.
func (sc *StatsCache) SetHighestSale(ctx context.Context, wei *big.Int) error {
	return sc.setWei(ctx, highestKey, wei)
}

// TotalVolume returns the cached volume counter, or nil if never set.
func (sc *StatsCache) TotalVolume(ctx context.Context) (*big.Int, error) {
	return sc.getWei(ctx, volumeKey)
}

// SetTotalVolume overwrites the volume counter; used by rebuilds.
func (sc *StatsCache) SetTotalVolume(ctx context.Context, wei *big.Int) error {
	return sc.setWei(ctx, volumeKey, wei)
}

// AddVolume adds a sale amount to the volume counter and returns the new
// total. Wei totals overflow Redis INCRBY's signed 64-bit range almost
// immediately (int64 max is ~9.2 ETH in wei), so this is a read-modify-write
// on a big-int string. A concurrent add can be lost; stats are advisory.
func (sc *StatsCache) AddVolume(ctx context.Context, wei *big.Int) (*big.Int, error) {
	if wei == nil {
		wei = new(big.Int)
	}

	current, err := sc.getWei(ctx, volumeKey)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = new(big.Int)
	}
	total := new(big.Int).Add(current, wei)
	if err := sc.setWei(ctx, volumeKey, total); err != nil {
		return nil, err
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)
