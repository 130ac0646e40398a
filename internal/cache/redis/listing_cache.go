package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/castmarket/fidmarket/internal/domain"
)

// ListingCache implements the per-fid read cache with JSON-serialized
// ListingView snapshots.
//
// Key schema:
//
//	listing:{fid} - string value containing JSON
//
// Entries have no TTL on purpose: the reconciler invalidates them explicitly
// on every list/buy/cancel for the fid, and a snapshot that outlives its
// listing's deadline is filtered out by the read path's activity check.
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

func listingKey(fid uint64) string {
	return "listing:" + strconv.FormatUint(fid, 10)
}

// Get retrieves the cached snapshot for a fid.
// It returns domain.ErrNotFound when the key does not exist.
func (lc *ListingCache) Get(ctx context.Context, fid uint64) (domain.ListingView, error) {
	data, err := lc.rdb.Get(ctx, listingKey(fid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ListingView{}, domain.ErrNotFound
		}
		return domain.ListingView{}, fmt.Errorf("redis: get listing %d: %w", fid, err)
	}

	var view domain.ListingView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.ListingView{}, fmt.Errorf("redis: unmarshal listing %d: %w", fid, err)
	}
	return view, nil
}

// Set stores a snapshot without an expiry.
func (lc *ListingCache) Set(ctx context.Context, view domain.ListingView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %d: %w", view.Fid, err)
	}
	if err := lc.rdb.Set(ctx, listingKey(view.Fid), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set listing %d: %w", view.Fid, err)
	}
	return nil
}

// Invalidate removes the snapshot for a fid. Deleting a missing key is fine.
func (lc *ListingCache) Invalidate(ctx context.Context, fid uint64) error {
	if err := lc.rdb.Del(ctx, listingKey(fid)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %d: %w", fid, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
