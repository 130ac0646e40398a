package service

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/castmarket/fidmarket/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ---------------------------------------------------------------------------
// Stores
// ---------------------------------------------------------------------------

type fakeListingStore struct {
	mu       sync.Mutex
	listings map[uint64]domain.Listing
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{listings: make(map[uint64]domain.Listing)}
}

func (f *fakeListingStore) Upsert(_ context.Context, l domain.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := f.listings[l.Fid]; ok {
		l.CreatedAt = existing.CreatedAt
	} else {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	f.listings[l.Fid] = l
	return nil
}

func (f *fakeListingStore) SetCanceled(_ context.Context, fid uint64, at time.Time, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[fid]
	if !ok {
		return nil
	}
	l.CanceledAt = &at
	l.LastTxHash = txHash
	l.UpdatedAt = time.Now().UTC()
	f.listings[fid] = l
	return nil
}

func (f *fakeListingStore) GetByFid(_ context.Context, fid uint64) (domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[fid]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (f *fakeListingStore) GetByFids(_ context.Context, fids []uint64) (map[uint64]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]domain.Listing)
	for _, fid := range fids {
		if l, ok := f.listings[fid]; ok {
			out[fid] = l
		}
	}
	return out, nil
}

func (f *fakeListingStore) ListActive(_ context.Context, q domain.ActiveQuery) ([]domain.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []domain.Listing
	for _, l := range f.listings {
		if l.Active(q.Now) {
			active = append(active, l)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].MinFee != active[j].MinFee {
			if q.Sort == domain.SortFeeDesc {
				return active[i].MinFee > active[j].MinFee
			}
			return active[i].MinFee < active[j].MinFee
		}
		return active[i].Fid < active[j].Fid
	})
	if q.Offset >= len(active) {
		return nil, nil
	}
	active = active[q.Offset:]
	if q.Limit > 0 && len(active) > q.Limit {
		active = active[:q.Limit]
	}
	return active, nil
}

func (f *fakeListingStore) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.listings)), nil
}

type fakeOfferStore struct {
	mu     sync.Mutex
	offers map[uint64]domain.Offer
}

func newFakeOfferStore() *fakeOfferStore {
	return &fakeOfferStore{offers: make(map[uint64]domain.Offer)}
}

func (f *fakeOfferStore) Upsert(_ context.Context, o domain.Offer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.UpdatedAt = time.Now().UTC()
	f.offers[o.Fid] = o
	return nil
}

func (f *fakeOfferStore) SetCanceled(_ context.Context, fid uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[fid]
	if !ok {
		return nil
	}
	o.CanceledAt = &at
	f.offers[fid] = o
	return nil
}

func (f *fakeOfferStore) GetByFid(_ context.Context, fid uint64) (domain.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[fid]
	if !ok {
		return domain.Offer{}, domain.ErrNotFound
	}
	return o, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	entries  map[string]domain.LedgerEntry
	archived map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries:  make(map[string]domain.LedgerEntry),
		archived: make(map[string]bool),
	}
}

func (f *fakeLedger) Has(_ context.Context, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[txHash]
	return ok, nil
}

func (f *fakeLedger) Record(_ context.Context, e domain.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[e.TxHash]; ok {
		return nil // existing record wins
	}
	e.RecordedAt = time.Now().UTC()
	f.entries[e.TxHash] = e
	return nil
}

func (f *fakeLedger) Get(_ context.Context, txHash string) (domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[txHash]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeLedger) ListSalesSince(_ context.Context, since time.Time) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range f.entries {
		if e.EventType == domain.EventBought && !e.RecordedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for hash, e := range f.entries {
		if e.RecordedAt.Before(cutoff) && !f.archived[hash] {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkArchivedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for hash, e := range f.entries {
		if e.RecordedAt.Before(cutoff) && !f.archived[hash] {
			f.archived[hash] = true
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// ---------------------------------------------------------------------------
// Caches
// ---------------------------------------------------------------------------

type fakeListingCache struct {
	mu          sync.Mutex
	views       map[uint64]domain.ListingView
	invalidated []uint64
}

func newFakeListingCache() *fakeListingCache {
	return &fakeListingCache{views: make(map[uint64]domain.ListingView)}
}

func (f *fakeListingCache) Get(_ context.Context, fid uint64) (domain.ListingView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[fid]
	if !ok {
		return domain.ListingView{}, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeListingCache) Set(_ context.Context, view domain.ListingView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[view.Fid] = view
	return nil
}

func (f *fakeListingCache) Invalidate(_ context.Context, fid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.views, fid)
	f.invalidated = append(f.invalidated, fid)
	return nil
}

type fakeStatsCache struct {
	mu      sync.Mutex
	floor   *big.Int
	highest *big.Int
	volume  *big.Int
}

func (f *fakeStatsCache) FloorPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneBig(f.floor), nil
}

func (f *fakeStatsCache) SetFloorPrice(_ context.Context, wei *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.floor = cloneBig(wei)
	return nil
}

func (f *fakeStatsCache) HighestSale(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneBig(f.highest), nil
}

func (f *fakeStatsCache) SetHighestSale(_ context.Context, wei *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highest = cloneBig(wei)
	return nil
}

func (f *fakeStatsCache) TotalVolume(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneBig(f.volume), nil
}

func (f *fakeStatsCache) SetTotalVolume(_ context.Context, wei *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = cloneBig(wei)
	return nil
}

func (f *fakeStatsCache) AddVolume(_ context.Context, wei *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volume == nil {
		f.volume = new(big.Int)
	}
	f.volume = new(big.Int).Add(f.volume, wei)
	return cloneBig(f.volume), nil
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

type fakeSpotCache struct {
	mu    sync.Mutex
	price *decimal.Decimal
}

func (f *fakeSpotCache) Get(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.price == nil {
		return decimal.Zero, domain.ErrNotFound
	}
	return *f.price, nil
}

func (f *fakeSpotCache) Set(_ context.Context, price decimal.Decimal, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = &price
	return nil
}

type fakeLocks struct{}

func (fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

type fakeOracle struct {
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeOracle) SpotPrice(context.Context) (decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.price, nil
}

type fakeIdentity struct {
	profiles map[uint64]domain.Profile
	latest   uint64
	matches  []domain.Profile
}

func (f *fakeIdentity) SearchByMatch(_ context.Context, _ string, limit int) ([]domain.Profile, error) {
	if len(f.matches) > limit {
		return f.matches[:limit], nil
	}
	return f.matches, nil
}

func (f *fakeIdentity) ProfileByFid(_ context.Context, fid uint64) (domain.Profile, error) {
	p, ok := f.profiles[fid]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeIdentity) ProfilesByFids(_ context.Context, fids []uint64) (map[uint64]domain.Profile, error) {
	out := make(map[uint64]domain.Profile)
	for _, fid := range fids {
		if p, ok := f.profiles[fid]; ok {
			out[fid] = p
		}
	}
	return out, nil
}

func (f *fakeIdentity) LatestFid(context.Context) (uint64, error) {
	return f.latest, nil
}

// ---------------------------------------------------------------------------
// Chain boundary
// ---------------------------------------------------------------------------

type fakeFetcher struct {
	receipts map[common.Hash]*types.Receipt
	calls    int
}

func (f *fakeFetcher) FetchReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.calls++
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, &domain.TxNotFoundError{TxHash: txHash.Hex(), Attempts: 120}
	}
	return r, nil
}

type fakeDecoder struct {
	events map[string][]domain.MarketEvent // keyed by tx hash hex
}

func (f *fakeDecoder) DecodeReceipt(receipt *types.Receipt) []domain.MarketEvent {
	return f.events[receipt.TxHash.Hex()]
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (p *capturingPublisher) Publish(_ context.Context, ev domain.MarketEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}
