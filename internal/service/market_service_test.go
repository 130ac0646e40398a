package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmarket/fidmarket/internal/domain"
)

type marketFixture struct {
	svc       *MarketService
	fetcher   *fakeFetcher
	decoder   *fakeDecoder
	listings  *fakeListingStore
	offers    *fakeOfferStore
	ledger    *fakeLedger
	cache     *fakeListingCache
	stats     *fakeStatsCache
	publisher *capturingPublisher
}

func newMarketFixture() *marketFixture {
	f := &marketFixture{
		fetcher:   &fakeFetcher{receipts: make(map[common.Hash]*types.Receipt)},
		decoder:   &fakeDecoder{events: make(map[string][]domain.MarketEvent)},
		listings:  newFakeListingStore(),
		offers:    newFakeOfferStore(),
		ledger:    newFakeLedger(),
		cache:     newFakeListingCache(),
		stats:     &fakeStatsCache{},
		publisher: &capturingPublisher{},
	}
	logger := testLogger()
	prices := NewPriceService(&fakeOracle{price: decimal.NewFromInt(2000)}, &fakeSpotCache{}, time.Minute, logger)
	stats := NewStatsService(f.stats, f.listings, f.ledger, fakeLocks{}, prices, logger)
	f.svc = NewMarketService(f.fetcher, f.decoder, f.listings, f.offers, f.ledger, f.cache, stats, f.publisher, logger)
	return f
}

// stage makes a tx hash resolvable: the fetcher returns a receipt for it and
// the decoder yields the given events from that receipt.
func (f *marketFixture) stage(txHash string, events ...domain.MarketEvent) {
	hash := common.HexToHash(txHash)
	f.fetcher.receipts[hash] = &types.Receipt{TxHash: hash}
	f.decoder.events[hash.Hex()] = events
}

func futureDeadline() uint64 {
	return uint64(time.Now().Add(24 * time.Hour).Unix())
}

func TestListCreatesListing(t *testing.T) {
	f := newMarketFixture()
	hash := common.HexToHash("0xa1").Hex()
	f.stage(hash, domain.MarketEvent{
		Kind:     domain.EventListed,
		Fid:      42,
		TxHash:   hash,
		Owner:    "0xowner",
		Amount:   big.NewInt(5_000_000),
		Deadline: futureDeadline(),
	})

	listing, err := f.svc.List(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), listing.Fid)
	assert.Equal(t, "0xowner", listing.OwnerAddress)
	assert.Equal(t, domain.PadWei(big.NewInt(5_000_000)), listing.MinFee)
	assert.Nil(t, listing.CanceledAt)
	assert.True(t, listing.Active(time.Now().UTC()))

	has, err := f.ledger.Has(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, has)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, domain.EventListed, f.publisher.events[0].Kind)
}

func TestListIsIdempotent(t *testing.T) {
	f := newMarketFixture()
	hash := common.HexToHash("0xa2").Hex()
	f.stage(hash, domain.MarketEvent{
		Kind:     domain.EventListed,
		Fid:      7,
		TxHash:   hash,
		Owner:    "0xowner",
		Amount:   big.NewInt(100),
		Deadline: futureDeadline(),
	})

	first, err := f.svc.List(context.Background(), hash)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		again, err := f.svc.List(context.Background(), hash)
		require.NoError(t, err)
		assert.Equal(t, first.Fid, again.Fid)
		assert.Equal(t, first.MinFee, again.MinFee)
	}

	// Exactly one reconciliation: one ledger entry, one receipt fetch, one
	// broadcast.
	assert.Equal(t, 1, f.ledger.count())
	assert.Equal(t, 1, f.fetcher.calls)
	assert.Len(t, f.publisher.events, 1)
}

func TestRetryAfterArchivalStaysIdempotent(t *testing.T) {
	f := newMarketFixture()
	listHash := common.HexToHash("0xa7").Hex()
	buyHash := common.HexToHash("0xa8").Hex()
	f.stage(listHash, domain.MarketEvent{
		Kind: domain.EventListed, Fid: 9, TxHash: listHash,
		Owner: "0xowner", Amount: big.NewInt(100), Deadline: futureDeadline(),
	})
	f.stage(buyHash, domain.MarketEvent{
		Kind: domain.EventBought, Fid: 9, TxHash: buyHash,
		Buyer: "0xbuyer", Amount: big.NewInt(150),
	})

	_, err := f.svc.List(context.Background(), listHash)
	require.NoError(t, err)
	sold, err := f.svc.Buy(context.Background(), buyHash)
	require.NoError(t, err)
	require.NotNil(t, sold.CanceledAt)

	// Archive both ledger entries, then retry the original List txHash. The
	// guard must still recognize the hash: the stale Listed event must not
	// re-apply and resurrect the sold listing.
	marked, err := f.ledger.MarkArchivedBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), marked)

	fetches := f.fetcher.calls
	retried, err := f.svc.List(context.Background(), listHash)
	require.NoError(t, err)
	assert.NotNil(t, retried.CanceledAt)
	assert.False(t, retried.Active(time.Now().UTC()))
	assert.Equal(t, fetches, f.fetcher.calls)
	assert.Equal(t, 2, f.ledger.count())
}

func TestBuyRejectsReceiptWithoutBoughtEvent(t *testing.T) {
	f := newMarketFixture()
	hash := common.HexToHash("0xa3").Hex()
	// The receipt holds a Canceled event, so Buy must refuse it.
	f.stage(hash, domain.MarketEvent{
		Kind:   domain.EventCanceled,
		Fid:    9,
		TxHash: hash,
		Owner:  "0xowner",
	})

	_, err := f.svc.Buy(context.Background(), hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotInReceipt)

	var nir *domain.NotInReceiptError
	require.ErrorAs(t, err, &nir)
	assert.Equal(t, domain.EventBought, nir.Kind)

	// Nothing was recorded or broadcast.
	assert.Equal(t, 0, f.ledger.count())
	assert.Empty(t, f.publisher.events)
}

func TestBuyMarksListingSold(t *testing.T) {
	f := newMarketFixture()
	listHash := common.HexToHash("0xb1").Hex()
	buyHash := common.HexToHash("0xb2").Hex()
	f.stage(listHash, domain.MarketEvent{
		Kind: domain.EventListed, Fid: 3, TxHash: listHash,
		Owner: "0xowner", Amount: big.NewInt(1000), Deadline: futureDeadline(),
	})
	f.stage(buyHash, domain.MarketEvent{
		Kind: domain.EventBought, Fid: 3, TxHash: buyHash,
		Buyer: "0xbuyer", Amount: big.NewInt(1200),
	})

	_, err := f.svc.List(context.Background(), listHash)
	require.NoError(t, err)

	listing, err := f.svc.Buy(context.Background(), buyHash)
	require.NoError(t, err)
	require.NotNil(t, listing.CanceledAt)
	assert.Equal(t, buyHash, listing.LastTxHash)
	assert.False(t, listing.Active(time.Now().UTC()))

	// The sale flowed into the volume aggregate.
	volume, err := f.stats.TotalVolume(context.Background())
	require.NoError(t, err)
	require.NotNil(t, volume)
	assert.Equal(t, "1200", volume.Text(10))
}

func TestCancelInvalidatesCachedView(t *testing.T) {
	f := newMarketFixture()
	listHash := common.HexToHash("0xc1").Hex()
	cancelHash := common.HexToHash("0xc2").Hex()
	f.stage(listHash, domain.MarketEvent{
		Kind: domain.EventListed, Fid: 11, TxHash: listHash,
		Owner: "0xowner", Amount: big.NewInt(500), Deadline: futureDeadline(),
	})
	f.stage(cancelHash, domain.MarketEvent{
		Kind: domain.EventCanceled, Fid: 11, TxHash: cancelHash,
		Owner: "0xowner",
	})

	listing, err := f.svc.List(context.Background(), listHash)
	require.NoError(t, err)

	// Simulate a populated read cache for the fid.
	require.NoError(t, f.cache.Set(context.Background(), domain.ListingView{Fid: 11, Listing: &listing}))

	_, err = f.svc.Cancel(context.Background(), cancelHash)
	require.NoError(t, err)

	_, err = f.cache.Get(context.Background(), 11)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, f.cache.invalidated, uint64(11))
}

func TestRelistClearsCancellation(t *testing.T) {
	f := newMarketFixture()
	listHash := common.HexToHash("0xd1").Hex()
	cancelHash := common.HexToHash("0xd2").Hex()
	relistHash := common.HexToHash("0xd3").Hex()
	f.stage(listHash, domain.MarketEvent{
		Kind: domain.EventListed, Fid: 5, TxHash: listHash,
		Owner: "0xowner", Amount: big.NewInt(300), Deadline: futureDeadline(),
	})
	f.stage(cancelHash, domain.MarketEvent{
		Kind: domain.EventCanceled, Fid: 5, TxHash: cancelHash, Owner: "0xowner",
	})
	f.stage(relistHash, domain.MarketEvent{
		Kind: domain.EventListed, Fid: 5, TxHash: relistHash,
		Owner: "0xowner", Amount: big.NewInt(250), Deadline: futureDeadline(),
	})

	ctx := context.Background()
	_, err := f.svc.List(ctx, listHash)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, cancelHash)
	require.NoError(t, err)

	listing, err := f.svc.List(ctx, relistHash)
	require.NoError(t, err)
	assert.Nil(t, listing.CanceledAt)
	assert.Equal(t, domain.PadWei(big.NewInt(250)), listing.MinFee)
	assert.True(t, listing.Active(time.Now().UTC()))
}

func TestOfferLifecycle(t *testing.T) {
	f := newMarketFixture()
	offerHash := common.HexToHash("0xe1").Hex()
	approveHash := common.HexToHash("0xe2").Hex()
	f.stage(offerHash, domain.MarketEvent{
		Kind: domain.EventOfferMade, Fid: 8, TxHash: offerHash,
		Buyer: "0xbuyer", Amount: big.NewInt(900), Deadline: futureDeadline(),
	})
	f.stage(approveHash, domain.MarketEvent{
		Kind: domain.EventOfferApproved, Fid: 8, TxHash: approveHash,
		Buyer: "0xbuyer",
	})

	ctx := context.Background()
	offer, err := f.svc.Offer(ctx, offerHash)
	require.NoError(t, err)
	assert.Equal(t, "0xbuyer", offer.BuyerAddress)
	assert.Equal(t, domain.PadWei(big.NewInt(900)), offer.Amount)
	assert.Nil(t, offer.CanceledAt)

	offer, err = f.svc.ApproveOffer(ctx, approveHash)
	require.NoError(t, err)
	assert.NotNil(t, offer.CanceledAt)
}

func TestCancelOfferRequiresMatchingEvent(t *testing.T) {
	f := newMarketFixture()
	hash := common.HexToHash("0xe3").Hex()
	f.stage(hash, domain.MarketEvent{
		Kind: domain.EventOfferMade, Fid: 8, TxHash: hash,
		Buyer: "0xbuyer", Amount: big.NewInt(900), Deadline: futureDeadline(),
	})

	_, err := f.svc.CancelOffer(context.Background(), hash)
	assert.ErrorIs(t, err, domain.ErrNotInReceipt)
}

func TestFetchFailurePropagates(t *testing.T) {
	f := newMarketFixture()
	hash := common.HexToHash("0xf1").Hex()
	// Nothing staged: the fetcher exhausts its budget.

	_, err := f.svc.List(context.Background(), hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTxNotFound)

	var tnf *domain.TxNotFoundError
	require.ErrorAs(t, err, &tnf)
	assert.Equal(t, 120, tnf.Attempts)
	assert.Equal(t, 0, f.ledger.count())
}

func TestFirstMatchingEventWins(t *testing.T) {
	f := newMarketFixture()
	hash := common.HexToHash("0xf2").Hex()
	f.stage(hash,
		domain.MarketEvent{Kind: domain.EventCanceled, Fid: 2, TxHash: hash, Owner: "0xowner"},
		domain.MarketEvent{
			Kind: domain.EventListed, Fid: 2, TxHash: hash,
			Owner: "0xowner", Amount: big.NewInt(10), Deadline: futureDeadline(),
		},
		domain.MarketEvent{
			Kind: domain.EventListed, Fid: 2, TxHash: hash,
			Owner: "0xowner", Amount: big.NewInt(99), Deadline: futureDeadline(),
		},
	)

	listing, err := f.svc.List(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, domain.PadWei(big.NewInt(10)), listing.MinFee)
}
