package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmarket/fidmarket/internal/domain"
)

type statsFixture struct {
	svc      *StatsService
	cache    *fakeStatsCache
	listings *fakeListingStore
	ledger   *fakeLedger
}

func newStatsFixture(spot decimal.Decimal) *statsFixture {
	f := &statsFixture{
		cache:    &fakeStatsCache{},
		listings: newFakeListingStore(),
		ledger:   newFakeLedger(),
	}
	logger := testLogger()
	prices := NewPriceService(&fakeOracle{price: spot}, &fakeSpotCache{}, time.Minute, logger)
	f.svc = NewStatsService(f.cache, f.listings, f.ledger, fakeLocks{}, prices, logger)
	return f
}

func listedEvent(fid uint64, wei int64) domain.MarketEvent {
	return domain.MarketEvent{Kind: domain.EventListed, Fid: fid, Amount: big.NewInt(wei)}
}

func boughtEvent(fid uint64, wei int64) domain.MarketEvent {
	return domain.MarketEvent{Kind: domain.EventBought, Fid: fid, Amount: big.NewInt(wei)}
}

func TestFloorOnlyDecreases(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	f.svc.Observe(ctx, listedEvent(1, 100))
	floor, err := f.cache.FloorPrice(ctx)
	require.NoError(t, err)
	require.NotNil(t, floor)
	assert.Equal(t, "100", floor.Text(10))

	// A cheaper listing lowers the floor.
	f.svc.Observe(ctx, listedEvent(2, 50))
	floor, _ = f.cache.FloorPrice(ctx)
	assert.Equal(t, "50", floor.Text(10))

	// A pricier listing does not raise it.
	f.svc.Observe(ctx, listedEvent(3, 80))
	floor, _ = f.cache.FloorPrice(ctx)
	assert.Equal(t, "50", floor.Text(10))
}

func TestVolumeAccumulates(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	f.svc.Observe(ctx, boughtEvent(1, 10))
	f.svc.Observe(ctx, boughtEvent(2, 15))

	volume, err := f.cache.TotalVolume(ctx)
	require.NoError(t, err)
	require.NotNil(t, volume)
	assert.Equal(t, "25", volume.Text(10))
}

func TestHighestSaleOnlyIncreases(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	f.svc.Observe(ctx, boughtEvent(1, 500))
	f.svc.Observe(ctx, boughtEvent(2, 300))

	highest, err := f.cache.HighestSale(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500", highest.Text(10))

	f.svc.Observe(ctx, boughtEvent(3, 900))
	highest, _ = f.cache.HighestSale(ctx)
	assert.Equal(t, "900", highest.Text(10))
}

func TestNonAggregateEventsIgnored(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	for _, kind := range []domain.EventKind{
		domain.EventCanceled,
		domain.EventOfferMade,
		domain.EventOfferCanceled,
		domain.EventOfferApproved,
	} {
		f.svc.Observe(ctx, domain.MarketEvent{Kind: kind, Fid: 1, Amount: big.NewInt(1000)})
	}

	floor, _ := f.cache.FloorPrice(ctx)
	assert.Nil(t, floor)
	volume, _ := f.cache.TotalVolume(ctx)
	assert.Nil(t, volume)
}

func TestFloorStaysStaleAfterCancel(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	f.svc.Observe(ctx, listedEvent(1, 40))
	f.svc.Observe(ctx, domain.MarketEvent{Kind: domain.EventCanceled, Fid: 1})

	// Cancellation does not recompute the floor; Rebuild is the remedy.
	floor, _ := f.cache.FloorPrice(ctx)
	require.NotNil(t, floor)
	assert.Equal(t, "40", floor.Text(10))
}

func TestGetStatsDenominatesUSD(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	f := newStatsFixture(decimal.NewFromInt(2000))
	ctx := context.Background()

	require.NoError(t, f.cache.SetFloorPrice(ctx, oneEth))
	require.NoError(t, f.cache.SetHighestSale(ctx, new(big.Int).Mul(oneEth, big.NewInt(3))))
	require.NoError(t, f.cache.SetTotalVolume(ctx, new(big.Int).Mul(oneEth, big.NewInt(10))))

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, oneEth.Text(10), stats.FloorPrice.Wei)
	assert.True(t, stats.FloorPrice.USD.Equal(decimal.NewFromInt(2000)))
	assert.True(t, stats.HighestSale.USD.Equal(decimal.NewFromInt(6000)))
	assert.True(t, stats.TotalVolume.USD.Equal(decimal.NewFromInt(20000)))
}

func TestGetStatsZeroWhenUnset(t *testing.T) {
	f := newStatsFixture(decimal.Zero)

	stats, err := f.svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", stats.FloorPrice.Wei)
	assert.Equal(t, "0", stats.HighestSale.Wei)
	assert.Equal(t, "0", stats.TotalVolume.Wei)
}

func TestRebuildRecomputesFromSources(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	// Stale aggregates left over from earlier activity.
	require.NoError(t, f.cache.SetFloorPrice(ctx, big.NewInt(5)))
	require.NoError(t, f.cache.SetTotalVolume(ctx, big.NewInt(999999)))

	deadline := uint64(time.Now().Add(time.Hour).Unix())
	require.NoError(t, f.listings.Upsert(ctx, domain.Listing{
		Fid: 1, MinFee: domain.PadWei(big.NewInt(70)), Deadline: deadline,
	}))
	require.NoError(t, f.listings.Upsert(ctx, domain.Listing{
		Fid: 2, MinFee: domain.PadWei(big.NewInt(30)), Deadline: deadline,
	}))

	require.NoError(t, f.ledger.Record(ctx, domain.LedgerEntry{
		TxHash: "0x1", EventType: domain.EventBought, Fid: 1, Amount: domain.PadWei(big.NewInt(120)),
	}))
	require.NoError(t, f.ledger.Record(ctx, domain.LedgerEntry{
		TxHash: "0x2", EventType: domain.EventBought, Fid: 2, Amount: domain.PadWei(big.NewInt(80)),
	}))

	require.NoError(t, f.svc.Rebuild(ctx))

	floor, _ := f.cache.FloorPrice(ctx)
	assert.Equal(t, "30", floor.Text(10))
	highest, _ := f.cache.HighestSale(ctx)
	assert.Equal(t, "120", highest.Text(10))
	volume, _ := f.cache.TotalVolume(ctx)
	assert.Equal(t, "200", volume.Text(10))
}

func TestRebuildWithEmptySources(t *testing.T) {
	f := newStatsFixture(decimal.Zero)
	ctx := context.Background()

	require.NoError(t, f.svc.Rebuild(ctx))

	floor, _ := f.cache.FloorPrice(ctx)
	require.NotNil(t, floor)
	assert.Equal(t, "0", floor.Text(10))
}
