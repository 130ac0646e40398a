package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/castmarket/fidmarket/internal/domain"
)

// rebuildLockKey serializes stats rebuilds across processes.
const rebuildLockKey = "stats:rebuild"

// StatsService maintains the best-effort marketplace aggregates: floor
// price, highest sale, and total volume. Observe is fire-and-forget — every
// failure is logged and swallowed so aggregate upkeep can never fail the
// reconciliation that triggered it.
type StatsService struct {
	cache    domain.StatsCache
	listings domain.ListingStore
	ledger   domain.EventLedgerStore
	locks    domain.LockManager
	prices   *PriceService
	logger   *slog.Logger
}

// NewStatsService creates a StatsService with all required dependencies.
func NewStatsService(
	cache domain.StatsCache,
	listings domain.ListingStore,
	ledger domain.EventLedgerStore,
	locks domain.LockManager,
	prices *PriceService,
	logger *slog.Logger,
) *StatsService {
	return &StatsService{
		cache:    cache,
		listings: listings,
		ledger:   ledger,
		locks:    locks,
		prices:   prices,
		logger:   logger,
	}
}

// Observe updates the cached aggregates for a reconciled event. Listed may
// lower the floor, never raise it; Bought may raise the highest sale and
// always adds to total volume. Cancellations do not recompute the floor —
// the cached value can go stale low until the next Rebuild, a documented
// limitation.
func (s *StatsService) Observe(ctx context.Context, ev domain.MarketEvent) {
	var err error
	switch ev.Kind {
	case domain.EventListed:
		err = s.observeListed(ctx, ev.Amount)
	case domain.EventBought:
		err = s.observeBought(ctx, ev.Amount)
	case domain.EventCanceled, domain.EventOfferMade, domain.EventOfferCanceled, domain.EventOfferApproved:
		// No aggregate is derived from these.
	}
	if err != nil {
		s.logger.WarnContext(ctx, "stats: update failed",
			slog.String("tx_hash", ev.TxHash),
			slog.Uint64("fid", ev.Fid),
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *StatsService) observeListed(ctx context.Context, fee *big.Int) error {
	if fee == nil {
		return nil
	}
	floor, err := s.cache.FloorPrice(ctx)
	if err != nil {
		return err
	}
	if floor == nil || fee.Cmp(floor) < 0 {
		return s.cache.SetFloorPrice(ctx, fee)
	}
	return nil
}

func (s *StatsService) observeBought(ctx context.Context, amount *big.Int) error {
	if amount == nil {
		return nil
	}
	highest, err := s.cache.HighestSale(ctx)
	if err != nil {
		return err
	}
	if highest == nil || amount.Cmp(highest) > 0 {
		if err := s.cache.SetHighestSale(ctx, amount); err != nil {
			return err
		}
	}
	_, err = s.cache.AddVolume(ctx, amount)
	return err
}

// GetStats returns the cached aggregates, each denominated in both wei and
// USD at the current spot price. Unset scalars read as zero.
func (s *StatsService) GetStats(ctx context.Context) (domain.Stats, error) {
	floor, err := s.cache.FloorPrice(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	highest, err := s.cache.HighestSale(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	volume, err := s.cache.TotalVolume(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	return domain.Stats{
		FloorPrice:  s.amount(ctx, floor),
		HighestSale: s.amount(ctx, highest),
		TotalVolume: s.amount(ctx, volume),
	}, nil
}

func (s *StatsService) amount(ctx context.Context, wei *big.Int) domain.Amount {
	if wei == nil {
		wei = new(big.Int)
	}
	return domain.Amount{
		Wei: wei.Text(10),
		USD: s.prices.WeiToUSD(ctx, wei),
	}
}

// Rebuild recomputes all three aggregates from the authoritative
// collections: the floor from the cheapest active listing, highest sale and
// volume from the sale entries in the event ledger. It is the operator
// remedy for floor staleness and for cache loss; a distributed lock makes
// sure only one process rebuilds at a time.
func (s *StatsService) Rebuild(ctx context.Context) error {
	unlock, err := s.locks.Acquire(ctx, rebuildLockKey, 2*time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.InfoContext(ctx, "stats: rebuild already in progress elsewhere")
			return nil
		}
		return err
	}
	defer unlock()

	// Floor: the cheapest currently active listing, or zero when none exist.
	cheapest, err := s.listings.ListActive(ctx, domain.ActiveQuery{
		Sort:  domain.SortFeeAsc,
		Limit: 1,
		Now:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	floor := new(big.Int)
	if len(cheapest) > 0 {
		if fee, ok := domain.UnpadWei(cheapest[0].MinFee); ok {
			floor = fee
		}
	}
	if err := s.cache.SetFloorPrice(ctx, floor); err != nil {
		return err
	}

	// Highest sale and volume from the full sale history.
	sales, err := s.ledger.ListSalesSince(ctx, time.Time{})
	if err != nil {
		return err
	}
	highest := new(big.Int)
	volume := new(big.Int)
	for _, sale := range sales {
		amount, ok := domain.UnpadWei(sale.Amount)
		if !ok {
			continue
		}
		if amount.Cmp(highest) > 0 {
			highest.Set(amount)
		}
		volume.Add(volume, amount)
	}
	if err := s.cache.SetHighestSale(ctx, highest); err != nil {
		return err
	}
	// Overwrites the counter wholesale; a concurrent Observe between the
	// scan and this write is absorbed into the approximation.
	if err := s.cache.SetTotalVolume(ctx, volume); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "stats: rebuild complete",
		slog.String("floor_wei", floor.Text(10)),
		slog.String("highest_wei", highest.Text(10)),
		slog.String("volume_wei", volume.Text(10)),
		slog.Int("sales", len(sales)),
	)
	return nil
}
