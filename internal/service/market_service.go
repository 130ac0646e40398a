package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/castmarket/fidmarket/internal/domain"
)

// ReceiptFetcher polls the ledger node until a transaction's receipt exists.
type ReceiptFetcher interface {
	FetchReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EventDecoder extracts marketplace events from a receipt's logs.
type EventDecoder interface {
	DecodeReceipt(receipt *types.Receipt) []domain.MarketEvent
}

// MarketService reconciles observed on-chain transactions into the derived
// listing/offer store. Every operation takes a transaction hash, verifies
// through the event ledger that it has not been applied before, and applies
// exactly one state transition for the expected event kind. Calling any
// operation again with the same hash returns the current entity state
// without re-running decode or reconcile.
type MarketService struct {
	fetcher   ReceiptFetcher
	decoder   EventDecoder
	listings  domain.ListingStore
	offers    domain.OfferStore
	ledger    domain.EventLedgerStore
	cache     domain.ListingCache
	stats     *StatsService
	publisher domain.EventPublisher
	logger    *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
// publisher may be nil when no live subscribers exist.
func NewMarketService(
	fetcher ReceiptFetcher,
	decoder EventDecoder,
	listings domain.ListingStore,
	offers domain.OfferStore,
	ledger domain.EventLedgerStore,
	cache domain.ListingCache,
	stats *StatsService,
	publisher domain.EventPublisher,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		fetcher:   fetcher,
		decoder:   decoder,
		listings:  listings,
		offers:    offers,
		ledger:    ledger,
		cache:     cache,
		stats:     stats,
		publisher: publisher,
		logger:    logger,
	}
}

// List reconciles a Listed transaction and returns the resulting listing.
func (s *MarketService) List(ctx context.Context, txHash string) (domain.Listing, error) {
	return s.listingOp(ctx, txHash, domain.EventListed)
}

// Buy reconciles a Bought transaction. The sale removes the listing from the
// active set by stamping canceled_at.
func (s *MarketService) Buy(ctx context.Context, txHash string) (domain.Listing, error) {
	return s.listingOp(ctx, txHash, domain.EventBought)
}

// Cancel reconciles a Canceled transaction.
func (s *MarketService) Cancel(ctx context.Context, txHash string) (domain.Listing, error) {
	return s.listingOp(ctx, txHash, domain.EventCanceled)
}

// Offer reconciles an OfferMade transaction and returns the resulting offer.
func (s *MarketService) Offer(ctx context.Context, txHash string) (domain.Offer, error) {
	return s.offerOp(ctx, txHash, domain.EventOfferMade)
}

// CancelOffer reconciles an OfferCanceled transaction.
func (s *MarketService) CancelOffer(ctx context.Context, txHash string) (domain.Offer, error) {
	return s.offerOp(ctx, txHash, domain.EventOfferCanceled)
}

// ApproveOffer reconciles an OfferApproved transaction. Approval consumes
// the offer, so it too ends with canceled_at set.
func (s *MarketService) ApproveOffer(ctx context.Context, txHash string) (domain.Offer, error) {
	return s.offerOp(ctx, txHash, domain.EventOfferApproved)
}

func (s *MarketService) listingOp(ctx context.Context, txHash string, kind domain.EventKind) (domain.Listing, error) {
	ev, processedFid, done, err := s.resolveEvent(ctx, txHash, kind)
	if err != nil {
		return domain.Listing{}, err
	}
	if done {
		return s.listings.GetByFid(ctx, processedFid)
	}

	now := time.Now().UTC()
	switch kind {
	case domain.EventListed:
		err = s.listings.Upsert(ctx, domain.Listing{
			Fid:          ev.Fid,
			OwnerAddress: ev.Owner,
			MinFee:       domain.PadWei(ev.Amount),
			Deadline:     ev.Deadline,
			CanceledAt:   nil,
			LastTxHash:   ev.TxHash,
		})
	case domain.EventCanceled, domain.EventBought:
		err = s.listings.SetCanceled(ctx, ev.Fid, now, ev.TxHash)
	}
	if err != nil {
		s.logError(ctx, "reconcile listing", ev, err)
		return domain.Listing{}, err
	}

	s.finish(ctx, ev)

	return s.listings.GetByFid(ctx, ev.Fid)
}

func (s *MarketService) offerOp(ctx context.Context, txHash string, kind domain.EventKind) (domain.Offer, error) {
	ev, processedFid, done, err := s.resolveEvent(ctx, txHash, kind)
	if err != nil {
		return domain.Offer{}, err
	}
	if done {
		return s.offers.GetByFid(ctx, processedFid)
	}

	now := time.Now().UTC()
	switch kind {
	case domain.EventOfferMade:
		err = s.offers.Upsert(ctx, domain.Offer{
			Fid:          ev.Fid,
			BuyerAddress: ev.Buyer,
			Amount:       domain.PadWei(ev.Amount),
			Deadline:     ev.Deadline,
			CanceledAt:   nil,
		})
	case domain.EventOfferCanceled, domain.EventOfferApproved:
		err = s.offers.SetCanceled(ctx, ev.Fid, now)
	}
	if err != nil {
		s.logError(ctx, "reconcile offer", ev, err)
		return domain.Offer{}, err
	}

	s.finish(ctx, ev)

	return s.offers.GetByFid(ctx, ev.Fid)
}

// resolveEvent runs the shared front half of every operation: the
// idempotency check, the receipt fetch, and the decode. When the hash is
// already in the ledger it returns done=true with the recorded fid so the
// caller can read back the current entity state.
func (s *MarketService) resolveEvent(ctx context.Context, txHash string, kind domain.EventKind) (domain.MarketEvent, uint64, bool, error) {
	processed, err := s.ledger.Has(ctx, txHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "market: idempotency check failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return domain.MarketEvent{}, 0, false, err
	}
	if processed {
		entry, err := s.ledger.Get(ctx, txHash)
		if err != nil {
			return domain.MarketEvent{}, 0, false, err
		}
		s.logger.InfoContext(ctx, "market: transaction already reconciled",
			slog.String("tx_hash", txHash),
			slog.Uint64("fid", entry.Fid),
		)
		return domain.MarketEvent{}, entry.Fid, true, nil
	}

	receipt, err := s.fetcher.FetchReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		s.logger.ErrorContext(ctx, "market: receipt fetch failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return domain.MarketEvent{}, 0, false, err
	}

	events := s.decoder.DecodeReceipt(receipt)
	ev, ok := domain.FirstOfKind(events, kind)
	if !ok {
		err := &domain.NotInReceiptError{TxHash: txHash, Kind: kind}
		s.logger.WarnContext(ctx, "market: expected event missing from receipt",
			slog.String("tx_hash", txHash),
			slog.String("expected", string(kind)),
			slog.Int("decoded_events", len(events)),
		)
		return domain.MarketEvent{}, 0, false, err
	}

	return ev, 0, false, nil
}

// finish runs the shared back half after a successful state transition: the
// ledger record, the per-fid cache invalidation, the aggregate update, and
// the live broadcast. Only the ledger write can fail the operation — the
// rest is best-effort.
func (s *MarketService) finish(ctx context.Context, ev domain.MarketEvent) {
	entry := domain.LedgerEntry{
		TxHash:       ev.TxHash,
		EventType:    ev.Kind,
		Fid:          ev.Fid,
		Counterparty: ev.Counterparty(),
		Amount:       domain.PadWei(ev.Amount),
	}
	if err := s.ledger.Record(ctx, entry); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		// A failed record means a retry will re-apply; the upserts make that
		// harmless, so log loudly but do not fail the operation.
		s.logError(ctx, "ledger record", ev, err)
	}

	if err := s.cache.Invalidate(ctx, ev.Fid); err != nil {
		s.logError(ctx, "cache invalidate", ev, err)
	}

	s.stats.Observe(ctx, ev)

	if s.publisher != nil {
		s.publisher.Publish(ctx, ev)
	}
}

func (s *MarketService) logError(ctx context.Context, op string, ev domain.MarketEvent, err error) {
	s.logger.ErrorContext(ctx, "market: "+op+" failed",
		slog.String("tx_hash", ev.TxHash),
		slog.Uint64("fid", ev.Fid),
		slog.String("event", string(ev.Kind)),
		slog.String("error", err.Error()),
	)
}
