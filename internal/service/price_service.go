package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/castmarket/fidmarket/internal/domain"
)

// SpotSource is the external price-oracle collaborator.
type SpotSource interface {
	SpotPrice(ctx context.Context) (decimal.Decimal, error)
}

// weiPerEth converts between wei and whole-coin units.
var weiPerEth = decimal.NewFromBigInt(big.NewInt(1), 18)

// PriceService answers "what is this wei amount worth in USD" using a
// short-TTL cached oracle spot price. Oracle failures degrade to a zero
// price: fiat display is never worth failing a read for.
type PriceService struct {
	oracle SpotSource
	cache  domain.SpotPriceCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewPriceService creates a PriceService. ttl bounds how stale the cached
// spot price may get.
func NewPriceService(oracle SpotSource, cache domain.SpotPriceCache, ttl time.Duration, logger *slog.Logger) *PriceService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceService{
		oracle: oracle,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// SpotUSD returns the current ETH/USD price, cache-aside. On a cache miss
// it consults the oracle and repopulates the cache. A zero price with nil
// error means the oracle is unreachable and callers should render "unknown".
func (s *PriceService) SpotUSD(ctx context.Context) decimal.Decimal {
	price, err := s.cache.Get(ctx)
	if err == nil {
		return price
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "price_service: spot cache read failed",
			slog.String("error", err.Error()),
		)
	}

	price, err = s.oracle.SpotPrice(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "price_service: oracle unavailable",
			slog.String("error", err.Error()),
		)
		return decimal.Zero
	}

	if err := s.cache.Set(ctx, price, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "price_service: spot cache write failed",
			slog.String("error", err.Error()),
		)
	}
	return price
}

// WeiToUSD converts an exact wei amount to USD at the current spot price.
func (s *PriceService) WeiToUSD(ctx context.Context, wei *big.Int) decimal.Decimal {
	if wei == nil || wei.Sign() == 0 {
		return decimal.Zero
	}
	spot := s.SpotUSD(ctx)
	if spot.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEth).Mul(spot)
}

// PaddedWeiToUSD converts a zero-padded wei string; malformed input yields a
// zero price rather than an error.
func (s *PriceService) PaddedWeiToUSD(ctx context.Context, padded string) decimal.Decimal {
	wei, ok := domain.UnpadWei(padded)
	if !ok {
		return decimal.Zero
	}
	return s.WeiToUSD(ctx, wei)
}
