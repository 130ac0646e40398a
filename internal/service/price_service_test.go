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

func TestSpotUSDCachesOracleResult(t *testing.T) {
	oracle := &fakeOracle{price: decimal.NewFromInt(1800)}
	svc := NewPriceService(oracle, &fakeSpotCache{}, time.Minute, testLogger())

	ctx := context.Background()
	price := svc.SpotUSD(ctx)
	assert.True(t, price.Equal(decimal.NewFromInt(1800)))

	// Second read comes from the cache.
	svc.SpotUSD(ctx)
	assert.Equal(t, 1, oracle.calls)
}

func TestSpotUSDDegradesToZero(t *testing.T) {
	oracle := &fakeOracle{err: domain.ErrUpstream}
	svc := NewPriceService(oracle, &fakeSpotCache{}, time.Minute, testLogger())

	price := svc.SpotUSD(context.Background())
	assert.True(t, price.IsZero())
}

func TestWeiToUSD(t *testing.T) {
	oracle := &fakeOracle{price: decimal.NewFromInt(2000)}
	svc := NewPriceService(oracle, &fakeSpotCache{}, time.Minute, testLogger())

	halfEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	halfEth.Mul(halfEth, big.NewInt(5))

	usd := svc.WeiToUSD(context.Background(), halfEth)
	assert.True(t, usd.Equal(decimal.NewFromInt(1000)))
}

func TestPaddedWeiToUSD(t *testing.T) {
	oracle := &fakeOracle{price: decimal.NewFromInt(2000)}
	svc := NewPriceService(oracle, &fakeSpotCache{}, time.Minute, testLogger())

	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	usd := svc.PaddedWeiToUSD(context.Background(), domain.PadWei(oneEth))
	assert.True(t, usd.Equal(decimal.NewFromInt(2000)))

	require.True(t, svc.PaddedWeiToUSD(context.Background(), "not-a-number").IsZero())
}
