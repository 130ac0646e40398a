package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/castmarket/fidmarket/internal/domain"
)

const (
	// defaultPollInterval is how long the fetcher waits between receipt
	// lookups while a transaction is still pending.
	defaultPollInterval = time.Second

	// defaultMaxAttempts bounds the polling budget (~2 minutes at 1s).
	defaultMaxAttempts = 120
)

// Fetcher polls the ledger node for a transaction receipt until it appears
// or the attempt budget is exhausted. It has no side effects beyond the
// network call and is safe to invoke repeatedly and concurrently for the
// same hash.
type Fetcher struct {
	rpc      ReceiptSource
	interval time.Duration
	attempts int
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher with the given polling parameters. Zero
// values fall back to the defaults (1s interval, 120 attempts).
func NewFetcher(rpc ReceiptSource, interval time.Duration, attempts int, logger *slog.Logger) *Fetcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Fetcher{
		rpc:      rpc,
		interval: interval,
		attempts: attempts,
		logger:   logger,
	}
}

// FetchReceipt returns the receipt for txHash as soon as the node reports
// one. It polls once per interval for at most the configured number of
// attempts. Exhausting the budget on ethereum.NotFound surfaces a
// domain.TxNotFoundError; exhausting it on transport failures wraps
// domain.ErrUpstream so callers can tell a pending transaction from an
// unreachable node. Context cancellation aborts early.
func (f *Fetcher) FetchReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var upstreamErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		receipt, err := f.rpc.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// ethereum.NotFound is the expected pending case; anything else is
		// a node problem, still retried within the budget but remembered so
		// exhaustion reports the right failure.
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			upstreamErr = err
			f.logger.DebugContext(ctx, "chain: receipt poll failed",
				slog.String("tx_hash", txHash.Hex()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else {
			upstreamErr = nil
		}
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.interval):
		}
	}

	if upstreamErr != nil {
		f.logger.WarnContext(ctx, "chain: node unreachable",
			slog.String("tx_hash", txHash.Hex()),
			slog.Int("attempts", f.attempts),
			slog.String("error", upstreamErr.Error()),
		)
		return nil, fmt.Errorf("chain: fetch receipt %s: %w: %v", txHash.Hex(), domain.ErrUpstream, upstreamErr)
	}

	f.logger.WarnContext(ctx, "chain: receipt never materialized",
		slog.String("tx_hash", txHash.Hex()),
		slog.Int("attempts", f.attempts),
	)
	return nil, &domain.TxNotFoundError{TxHash: txHash.Hex(), Attempts: f.attempts}
}
