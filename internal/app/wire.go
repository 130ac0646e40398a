package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/castmarket/fidmarket/internal/blob/s3"
	"github.com/castmarket/fidmarket/internal/cache/redis"
	"github.com/castmarket/fidmarket/internal/chain"
	"github.com/castmarket/fidmarket/internal/config"
	"github.com/castmarket/fidmarket/internal/domain"
	"github.com/castmarket/fidmarket/internal/platform/identity"
	"github.com/castmarket/fidmarket/internal/platform/oracle"
	"github.com/castmarket/fidmarket/internal/server/handler"
	"github.com/castmarket/fidmarket/internal/service"
	"github.com/castmarket/fidmarket/internal/store/postgres"
)

// Dependencies bundles everything the server and background loops need. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Listings domain.ListingStore
	Offers   domain.OfferStore
	Ledger   domain.EventLedgerStore

	// Caches
	ListingCache domain.ListingCache
	StatsCache   domain.StatsCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager

	// Services
	Market *service.MarketService
	Query  *service.QueryService
	Stats  *service.StatsService
	Prices *service.PriceService

	// Archival; nil unless archive.enabled.
	Archiver      *s3blob.LedgerArchiver
	ArchiveReader domain.ArchiveReader

	// Health probes by dependency name.
	HealthChecks map[string]handler.HealthCheckFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown. publisher may be nil when no live feed exists.
func Wire(ctx context.Context, cfg *config.Config, publisher domain.EventPublisher, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheckFunc),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Listings = postgres.NewListingStore(pool)
	deps.Offers = postgres.NewOfferStore(pool)
	deps.Ledger = postgres.NewEventLedgerStore(pool)
	deps.HealthChecks["postgres"] = pool.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.ListingCache = redis.NewListingCache(redisClient)
	deps.StatsCache = redis.NewStatsCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	spotCache := redis.NewSpotPriceCache(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- Ledger node ---
	eth, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, eth.Close)

	fetcher := chain.NewFetcher(eth, cfg.Chain.ReceiptPollInterval.Duration, cfg.Chain.ReceiptMaxAttempts, logger)
	decoder, err := chain.NewDecoder(common.HexToAddress(cfg.Chain.ContractAddress), logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: decoder: %w", err)
	}

	// --- External collaborators ---
	identityClient := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.APIKey)
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL)

	// --- Services ---
	deps.Prices = service.NewPriceService(oracleClient, spotCache, cfg.Oracle.SpotTTL.Duration, logger)
	deps.Stats = service.NewStatsService(deps.StatsCache, deps.Listings, deps.Ledger, deps.LockManager, deps.Prices, logger)
	deps.Market = service.NewMarketService(fetcher, decoder, deps.Listings, deps.Offers, deps.Ledger, deps.ListingCache, deps.Stats, publisher, logger)
	deps.Query = service.NewQueryService(deps.Listings, deps.ListingCache, identityClient, deps.Prices, logger)

	// --- Archival ---
	if cfg.Archive.Enabled {
		blobClient, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archive store: %w", err)
		}
		closers = append(closers, func() { _ = blobClient.Close() })

		deps.Archiver = s3blob.NewLedgerArchiver(s3blob.NewWriter(blobClient), deps.Ledger, logger)
		deps.ArchiveReader = s3blob.NewReader(blobClient)
		deps.HealthChecks["archive"] = blobClient.Health
	}

	return deps, cleanup, nil
}
