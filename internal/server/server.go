// Package server assembles the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/castmarket/fidmarket/internal/domain"
	"github.com/castmarket/fidmarket/internal/server/handler"
	"github.com/castmarket/fidmarket/internal/server/middleware"
	"github.com/castmarket/fidmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit is requests per client per RateWindow; zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates everything the server routes to. Archive may be nil
// when archival is not configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Market   *handler.MarketHandler
	Listings *handler.ListingsHandler
	Stats    *handler.StatsHandler
	Archive  *handler.ArchiveHandler
}

// Server is the API front end: reconciliation writes, the listing read
// path, aggregates, and the live event feed.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// may be nil to skip rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Reconciliation operations.
	mux.HandleFunc("POST /api/market/list", handlers.Market.List)
	mux.HandleFunc("POST /api/market/buy", handlers.Market.Buy)
	mux.HandleFunc("POST /api/market/cancel", handlers.Market.Cancel)
	mux.HandleFunc("POST /api/market/offer", handlers.Market.Offer)
	mux.HandleFunc("POST /api/market/offer/cancel", handlers.Market.CancelOffer)
	mux.HandleFunc("POST /api/market/offer/approve", handlers.Market.ApproveOffer)

	// Read path.
	mux.HandleFunc("GET /api/listings", handlers.Listings.GetListings)
	mux.HandleFunc("GET /api/listings/{fid}", handlers.Listings.GetListing)

	// Aggregates.
	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)
	mux.HandleFunc("POST /api/stats/rebuild", handlers.Stats.Rebuild)

	// Ledger archival.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.ListArchives)
		mux.HandleFunc("POST /api/archives/run", handlers.Archive.TriggerArchive)
	}

	// Live event feed.
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Liveness sits on an outer mux so probes need no API key and never
	// count against the rate limit.
	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	root.Handle("/", h)

	h = middleware.Logging(logger)(root)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
