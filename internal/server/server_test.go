package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmarket/fidmarket/internal/server/handler"
)

func newKeyedServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return NewServer(Config{
		Port:   0,
		APIKey: "sekrit",
	}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Market:   &handler.MarketHandler{},
		Listings: &handler.ListingsHandler{},
		Stats:    &handler.StatsHandler{},
	}, nil, nil, logger)
}

func TestHealthNeedsNoAPIKey(t *testing.T) {
	srv := newKeyedServer(t)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAPIRoutesRequireKey(t *testing.T) {
	srv := newKeyedServer(t)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", "wrong")
	srv.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
