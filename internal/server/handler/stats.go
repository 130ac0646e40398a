package handler

import (
	"log/slog"
	"net/http"

	"github.com/castmarket/fidmarket/internal/service"
)

// StatsHandler serves the marketplace aggregates and the operator rebuild.
type StatsHandler struct {
	stats  *service.StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(stats *service.StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: logger}
}

// GetStats returns floor price, highest sale, and total volume in wei and
// USD. The values are best-effort aggregates, not authoritative sums.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Rebuild recomputes all aggregates from the listing store and the event
// ledger. The operator remedy for floor staleness.
// POST /api/stats/rebuild
func (h *StatsHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.stats.Rebuild(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}
