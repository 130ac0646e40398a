package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/castmarket/fidmarket/internal/domain"
)

// ArchiveHandler exposes ledger archival: listing past archive objects and
// triggering a run on demand.
type ArchiveHandler struct {
	archiver domain.Archiver
	reader   domain.ArchiveReader
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver domain.Archiver, reader domain.ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, reader: reader, logger: logger}
}

// ListArchives returns metadata for every archived ledger batch.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.reader.List(r.Context(), "archive/ledger/")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive: list failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "archive store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// TriggerArchive archives ledger entries older than the before parameter
// (RFC 3339; defaults to 90 days ago).
// POST /api/archives/run
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	before := time.Now().UTC().AddDate(0, 0, -90)
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		before = parsed
	}

	n, err := h.archiver.Archive(r.Context(), before)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive: run failed",
			slog.Int64("archived", n),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived": n,
		"before":   before.Format(time.RFC3339),
	})
}
