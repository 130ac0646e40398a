package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/castmarket/fidmarket/internal/service"
)

// ListingsHandler serves the read path over the listing collection.
type ListingsHandler struct {
	query  *service.QueryService
	logger *slog.Logger
}

// NewListingsHandler creates a ListingsHandler.
func NewListingsHandler(query *service.QueryService, logger *slog.Logger) *ListingsHandler {
	return &ListingsHandler{query: query, logger: logger}
}

// listingsPage is the paginated response envelope.
type listingsPage struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// GetListings returns one page of the collection. The strategy follows the
// query string: q= switches to identity search, sort=minFee/-minFee or
// onlyListing=true to price-sorted active listings, sort=-fid to the
// descending fid walk, and everything else to the ascending walk.
// GET /api/listings
func (h *ListingsHandler) GetListings(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q := service.ListingsQuery{
		Sort:   params.Get("sort"),
		Cursor: params.Get("cursor"),
		Query:  params.Get("q"),
	}
	if v := params.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Limit = n
		}
	}
	if v := params.Get("onlyListing"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "onlyListing must be a boolean")
			return
		}
		q.OnlyListing = only
	}

	views, next, err := h.query.GetListings(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingsPage{Items: views, NextCursor: next})
}

// GetListing returns the active listing for one fid, enriched with identity
// and fiat price data.
// GET /api/listings/{fid}
func (h *ListingsHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathFid(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "fid must be a positive integer")
		return
	}

	view, err := h.query.GetListing(r.Context(), fid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
