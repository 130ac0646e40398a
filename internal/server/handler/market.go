package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/castmarket/fidmarket/internal/domain"
	"github.com/castmarket/fidmarket/internal/service"
)

// MarketHandler exposes the six reconciliation operations. Each takes an
// observed transaction hash and returns the entity state after the event was
// applied; resubmitting a hash is safe.
type MarketHandler struct {
	market *service.MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market *service.MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, logger: logger}
}

// txRequest is the shared request body for every reconciliation endpoint.
type txRequest struct {
	TxHash string `json:"tx_hash"`
}

func (h *MarketHandler) txHash(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req txRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	hash := strings.TrimSpace(req.TxHash)
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		writeError(w, http.StatusBadRequest, "tx_hash must be a 0x-prefixed 32-byte hash")
		return "", false
	}
	return hash, true
}

func (h *MarketHandler) listingOp(w http.ResponseWriter, r *http.Request, op func(r *http.Request, txHash string) (domain.Listing, error)) {
	hash, ok := h.txHash(w, r)
	if !ok {
		return
	}
	listing, err := op(r, hash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *MarketHandler) offerOp(w http.ResponseWriter, r *http.Request, op func(r *http.Request, txHash string) (domain.Offer, error)) {
	hash, ok := h.txHash(w, r)
	if !ok {
		return
	}
	offer, err := op(r, hash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// List reconciles a Listed transaction.
// POST /api/market/list
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	h.listingOp(w, r, func(r *http.Request, txHash string) (domain.Listing, error) {
		return h.market.List(r.Context(), txHash)
	})
}

// Buy reconciles a Bought transaction.
// POST /api/market/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.listingOp(w, r, func(r *http.Request, txHash string) (domain.Listing, error) {
		return h.market.Buy(r.Context(), txHash)
	})
}

// Cancel reconciles a Canceled transaction.
// POST /api/market/cancel
func (h *MarketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.listingOp(w, r, func(r *http.Request, txHash string) (domain.Listing, error) {
		return h.market.Cancel(r.Context(), txHash)
	})
}

// Offer reconciles an OfferMade transaction.
// POST /api/market/offer
func (h *MarketHandler) Offer(w http.ResponseWriter, r *http.Request) {
	h.offerOp(w, r, func(r *http.Request, txHash string) (domain.Offer, error) {
		return h.market.Offer(r.Context(), txHash)
	})
}

// CancelOffer reconciles an OfferCanceled transaction.
// POST /api/market/offer/cancel
func (h *MarketHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	h.offerOp(w, r, func(r *http.Request, txHash string) (domain.Offer, error) {
		return h.market.CancelOffer(r.Context(), txHash)
	})
}

// ApproveOffer reconciles an OfferApproved transaction.
// POST /api/market/offer/approve
func (h *MarketHandler) ApproveOffer(w http.ResponseWriter, r *http.Request) {
	h.offerOp(w, r, func(r *http.Request, txHash string) (domain.Offer, error) {
		return h.market.ApproveOffer(r.Context(), txHash)
	})
}
