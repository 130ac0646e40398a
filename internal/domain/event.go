package domain

import (
	"math/big"
	"time"
)

// EventKind enumerates the marketplace events emitted by the registry
// contract. The reconciler switches exhaustively over these kinds.
type EventKind string

const (
	EventListed        EventKind = "Listed"
	EventCanceled      EventKind = "Canceled"
	EventBought        EventKind = "Bought"
	EventOfferMade     EventKind = "OfferMade"
	EventOfferCanceled EventKind = "OfferCanceled"
	EventOfferApproved EventKind = "OfferApproved"
)

// MarketEvent is one decoded marketplace log entry. Only the fields relevant
// for the event's kind are populated: Owner for Listed, Buyer for the offer
// and buy events, Amount for fee/offer/sale amounts, Deadline for Listed and
// OfferMade. Amount is an exact integer in wei; never a float.
type MarketEvent struct {
	Kind     EventKind
	Fid      uint64
	TxHash   string
	Owner    string
	Buyer    string
	Amount   *big.Int
	Deadline uint64
}

// Counterparty returns the address on the far side of the event: the owner
// for listings, the buyer for everything else.
func (e MarketEvent) Counterparty() string {
	if e.Kind == EventListed || e.Kind == EventCanceled {
		return e.Owner
	}
	return e.Buyer
}

// FirstOfKind scans decoded events in log order and returns the first one of
// the wanted kind. One business event per transaction is assumed; later
// matches in the same receipt are intentionally ignored.
func FirstOfKind(events []MarketEvent, kind EventKind) (MarketEvent, bool) {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return MarketEvent{}, false
}

// LedgerEntry is the durable idempotency record for one processed
// transaction. Its existence answers "has this transaction already been
// reconciled?" — written once per tx hash, after a successful reconciliation.
type LedgerEntry struct {
	TxHash       string    `json:"tx_hash"`
	EventType    EventKind `json:"event_type"`
	Fid          uint64    `json:"fid"`
	Counterparty string    `json:"counterparty"`
	Amount       string    `json:"amount"`
	RecordedAt   time.Time `json:"recorded_at"`
}
