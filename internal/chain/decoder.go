package chain

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/castmarket/fidmarket/internal/domain"
)

// marketABI describes the marketplace events emitted by the fid registry
// contract. The fid and counterparty address are indexed; amounts and
// deadlines travel in the data segment.
const marketABI = `[
  {"type":"event","name":"Listed","inputs":[
    {"name":"fid","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"minFee","type":"uint256","indexed":false},
    {"name":"deadline","type":"uint256","indexed":false}]},
  {"type":"event","name":"Canceled","inputs":[
    {"name":"fid","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true}]},
  {"type":"event","name":"Bought","inputs":[
    {"name":"fid","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"OfferMade","inputs":[
    {"name":"fid","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"deadline","type":"uint256","indexed":false}]},
  {"type":"event","name":"OfferCanceled","inputs":[
    {"name":"fid","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true}]},
  {"type":"event","name":"OfferApproved","inputs":[
    {"name":"fid","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true}]}
]`

// Decoder extracts structured marketplace events from receipt logs. Logs
// from foreign contracts or with unknown topics are skipped, not errors: a
// receipt may contain logs entirely unrelated to the marketplace.
type Decoder struct {
	abi      abi.ABI
	contract common.Address
	logger   *slog.Logger
}

// NewDecoder parses the marketplace ABI and binds the decoder to the given
// contract address. A zero address disables the address filter, which is
// useful in tests.
func NewDecoder(contract common.Address, logger *slog.Logger) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(marketABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse market abi: %w", err)
	}
	return &Decoder{abi: parsed, contract: contract, logger: logger}, nil
}

// DecodeReceipt returns every marketplace event found in the receipt's logs,
// in log order. The result may be empty.
func (d *Decoder) DecodeReceipt(receipt *types.Receipt) []domain.MarketEvent {
	var events []domain.MarketEvent
	for _, lg := range receipt.Logs {
		ev, ok := d.decodeLog(lg, receipt.TxHash)
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

// decodeLog attempts to interpret a single log entry. The second return is
// false for logs the marketplace ABI cannot account for.
func (d *Decoder) decodeLog(lg *types.Log, txHash common.Hash) (domain.MarketEvent, bool) {
	if d.contract != (common.Address{}) && lg.Address != d.contract {
		return domain.MarketEvent{}, false
	}
	if len(lg.Topics) < 3 {
		return domain.MarketEvent{}, false
	}

	abiEvent, err := d.abi.EventByID(lg.Topics[0])
	if err != nil {
		return domain.MarketEvent{}, false
	}

	ev := domain.MarketEvent{
		Kind:   domain.EventKind(abiEvent.Name),
		Fid:    new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		TxHash: txHash.Hex(),
	}

	addr := common.BytesToAddress(lg.Topics[2].Bytes()).Hex()
	switch ev.Kind {
	case domain.EventListed, domain.EventCanceled:
		ev.Owner = addr
	case domain.EventBought, domain.EventOfferMade, domain.EventOfferCanceled, domain.EventOfferApproved:
		ev.Buyer = addr
	default:
		return domain.MarketEvent{}, false
	}

	vals, err := d.abi.Unpack(abiEvent.Name, lg.Data)
	if err != nil {
		d.logger.Warn("chain: undecodable log data",
			slog.String("tx_hash", txHash.Hex()),
			slog.String("event", abiEvent.Name),
			slog.String("error", err.Error()),
		)
		return domain.MarketEvent{}, false
	}

	switch ev.Kind {
	case domain.EventListed:
		if len(vals) != 2 {
			return domain.MarketEvent{}, false
		}
		ev.Amount, _ = vals[0].(*big.Int)
		if deadline, ok := vals[1].(*big.Int); ok {
			ev.Deadline = deadline.Uint64()
		}
	case domain.EventBought:
		if len(vals) != 1 {
			return domain.MarketEvent{}, false
		}
		ev.Amount, _ = vals[0].(*big.Int)
	case domain.EventOfferMade:
		if len(vals) != 2 {
			return domain.MarketEvent{}, false
		}
		ev.Amount, _ = vals[0].(*big.Int)
		if deadline, ok := vals[1].(*big.Int); ok {
			ev.Deadline = deadline.Uint64()
		}
	}

	return ev, true
}
