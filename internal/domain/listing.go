package domain

import (
	"fmt"
	"math/big"
	"time"
)

// weiPadWidth is the fixed width of zero-padded wei amounts. 32 decimal
// digits covers amounts up to 10^14 ether, far beyond any realistic fee.
const weiPadWidth = 32

// PadWei renders an exact wei amount as a fixed-width, zero-padded decimal
// string so that lexicographic order matches numeric order. The store sorts
// listings by this column for the price-sorted read path.
func PadWei(amount *big.Int) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return fmt.Sprintf("%0*s", weiPadWidth, amount.Text(10))
}

// UnpadWei parses a zero-padded decimal string back into an exact integer.
func UnpadWei(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// Listing is a sale offer for one fid. Listings are never deleted: a
// cancellation or sale sets CanceledAt, and a later Listed event overwrites
// the fee and deadline and clears it again.
type Listing struct {
	Fid          uint64     `json:"fid"`
	OwnerAddress string     `json:"owner_address"`
	MinFee       string     `json:"min_fee"` // zero-padded wei
	Deadline     uint64     `json:"deadline"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	LastTxHash   string     `json:"last_tx_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Active reports whether the listing is currently purchasable: not canceled
// and its deadline still in the future.
func (l Listing) Active(now time.Time) bool {
	return l.CanceledAt == nil && int64(l.Deadline) > now.Unix()
}

// Offer is a bid against a fid. At most one live offer per fid matters at
// the application level; the store does not enforce this and later writes
// overwrite earlier ones.
type Offer struct {
	Fid          uint64     `json:"fid"`
	BuyerAddress string     `json:"buyer_address"`
	Amount       string     `json:"amount"` // zero-padded wei
	Deadline     uint64     `json:"deadline"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
