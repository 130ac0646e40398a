package domain

import "github.com/shopspring/decimal"

// Amount is a wei value together with its fiat equivalent at read time.
type Amount struct {
	Wei string          `json:"wei"`
	USD decimal.Decimal `json:"usd"`
}

// Stats are the best-effort marketplace aggregates. They are advisory cached
// approximations, never correctness-critical: concurrent updates are
// last-write-wins and the floor can go stale after the cheapest listing
// sells or is canceled.
type Stats struct {
	FloorPrice  Amount `json:"floor_price"`
	HighestSale Amount `json:"highest_sale"`
	TotalVolume Amount `json:"total_volume"`
}

// Profile is the denormalized identity data attached to a fid by the
// username-search collaborator.
type Profile struct {
	Fid         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Address     string `json:"address"`
}

// ListingView is one read-path result row: a fid's identity data plus its
// listing, if one exists. Listing is nil for fids in a dense-range page that
// have never been listed (the sparse join).
type ListingView struct {
	Fid      uint64          `json:"fid"`
	Profile  Profile         `json:"profile"`
	Listing  *Listing        `json:"listing,omitempty"`
	PriceUSD decimal.Decimal `json:"price_usd"`
}
