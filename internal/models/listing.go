package models

import (
	"time"

	"github.com/google/uuid"
)

// Listing status enums. is_active=false implies status is sold or
// cancelled; no further bids or purchases are accepted once inactive.
const (
	ListingStatusListed    = "listed"
	ListingStatusSold      = "sold"
	ListingStatusCancelled = "cancelled"
)

// PricePoint is one entry of a listing's append-only price history.
// For auctions the price sequence is non-decreasing and the bidder of
// the last entry always matches the listing's high bidder.
type PricePoint struct {
	Timestamp time.Time  `json:"timestamp"`
	Price     float64    `json:"price"`
	BidderID  *uuid.UUID `json:"bidder_id,omitempty"`
}

// Listing is a sale offer (fixed-price or auction) referencing one credit.
type Listing struct {
	ID           uuid.UUID    `json:"id"`
	CreditID     uuid.UUID    `json:"credit_id"`
	ProjectID    uuid.UUID    `json:"project_id"`
	OwnerID      uuid.UUID    `json:"owner_id"`
	CurrentPrice float64      `json:"current_price"`
	PriceHistory []PricePoint `json:"price_history"`
	IsActive     bool         `json:"is_active"`
	Status       string       `json:"status"`
	IsAuction    bool         `json:"is_auction"`
	AuctionEnd   *time.Time   `json:"auction_end,omitempty"`
	HighBidderID *uuid.UUID   `json:"high_bidder_id,omitempty"`
	BuyerID      *uuid.UUID   `json:"buyer_id,omitempty"`
	SoldAt       *time.Time   `json:"sold_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
