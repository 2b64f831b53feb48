package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction type enums.
const (
	TxTypeCreditPurchase  = "credit_purchase"
	TxTypeMarketplaceSale = "marketplace_sale"
	TxTypeTransfer        = "transfer"
)

// Transaction is an append-only ledger entry: the sole source of truth
// for who bought what, for how much, and when. Never updated or deleted.
type Transaction struct {
	ID        uuid.UUID  `json:"id"`
	ListingID *uuid.UUID `json:"listing_id,omitempty"`
	CreditID  uuid.UUID  `json:"credit_id"`
	BuyerID   uuid.UUID  `json:"buyer_id"`
	SellerID  uuid.UUID  `json:"seller_id"`
	Price     float64    `json:"price"`
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
}

// Bid is an append-only ledger record of one accepted bid attempt.
// Rejected bids produce no record.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
