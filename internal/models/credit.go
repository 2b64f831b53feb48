package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit status enums. Transitions are monotonic along
// pending -> available -> sold -> retired; relisting a sold credit is
// done by creating a new Listing, never by flipping status backwards.
const (
	CreditStatusPending   = "pending"
	CreditStatusAvailable = "available"
	CreditStatusSold      = "sold"
	CreditStatusRetired   = "retired"
)

// Credit history event names.
const (
	CreditEventMinted      = "minted"
	CreditEventVerified    = "verified"
	CreditEventSold        = "sold"
	CreditEventTransferred = "transferred"
	CreditEventRetired     = "retired"
)

// CreditHistoryEntry is one append-only event on a credit's history.
type CreditHistoryEntry struct {
	Event  string     `json:"event"`
	Price  *float64   `json:"price,omitempty"`
	Date   time.Time  `json:"date"`
	Buyer  *uuid.UUID `json:"buyer,omitempty"`
	Seller *uuid.UUID `json:"seller,omitempty"`
}

// Credit is a unit of verified carbon offset, individually owned and
// status-tracked. A retired credit is immutable thereafter.
type Credit struct {
	ID            uuid.UUID            `json:"id"`
	TokenID       string               `json:"token_id"`
	SiteID        uuid.UUID            `json:"site_id"`
	OwnerID       uuid.UUID            `json:"owner_id"`
	Price         float64              `json:"price"`
	Amount        float64              `json:"amount"` // tons CO2
	Vintage       int                  `json:"vintage"`
	Region        string               `json:"region,omitempty"`
	Status        string               `json:"status"`
	History       []CreditHistoryEntry `json:"history"`
	VerifiedBy    *uuid.UUID           `json:"verified_by,omitempty"`
	VerifiedDate  *time.Time           `json:"verified_date,omitempty"`
	TransferredAt *time.Time           `json:"transferred_at,omitempty"`
	RetiredAt     *time.Time           `json:"retired_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}
