package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aeroleaf/backend/internal/marketplace"
	"github.com/aeroleaf/backend/internal/middleware"
	"github.com/aeroleaf/backend/internal/models"
)

// MarketplaceEngine is the subset of engine operations the marketplace
// handler invokes.
type MarketplaceEngine interface {
	Purchase(ctx context.Context, listingID, buyerID uuid.UUID) (*models.Transaction, error)
	PlaceBid(ctx context.Context, listingID, bidderID uuid.UUID, amount float64) (*models.Bid, error)
	CreateListing(ctx context.Context, p marketplace.ListingParams) (*models.Listing, error)
	CancelListing(ctx context.Context, listingID, ownerID uuid.UUID) error
}

// ListingReader serves the read-only listing projection.
type ListingReader interface {
	ListActive(ctx context.Context) ([]*models.Listing, error)
}

// MarketplaceHandler serves /api/marketplace endpoints.
type MarketplaceHandler struct {
	Engine   MarketplaceEngine
	Listings ListingReader
	Logger   *slog.Logger
}

// ListListings handles GET /api/marketplace/listings. Public, no
// transaction semantics.
func (h *MarketplaceHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.Listings.ListActive(r.Context())
	if err != nil {
		h.Logger.Error("list listings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch listings", Code: "internal"})
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

type createListingRequest struct {
	CreditID   string     `json:"credit_id"`
	ProjectID  string     `json:"project_id"`
	Price      float64    `json:"price"`
	IsAuction  bool       `json:"is_auction"`
	AuctionEnd *time.Time `json:"auction_end,omitempty"`
}

// CreateListing handles POST /api/marketplace/list.
func (h *MarketplaceHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	creditID, err := uuid.Parse(req.CreditID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid credit_id", Code: "invalid_request"})
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid project_id", Code: "invalid_request"})
		return
	}
	listing, err := h.Engine.CreateListing(r.Context(), marketplace.ListingParams{
		CreditID:   creditID,
		ProjectID:  projectID,
		OwnerID:    actor.ID,
		Price:      req.Price,
		IsAuction:  req.IsAuction,
		AuctionEnd: req.AuctionEnd,
	})
	if err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, successResponse{Success: true, ID: listing.ID.String()})
}

type buyListingRequest struct {
	ListingID string `json:"listing_id"`
}

// Buy handles POST /api/marketplace/buy.
func (h *MarketplaceHandler) Buy(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req buyListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid listing_id", Code: "invalid_request"})
		return
	}
	if _, err := h.Engine.Purchase(r.Context(), listingID, actor.ID); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Purchase successful"})
}

type placeBidRequest struct {
	ListingID string  `json:"listing_id"`
	BidAmount float64 `json:"bid_amount"`
}

// Bid handles POST /api/marketplace/bid.
func (h *MarketplaceHandler) Bid(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid listing_id", Code: "invalid_request"})
		return
	}
	if _, err := h.Engine.PlaceBid(r.Context(), listingID, actor.ID, req.BidAmount); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Bid placed successfully"})
}

type cancelListingRequest struct {
	ListingID string `json:"listing_id"`
}

// Cancel handles POST /api/marketplace/cancel.
func (h *MarketplaceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req cancelListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid listing_id", Code: "invalid_request"})
		return
	}
	if err := h.Engine.CancelListing(r.Context(), listingID, actor.ID); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Listing cancelled"})
}
