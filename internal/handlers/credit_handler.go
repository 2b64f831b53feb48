package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aeroleaf/backend/internal/marketplace"
	"github.com/aeroleaf/backend/internal/middleware"
	"github.com/aeroleaf/backend/internal/models"
)

// CreditEngine is the subset of engine operations the credit handler invokes.
type CreditEngine interface {
	MintCredit(ctx context.Context, p marketplace.MintParams) (*models.Credit, error)
	VerifyCredit(ctx context.Context, creditID, verifierID uuid.UUID) error
	BuyCredit(ctx context.Context, creditID, buyerID uuid.UUID) (*models.Transaction, error)
	Transfer(ctx context.Context, creditID, fromID, toID uuid.UUID) error
	Retire(ctx context.Context, creditID, ownerID uuid.UUID) error
}

// CreditReader serves the read-only credit projections.
type CreditReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credit, error)
	ListByStatus(ctx context.Context, status string) ([]*models.Credit, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Credit, error)
}

// CreditHandler serves /api/credits endpoints.
type CreditHandler struct {
	Engine  CreditEngine
	Credits CreditReader
	Logger  *slog.Logger
}

type mintRequest struct {
	SiteID  string  `json:"site_id"`
	Amount  float64 `json:"amount"`
	Vintage int     `json:"vintage"`
	Price   float64 `json:"price"`
	Region  string  `json:"region"`
}

type mintResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	CreditID string `json:"credit_id"`
}

// Mint handles POST /api/credits/mint. Landowner or verifier only
// (enforced by RequireRole in the route table).
func (h *CreditHandler) Mint(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	siteID, err := uuid.Parse(req.SiteID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid site_id", Code: "invalid_request"})
		return
	}
	credit, err := h.Engine.MintCredit(r.Context(), marketplace.MintParams{
		SiteID:  siteID,
		OwnerID: actor.ID,
		Amount:  req.Amount,
		Vintage: req.Vintage,
		Price:   req.Price,
		Region:  req.Region,
	})
	if err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, mintResponse{
		Success:  true,
		Message:  "Carbon credit minted successfully",
		CreditID: credit.ID.String(),
	})
}

type buyCreditRequest struct {
	CreditID string `json:"credit_id"`
}

// Buy handles POST /api/credits/buy, the legacy direct-credit purchase path.
func (h *CreditHandler) Buy(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req buyCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	creditID, err := uuid.Parse(req.CreditID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid credit_id", Code: "invalid_request"})
		return
	}
	if _, err := h.Engine.BuyCredit(r.Context(), creditID, actor.ID); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Transaction completed successfully"})
}

type transferRequest struct {
	CreditID   string `json:"credit_id"`
	ReceiverID string `json:"receiver_id"`
}

// Transfer handles POST /api/credits/transfer.
func (h *CreditHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "invalid_request"})
		return
	}
	creditID, err := uuid.Parse(req.CreditID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid credit_id", Code: "invalid_request"})
		return
	}
	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid receiver_id", Code: "invalid_request"})
		return
	}
	if err := h.Engine.Transfer(r.Context(), creditID, actor.ID, receiverID); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Carbon credit transferred successfully"})
}

// Retire handles POST /api/credits/{id}/retire.
func (h *CreditHandler) Retire(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	creditID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid credit id", Code: "invalid_request"})
		return
	}
	if err := h.Engine.Retire(r.Context(), creditID, actor.ID); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Carbon credit retired successfully"})
}

// Verify handles POST /api/credits/{id}/verify. Verifier only.
func (h *CreditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	creditID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid credit id", Code: "invalid_request"})
		return
	}
	if err := h.Engine.VerifyCredit(r.Context(), creditID, actor.ID); err != nil {
		writeEngineError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Carbon credit verified"})
}

// List handles GET /api/credits/list: the available-credit projection.
func (h *CreditHandler) List(w http.ResponseWriter, r *http.Request) {
	credits, err := h.Credits.ListByStatus(r.Context(), models.CreditStatusAvailable)
	if err != nil {
		h.Logger.Error("list credits", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch credits", Code: "internal"})
		return
	}
	if credits == nil {
		credits = []*models.Credit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": credits})
}

// UserCredits handles GET /api/credits/user-credits.
func (h *CreditHandler) UserCredits(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	credits, err := h.Credits.ListByOwner(r.Context(), actor.ID)
	if err != nil {
		h.Logger.Error("list user credits", "error", err, "owner_id", actor.ID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch user credits", Code: "internal"})
		return
	}
	if credits == nil {
		credits = []*models.Credit{}
	}
	writeJSON(w, http.StatusOK, credits)
}

// Get handles GET /api/credits/{id}.
func (h *CreditHandler) Get(w http.ResponseWriter, r *http.Request) {
	creditID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid credit id", Code: "invalid_request"})
		return
	}
	credit, err := h.Credits.GetByID(r.Context(), creditID)
	if err != nil {
		h.Logger.Error("get credit", "error", err, "credit_id", creditID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch credit", Code: "internal"})
		return
	}
	if credit == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "carbon credit not found", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, credit)
}
