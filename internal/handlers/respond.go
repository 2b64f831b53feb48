package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aeroleaf/backend/internal/marketplace"
	"github.com/aeroleaf/backend/internal/store"
)

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps engine errors onto the HTTP contract: missing
// entities 404, missing rights 403, races and bad input 400, exhausted
// store retries 409 with a retryable code, everything else 500.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("engine operation failed", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error", Code: code})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case marketplace.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, marketplace.ErrNotOwner):
		return http.StatusForbidden, "not_owner"
	case marketplace.IsConflict(err):
		return http.StatusBadRequest, "conflict"
	case errors.Is(err, marketplace.ErrNotAuction),
		errors.Is(err, marketplace.ErrAuctionListing),
		errors.Is(err, marketplace.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, store.ErrTxRetriesExhausted):
		// The only error safe for clients to retry automatically.
		return http.StatusConflict, "busy"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
