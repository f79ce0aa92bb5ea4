package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/keepsakehq/keepsake/internal/claim"
	"github.com/keepsakehq/keepsake/internal/memory"
	"github.com/keepsakehq/keepsake/internal/middleware"
)

// ClaimProcessor processes a claim attempt against a pending claim request.
type ClaimProcessor interface {
	ProcessClaim(ctx context.Context, requestID, claimKey, authenticatedUID, requestOrigin string) (*memory.Memory, error)
}

// ClaimHandler serves claim-processing endpoints.
type ClaimHandler struct {
	processor ClaimProcessor
	logger    *slog.Logger
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(processor ClaimProcessor, logger *slog.Logger) *ClaimHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimHandler{
		processor: processor,
		logger:    logger,
	}
}

// processClaimRequest is the request body for POST /v1/claims/{id}/process.
type processClaimRequest struct {
	ClaimKey string `json:"claim_key"`
}

// processClaimResponse is the success body for POST /v1/claims/{id}/process.
type processClaimResponse struct {
	RequestID string `json:"request_id"`
	MemoryID  string `json:"memory_id"`
	Status    string `json:"status"`
}

// ProcessClaim handles POST /v1/claims/{id}/process. The caller must be
// authenticated; the claim key arrives in the body and the tenant scope is
// derived from the request origin.
//
// Unknown, already-claimed, and expired requests all produce the same
// claim_not_claimable response. The audit trail holds the detail.
func (h *ClaimHandler) ProcessClaim(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	if requestID == "" {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Claim request ID is required")
		return
	}

	uid := middleware.GetUserID(r.Context())
	if uid == "" {
		writeErrorCode(w, r, http.StatusUnauthorized, ErrCodeUnauthenticated, "A valid session token is required")
		return
	}

	var body processClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Request body must be valid JSON")
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Host
	}

	mem, err := h.processor.ProcessClaim(r.Context(), requestID, body.ClaimKey, uid, origin)
	if err != nil {
		h.writeProcessError(w, r, err)
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, processClaimResponse{
		RequestID: requestID,
		MemoryID:  mem.ID,
		Status:    string(claim.StatusClaimed),
	})
}

// writeProcessError maps processing errors to API responses without leaking
// claim-request state to the caller.
func (h *ClaimHandler) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, claim.ErrInvalidClaimKey):
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "Claim key is malformed")
	case errors.Is(err, claim.ErrTenantMismatch):
		writeErrorCode(w, r, http.StatusForbidden, ErrCodeForbidden, "This claim link belongs to a different site")
	case errors.Is(err, claim.ErrClaimNotFound), errors.Is(err, claim.ErrClaimNotClaimable):
		writeErrorCode(w, r, http.StatusConflict, ErrCodeClaimNotClaimable, "This claim link is no longer available")
	default:
		h.logger.Error("claim processing failed", "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}
