package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/keepsakehq/keepsake/internal/claim"
	"github.com/keepsakehq/keepsake/internal/middleware"
	"github.com/keepsakehq/keepsake/internal/session"
)

// Inviter creates claim requests and dispatches claim links.
type Inviter interface {
	Invite(ctx context.Context, tenantID, lpID, email string) (*claim.Request, error)
}

// InviteHandler serves the admin endpoint that creates claim requests.
type InviteHandler struct {
	inviter Inviter
	logger  *slog.Logger
}

// NewInviteHandler creates a new InviteHandler.
func NewInviteHandler(inviter Inviter, logger *slog.Logger) *InviteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InviteHandler{
		inviter: inviter,
		logger:  logger,
	}
}

// createInviteRequest is the request body for POST /v1/invites.
type createInviteRequest struct {
	Email  string `json:"email"`
	Tenant string `json:"tenant"`
	LpID   string `json:"lp_id"`
}

// createInviteResponse is the success body for POST /v1/invites.
type createInviteResponse struct {
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// CreateInvite handles POST /v1/invites. Restricted to admin sessions.
func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, ErrCodeUnauthenticated, "A valid session token is required")
		return
	}
	if principal.Role != session.RoleAdmin {
		writeErrorCode(w, r, http.StatusForbidden, ErrCodeForbidden, "Admin role is required")
		return
	}

	var body createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Request body must be valid JSON")
		return
	}
	if body.Email == "" || body.Tenant == "" || body.LpID == "" {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "email, tenant, and lp_id are required")
		return
	}

	req, err := h.inviter.Invite(r.Context(), body.Tenant, body.LpID, body.Email)
	if err != nil {
		if errors.Is(err, claim.ErrInvalidEmail) {
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "email is not a valid address")
			return
		}
		h.logger.Error("invite creation failed", "tenant", body.Tenant, "lp_id", body.LpID, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	WriteJSON(w, r.Context(), http.StatusCreated, createInviteResponse{
		RequestID: req.RequestID,
		Status:    string(req.Status),
		SentAt:    req.SentAt,
	})
}
