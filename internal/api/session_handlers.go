package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/keepsakehq/keepsake/internal/session"
)

// SessionAuthority issues, verifies, and revokes session tokens.
type SessionAuthority interface {
	IssueSession(ctx context.Context, identityCredential string) (string, error)
	VerifySession(ctx context.Context, token string, checkRevoked bool) (*session.Principal, error)
	RevokeSession(ctx context.Context, token string) error
}

// SessionHandler serves session lifecycle endpoints.
type SessionHandler struct {
	authority SessionAuthority
	logger    *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(authority SessionAuthority, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		authority: authority,
		logger:    logger,
	}
}

// issueSessionRequest is the request body for POST /v1/sessions.
type issueSessionRequest struct {
	IdentityCredential string `json:"identity_credential"`
}

// issueSessionResponse is the success body for POST /v1/sessions.
type issueSessionResponse struct {
	SessionToken string `json:"session_token"`
}

// IssueSession handles POST /v1/sessions: exchanges a verified identity
// credential for a signed session token.
func (h *SessionHandler) IssueSession(w http.ResponseWriter, r *http.Request) {
	var body issueSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IdentityCredential == "" {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "identity_credential is required")
		return
	}

	token, err := h.authority.IssueSession(r.Context(), body.IdentityCredential)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrForbidden):
			writeErrorCode(w, r, http.StatusForbidden, ErrCodeForbidden, "Identity lacks the required role")
		case errors.Is(err, session.ErrUnauthenticated):
			writeErrorCode(w, r, http.StatusUnauthorized, ErrCodeUnauthenticated, "Identity credential could not be verified")
		default:
			h.logger.Error("session issuance failed", "error", err)
			writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		}
		return
	}

	WriteJSON(w, r.Context(), http.StatusCreated, issueSessionResponse{SessionToken: token})
}

// verifySessionRequest is the request body for POST /v1/sessions/verify.
type verifySessionRequest struct {
	SessionToken string `json:"session_token"`
}

// verifySessionResponse is the success body for POST /v1/sessions/verify.
type verifySessionResponse struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifySession handles POST /v1/sessions/verify: reports whether a token is
// currently valid, including the revocation check.
func (h *SessionHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	var body verifySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionToken == "" {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "session_token is required")
		return
	}

	principal, err := h.authority.VerifySession(r.Context(), body.SessionToken, true)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionInvalid):
			writeErrorCode(w, r, http.StatusUnauthorized, ErrCodeUnauthenticated, "Session token is not valid")
		default:
			h.logger.Error("session verification failed", "error", err)
			writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		}
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, verifySessionResponse{
		Subject:   principal.Subject,
		Role:      principal.Role,
		IssuedAt:  principal.IssuedAt,
		ExpiresAt: principal.ExpiresAt,
	})
}

// revokeSessionRequest is the request body for DELETE /v1/sessions.
type revokeSessionRequest struct {
	SessionToken string `json:"session_token"`
}

// RevokeSession handles DELETE /v1/sessions: invalidates all of the token
// subject's sessions issued up to now. An expired token with a valid
// signature is still accepted for revocation.
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var body revokeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionToken == "" {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeBadRequest, "session_token is required")
		return
	}

	if err := h.authority.RevokeSession(r.Context(), body.SessionToken); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionInvalid), errors.Is(err, session.ErrSessionExpired):
			writeErrorCode(w, r, http.StatusUnauthorized, ErrCodeUnauthenticated, "Session token is not valid")
		default:
			h.logger.Error("session revocation failed", "error", err)
			writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
