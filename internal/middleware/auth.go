package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/keepsakehq/keepsake/internal/session"
)

// principalKey is the context key for the verified session principal.
type principalKey struct{}

// GetPrincipal retrieves the verified session principal from context.
// Returns nil if the request is unauthenticated.
func GetPrincipal(ctx context.Context) *session.Principal {
	if p, ok := ctx.Value(principalKey{}).(*session.Principal); ok {
		return p
	}
	return nil
}

// Auth is a middleware that requires a valid bearer session token.
// Tokens are verified against the revocation list; a session revoked after
// issuance is rejected even before it expires. On success the principal and
// user ID are stored in the request context.
func Auth(authority *session.Authority, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				rejectUnauthenticated(w, metrics, "missing")
				return
			}

			principal, err := authority.VerifySession(r.Context(), token, true)
			if err != nil {
				rejectUnauthenticated(w, metrics, rejectReason(err))
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			ctx = SetUserID(ctx, principal.Subject)
			// Auth runs inside the logging middleware; propagate the derived
			// context so the user ID lands in the request log line.
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// rejectReason maps verification errors to a low-cardinality metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return "expired"
	case errors.Is(err, session.ErrSessionInvalid):
		return "revoked"
	default:
		return "invalid"
	}
}

// rejectUnauthenticated writes a 401 response. The body uses the same error
// envelope as the api package; it is written inline here to avoid an import
// cycle between middleware and api.
func rejectUnauthenticated(w http.ResponseWriter, metrics *Metrics, reason string) {
	if metrics != nil {
		metrics.IncAuthFailures(reason)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthenticated","message":"A valid session token is required"}}`))
}
