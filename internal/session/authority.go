// Package session provides the session authority: issuing, verifying, and
// revoking signed session tokens bound to a role claim.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keepsakehq/keepsake/internal/audit"
)

// Default session parameters.
const (
	// DefaultSessionTTL is the default lifetime of an issued session token.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultLeeway is the default clock-skew leeway for token validation.
	DefaultLeeway = 30 * time.Second

	// RoleAdmin is the role required for admin-scoped sessions.
	RoleAdmin = "admin"
)

// Common errors for session operations.
var (
	// ErrUnauthenticated is returned when the identity credential fails verification.
	ErrUnauthenticated = errors.New("identity credential could not be verified")

	// ErrForbidden is returned when the identity lacks the required role.
	ErrForbidden = errors.New("identity lacks required role")

	// ErrSessionInvalid is returned when a session token fails verification,
	// including tokens invalidated by revocation.
	ErrSessionInvalid = errors.New("session token is invalid")

	// ErrSessionExpired is returned when a session token is past its expiry.
	ErrSessionExpired = errors.New("session token has expired")
)

// Principal is the verified subject of a session token.
type Principal struct {
	Subject   string
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionClaims are the custom JWT claims carried by session tokens.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// AuthorityConfig configures an Authority.
type AuthorityConfig struct {
	// Secret signs session tokens (HS256).
	Secret string
	// SessionTTL is the lifetime of issued tokens.
	SessionTTL time.Duration
	// Leeway for clock skew during validation.
	Leeway time.Duration
	// RequiredRole, when set, must match the identity's role claim at
	// issuance. Admin-scoped deployments set this to RoleAdmin.
	RequiredRole string
	// Logger for session activity.
	Logger *slog.Logger
	// Now supplies the clock; defaults to time.Now.
	Now func() time.Time
}

// Authority issues, verifies, and revokes session tokens. The session state
// machine is issued -> (verified)* -> revoked | expired; revoked and expired
// are terminal.
type Authority struct {
	secret      []byte
	issuer      IdentityIssuer
	revocations RevocationList
	sink        audit.Sink
	config      AuthorityConfig
}

// NewAuthority creates a new session Authority. The audit sink is optional;
// when present, revocations are recorded in the audit trail.
func NewAuthority(config AuthorityConfig, issuer IdentityIssuer, revocations RevocationList, sink audit.Sink) *Authority {
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.Leeway == 0 {
		config.Leeway = DefaultLeeway
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Authority{
		secret:      []byte(config.Secret),
		issuer:      issuer,
		revocations: revocations,
		sink:        sink,
		config:      config,
	}
}

// IssueSession verifies the supplied identity credential and returns an
// opaque, signed, time-bounded session token. Returns ErrUnauthenticated when
// the credential fails verification and ErrForbidden when the required role
// claim is absent or mismatched.
func (a *Authority) IssueSession(ctx context.Context, identityCredential string) (string, error) {
	identity, err := a.issuer.Verify(ctx, identityCredential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if a.config.RequiredRole != "" && identity.Role != a.config.RequiredRole {
		return "", ErrForbidden
	}

	now := a.config.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.SessionTTL)),
		},
		Role: identity.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	a.config.Logger.Info("session issued", "subject", identity.Subject, "role", identity.Role)
	return signed, nil
}

// VerifySession verifies the token's signature and expiry. When checkRevoked
// is true it also consults the revocation list: tokens issued at or before
// the subject's revocation time are invalid even if not yet expired.
func (a *Authority) VerifySession(ctx context.Context, token string, checkRevoked bool) (*Principal, error) {
	claims, err := a.parse(token, true)
	if err != nil {
		return nil, err
	}

	principal := &Principal{
		Subject:   claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	if checkRevoked {
		revokedAt, revoked, err := a.revocations.RevokedAt(ctx, claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to check revocation list: %w", err)
		}
		if revoked && !principal.IssuedAt.After(revokedAt) {
			return nil, fmt.Errorf("%w: revoked", ErrSessionInvalid)
		}
	}

	return principal, nil
}

// RevokeSession invalidates all sessions issued to the token's subject up to
// this point. Subsequent VerifySession calls in revocation-checking mode
// report those tokens invalid even before their nominal expiry. The token's
// signature must verify, but an already-expired token may still be used to
// revoke its subject.
func (a *Authority) RevokeSession(ctx context.Context, token string) error {
	claims, err := a.parse(token, false)
	if err != nil {
		return err
	}

	now := a.config.Now()
	if err := a.revocations.Revoke(ctx, claims.Subject, now); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}

	if a.sink != nil {
		entry := audit.Entry{
			LogID:     audit.NewLogID(),
			Event:     audit.EventSessionRevoked,
			Actor:     claims.Subject,
			Metadata:  map[string]string{"token_id": claims.ID},
			Timestamp: now.UTC(),
		}
		if err := a.sink.Append(ctx, entry); err != nil {
			a.config.Logger.Error("audit write failed", "event", entry.Event, "error", err)
		}
	}

	a.config.Logger.Info("session revoked", "subject", claims.Subject)
	return nil
}

// parse validates the token signature and, when validateExpiry is set, its
// time-based claims.
func (a *Authority) parse(token string, validateExpiry bool) (*sessionClaims, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(a.config.Leeway)}
	if !validateExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrSessionInvalid
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrSessionInvalid
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrSessionInvalid
	}

	return claims, nil
}
