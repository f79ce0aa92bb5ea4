package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified result of an identity credential: a subject ID
// plus the claims the issuer asserted about it.
type Identity struct {
	Subject string
	Role    string
	Claims  map[string]any
}

// IdentityIssuer verifies a bearer identity credential with the external
// identity provider and returns the subject and its claims.
type IdentityIssuer interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// ErrInvalidCredential is returned when an identity credential fails verification.
var ErrInvalidCredential = errors.New("invalid identity credential")

// JWTIdentityIssuer verifies identity credentials issued as HS256 JWTs by an
// identity provider sharing a signing secret with this service.
type JWTIdentityIssuer struct {
	secret []byte
	leeway time.Duration
}

// NewJWTIdentityIssuer creates a JWT-backed identity issuer.
func NewJWTIdentityIssuer(secret string, leeway time.Duration) *JWTIdentityIssuer {
	if leeway == 0 {
		leeway = DefaultLeeway
	}
	return &JWTIdentityIssuer{
		secret: []byte(secret),
		leeway: leeway,
	}
}

// Verify validates the credential and extracts the subject and role claim.
func (i *JWTIdentityIssuer) Verify(ctx context.Context, credential string) (*Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidCredential
		}
		return i.secret, nil
	}, jwt.WithLeeway(i.leeway))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredential
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	identity := &Identity{
		Subject: subject,
		Claims:  map[string]any(claims),
	}
	if role, ok := claims["role"].(string); ok {
		identity.Role = role
	}

	return identity, nil
}

// StaticIdentityIssuer maps fixed credentials to identities. Intended for tests.
type StaticIdentityIssuer struct {
	// Identities maps credential strings to the identity they assert.
	Identities map[string]Identity
}

// Verify looks up the credential.
func (i *StaticIdentityIssuer) Verify(ctx context.Context, credential string) (*Identity, error) {
	identity, ok := i.Identities[credential]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return &identity, nil
}
