package validate

import "errors"

// Claim key validation errors.
var (
	ErrClaimKeyTooShort = errors.New("claim key is too short")
	ErrClaimKeyTooLong  = errors.New("claim key exceeds maximum length")
	ErrClaimKeyCharset  = errors.New("claim key contains invalid characters")
)

// MaxClaimKeyLength bounds the key so a hostile caller cannot feed the
// service arbitrarily large values.
const MaxClaimKeyLength = 256

// ClaimKey checks the well-formedness of a claim key: minimum length and a
// URL-safe charset. This is a cheap gate against malformed links, not
// cryptographic proof; authorization rests on the authenticated identity.
func ClaimKey(key string, minLength int) error {
	if len(key) < minLength {
		return ErrClaimKeyTooShort
	}
	if len(key) > MaxClaimKeyLength {
		return ErrClaimKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return ErrClaimKeyCharset
		}
	}
	return nil
}
