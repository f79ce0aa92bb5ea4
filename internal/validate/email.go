// Package validate provides input validation for the values that cross the
// service boundary: recipient email addresses and claim keys.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

// Email validation errors.
var (
	ErrEmptyEmail   = errors.New("email is empty")
	ErrEmailTooLong = errors.New("email exceeds maximum length")
	ErrInvalidEmail = errors.New("invalid email format")
)

// RFC 5321 length limits.
const (
	maxEmailLength = 254
	maxLocalLength = 64
)

// emailPattern covers the common address shapes; stricter validation happens
// at the SMTP level.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email validates an email address and returns it normalized (lowercased,
// trimmed). Normalization matches the form hashed into audit entries, so the
// same recipient always correlates to the same hash.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}
	if len(email) > maxEmailLength {
		return "", ErrEmailTooLong
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}

	local, _, found := strings.Cut(email, "@")
	if !found || len(local) > maxLocalLength {
		return "", ErrInvalidEmail
	}

	return email, nil
}
