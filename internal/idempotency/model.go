// Package idempotency provides idempotency-key storage so retried invite
// creations replay the original response instead of minting duplicate claim
// requests.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Record statuses. Only completed records are stored today; processing is
// reserved for in-flight tracking of concurrent retries.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// Common errors for idempotency-key operations.
var (
	// ErrKeyNotFound is returned when no record exists for a key.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when storing a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length")
)

// Record is one stored idempotency key with its cached response.
type Record struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	Status             string    `json:"status"`
	ResponseHash       string    `json:"response_hash"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
	CreatedAt          time.Time `json:"created_at"`
}

// ValidateKey checks an idempotency key for basic well-formedness.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ResponseHash computes the integrity hash stored alongside a cached response.
func ResponseHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Repository defines idempotency-key persistence.
type Repository interface {
	// Get retrieves a record by key. Returns ErrKeyNotFound when absent.
	Get(ctx context.Context, key string) (*Record, error)

	// Store saves a new record. Returns ErrKeyExists on a duplicate key.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan removes records older than the given age and returns
	// how many were removed. Bounds storage growth.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
