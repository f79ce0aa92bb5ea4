// Package claim provides the claim-request lifecycle: models, persistence,
// and the processor that converts an invited email recipient into the owner
// of a newly created memory.
package claim

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a claim request.
// Transitions are forward-only; a request never returns to StatusSent.
type Status string

const (
	// StatusSent means the invitation has been delivered and is claimable.
	StatusSent Status = "sent"
	// StatusClaimed means the invitation was consumed and a memory was created.
	StatusClaimed Status = "claimed"
	// StatusExpired means the invitation aged out before being claimed.
	StatusExpired Status = "expired"
)

// Common errors for claim operations.
var (
	// ErrClaimNotFound is returned when no claim request exists for a request ID.
	ErrClaimNotFound = errors.New("claim request not found")

	// ErrClaimNotClaimable is returned when a claim request is not in the sent state.
	ErrClaimNotClaimable = errors.New("claim request is not claimable")

	// ErrTenantMismatch is returned when a claim is attempted from an origin
	// resolving to a different tenant scope than the claim was issued under.
	ErrTenantMismatch = errors.New("claim tenant does not match request origin")

	// ErrInvalidClaimKey is returned when the claim key fails the well-formedness gate.
	ErrInvalidClaimKey = errors.New("invalid claim key")

	// ErrResourceCreationFailed is returned when the memory could not be created.
	ErrResourceCreationFailed = errors.New("memory creation failed")

	// ErrStoreUnavailable is returned when the underlying claim store fails.
	ErrStoreUnavailable = errors.New("claim store unavailable")

	// ErrClaimExists is returned when creating a claim request with a duplicate request ID.
	ErrClaimExists = errors.New("claim request already exists")
)

// Request represents one invitation token tying an email recipient to a
// pending memory grant, scoped to the tenant and landing page it was issued under.
type Request struct {
	RequestID string `json:"request_id"`
	Tenant    string `json:"tenant"`
	LpID      string `json:"lp_id"`
	Email     string `json:"email"`
	Status    Status `json:"status"`

	SentAt time.Time `json:"sent_at"`

	// Populated only on the sent -> claimed transition.
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	ClaimedByUID *string    `json:"claimed_by_uid,omitempty"`
	MemoryID     *string    `json:"memory_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural invariant between status and the claimed-only
// fields: claimed requires all three to be set, any other status requires all
// three to be unset. Expiration never fabricates ownership.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if r.Tenant == "" || r.LpID == "" {
		return fmt.Errorf("tenant and lp_id are required")
	}

	hasClaimFields := r.ClaimedAt != nil && r.ClaimedByUID != nil && r.MemoryID != nil
	hasAnyClaimField := r.ClaimedAt != nil || r.ClaimedByUID != nil || r.MemoryID != nil

	switch r.Status {
	case StatusClaimed:
		if !hasClaimFields {
			return fmt.Errorf("claimed request %s is missing claimed_at, claimed_by_uid, or memory_id", r.RequestID)
		}
	case StatusSent, StatusExpired:
		if hasAnyClaimField {
			return fmt.Errorf("%s request %s must not carry claimed-only fields", r.Status, r.RequestID)
		}
	default:
		return fmt.Errorf("unknown claim status: %s", r.Status)
	}

	return nil
}

// CanTransition reports whether the status machine permits moving from one
// status to another. The machine is monotonic: sent -> claimed and
// sent -> expired are the only legal moves.
func CanTransition(from, to Status) bool {
	if from != StatusSent {
		return false
	}
	return to == StatusClaimed || to == StatusExpired
}
