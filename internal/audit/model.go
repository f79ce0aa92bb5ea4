// Package audit provides append-only audit logging of security-relevant
// claim and session events, partitioned by calendar day for retention.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event tags for security-relevant transitions.
const (
	// EventClaimProcessed records a successful claim and memory creation.
	EventClaimProcessed = "claim.processed"
	// EventClaimExpired records a claim swept to the expired state.
	EventClaimExpired = "claim.expired"
	// EventCrossTenantDenied records a claim attempt from a mismatched tenant origin.
	EventCrossTenantDenied = "claim.cross_tenant_denied"
	// EventClaimFailed records a claim attempt that failed for any other reason.
	EventClaimFailed = "claim.failed"
	// EventSessionRevoked records a session revocation.
	EventSessionRevoked = "session.revoked"
)

// ActorSystem is the actor recorded for events not attributable to a user.
const ActorSystem = "system"

// Outcome values recorded in entry metadata.
const (
	OutcomeDenied = "denied"
	OutcomeError  = "error"
)

// ErrAuditWriteFailed is returned when an entry could not be appended.
// Audit writes are best-effort: this error is logged and suppressed by
// callers, never used to unwind a committed state transition.
var ErrAuditWriteFailed = errors.New("audit write failed")

// Entry is one immutable audit record. Entries are created once and never
// mutated or deleted; the sink does not deduplicate, so callers must
// generate a unique LogID before appending.
type Entry struct {
	LogID     string            `json:"log_id"`
	Event     string            `json:"event"`
	Actor     string            `json:"actor"`
	Tenant    string            `json:"tenant"`
	LpID      string            `json:"lp_id"`
	RequestID string            `json:"request_id"`
	EmailHash string            `json:"email_hash,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewLogID generates a unique log ID for an entry.
func NewLogID() string {
	return uuid.New().String()
}

// Partition returns the calendar-day partition key (YYYYMMDD, UTC) derived
// from the entry timestamp.
func (e *Entry) Partition() string {
	return PartitionFor(e.Timestamp)
}

// PartitionFor returns the day-partition key for a timestamp.
func PartitionFor(t time.Time) string {
	return t.UTC().Format("20060102")
}

// HashEmail derives the correlation hash stored in audit entries. Raw email
// addresses must never appear in an audit payload; the hash is one-way and
// used only for correlating entries about the same recipient.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
