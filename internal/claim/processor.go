// Package claim provides the processor that finalizes claim requests.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/memory"
	"github.com/keepsakehq/keepsake/internal/tenant"
	"github.com/keepsakehq/keepsake/internal/validate"
)

// MinClaimKeyLength is the default minimum length for the claim key gate.
// The key check is a cheap well-formedness gate, not cryptographic proof;
// authorization rests on the authenticated identity.
const MinClaimKeyLength = 16

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// MinClaimKeyLength overrides the default claim key length gate.
	MinClaimKeyLength int
	// Logger for processor activity.
	Logger *slog.Logger
	// Now supplies the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Processor validates claim attempts, enforces tenant isolation, creates the
// owned memory, and transitions the claim to claimed.
type Processor struct {
	store    Store
	memories memory.Repository
	resolver *tenant.Resolver
	sink     audit.Sink
	config   ProcessorConfig
}

// NewProcessor creates a new claim Processor.
func NewProcessor(config ProcessorConfig, store Store, memories memory.Repository, resolver *tenant.Resolver, sink audit.Sink) *Processor {
	if config.MinClaimKeyLength == 0 {
		config.MinClaimKeyLength = MinClaimKeyLength
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Processor{
		store:    store,
		memories: memories,
		resolver: resolver,
		sink:     sink,
		config:   config,
	}
}

// ProcessClaim consumes a claim request on behalf of an authenticated user.
// Validation short-circuits on the first failure: claim key well-formedness,
// request existence and claimable status, tenant isolation against the
// request origin. On success exactly one memory is created and the claim is
// transitioned sent -> claimed under an optimistic status precondition, so
// concurrent attempts on the same request ID yield at most one winner.
//
// Every failure is recorded in the audit trail with error metadata; none are
// retried here. A memory created before a failed transition is left as a
// manually reconcilable orphan and noted in the audit entry.
func (p *Processor) ProcessClaim(ctx context.Context, requestID, claimKey, authenticatedUID, requestOrigin string) (*memory.Memory, error) {
	if err := validate.ClaimKey(claimKey, p.config.MinClaimKeyLength); err != nil {
		p.auditFailure(ctx, requestID, "", "", authenticatedUID, fmt.Errorf("%w: %v", ErrInvalidClaimKey, err), nil)
		return nil, ErrInvalidClaimKey
	}

	req, err := p.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrClaimNotFound) {
			p.auditFailure(ctx, requestID, "", "", authenticatedUID, err, nil)
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if req.Status != StatusSent {
		p.auditFailure(ctx, requestID, req.Tenant, req.LpID, authenticatedUID, ErrClaimNotClaimable,
			map[string]string{"status": string(req.Status)})
		return nil, ErrClaimNotClaimable
	}

	if !p.resolver.Matches(requestOrigin, req.Tenant, req.LpID) {
		p.appendAudit(ctx, audit.Entry{
			LogID:     audit.NewLogID(),
			Event:     audit.EventCrossTenantDenied,
			Actor:     authenticatedUID,
			Tenant:    req.Tenant,
			LpID:      req.LpID,
			RequestID: requestID,
			EmailHash: audit.HashEmail(req.Email),
			Metadata: map[string]string{
				"attempt": "cross_tenant_claim_attempt",
				"outcome": audit.OutcomeDenied,
				"origin":  requestOrigin,
			},
			Timestamp: p.config.Now().UTC(),
		})
		p.config.Logger.Warn("cross-tenant claim attempt denied",
			"request_id", requestID,
			"tenant", req.Tenant,
			"origin", requestOrigin)
		return nil, ErrTenantMismatch
	}

	now := p.config.Now().UTC()
	mem := &memory.Memory{
		ID:        uuid.New().String(),
		OwnerUID:  authenticatedUID,
		Tenant:    req.Tenant,
		LpID:      req.LpID,
		CreatedAt: now,
	}
	if err := p.memories.Create(ctx, mem); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrResourceCreationFailed, err)
		p.auditFailure(ctx, requestID, req.Tenant, req.LpID, authenticatedUID, wrapped, nil)
		return nil, wrapped
	}

	// Optimistic transition: conditioned on the claim still being sent at
	// write time, so only one of two concurrent processors can win.
	applied, err := p.store.ConditionalUpdate(ctx, requestID, StatusSent, UpdateFields{
		Status:       StatusClaimed,
		ClaimedAt:    &now,
		ClaimedByUID: &authenticatedUID,
		MemoryID:     &mem.ID,
		UpdatedAt:    now,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		p.auditFailure(ctx, requestID, req.Tenant, req.LpID, authenticatedUID, wrapped,
			map[string]string{"orphan_memory_id": mem.ID})
		return nil, wrapped
	}
	if !applied {
		// A concurrent attempt won the race; the memory created above is an
		// orphan with no claim linkage, accepted and recorded for manual
		// reconciliation.
		p.auditFailure(ctx, requestID, req.Tenant, req.LpID, authenticatedUID, ErrClaimNotClaimable,
			map[string]string{"orphan_memory_id": mem.ID})
		return nil, ErrClaimNotClaimable
	}

	p.appendAudit(ctx, audit.Entry{
		LogID:     audit.NewLogID(),
		Event:     audit.EventClaimProcessed,
		Actor:     authenticatedUID,
		Tenant:    req.Tenant,
		LpID:      req.LpID,
		RequestID: requestID,
		EmailHash: audit.HashEmail(req.Email),
		Metadata: map[string]string{
			"claim_id":  requestID,
			"memory_id": mem.ID,
		},
		Timestamp: now,
	})

	p.config.Logger.Info("claim processed",
		"request_id", requestID,
		"tenant", req.Tenant,
		"lp_id", req.LpID,
		"memory_id", mem.ID)

	return mem, nil
}

// auditFailure records a failed claim attempt with error metadata.
func (p *Processor) auditFailure(ctx context.Context, requestID, tenantID, lpID, actor string, cause error, extra map[string]string) {
	metadata := map[string]string{
		"outcome": audit.OutcomeError,
		"error":   cause.Error(),
	}
	for k, v := range extra {
		metadata[k] = v
	}

	p.appendAudit(ctx, audit.Entry{
		LogID:     audit.NewLogID(),
		Event:     audit.EventClaimFailed,
		Actor:     actor,
		Tenant:    tenantID,
		LpID:      lpID,
		RequestID: requestID,
		Metadata:  metadata,
		Timestamp: p.config.Now().UTC(),
	})
}

// appendAudit writes an entry, logging and suppressing failures. An audit
// write failure never unwinds a committed transition.
func (p *Processor) appendAudit(ctx context.Context, entry audit.Entry) {
	if err := p.sink.Append(ctx, entry); err != nil {
		p.config.Logger.Error("audit write failed",
			"event", entry.Event,
			"request_id", entry.RequestID,
			"error", err)
	}
}
