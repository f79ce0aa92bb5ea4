package claim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/memory"
	"github.com/keepsakehq/keepsake/internal/tenant"
)

const validClaimKey = "0123456789abcdef0123456789abcdef"

func testResolver() *tenant.Resolver {
	return tenant.NewResolver(tenant.Config{
		BaseDomain: "keepsake.app",
		Origins: map[string]tenant.Scope{
			"memories.acme.com": {Tenant: "acme", LpID: "landing"},
		},
	})
}

type processorFixture struct {
	store     *InMemoryStore
	memories  *memory.InMemoryRepository
	sink      *audit.InMemorySink
	processor *Processor
	now       time.Time
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := &processorFixture{
		store:    NewInMemoryStore(),
		memories: memory.NewInMemoryRepository(),
		sink:     audit.NewInMemorySink(),
		now:      now,
	}
	f.processor = NewProcessor(ProcessorConfig{
		Now: func() time.Time { return now },
	}, f.store, f.memories, testResolver(), f.sink)
	return f
}

func (f *processorFixture) seedSent(t *testing.T, id string) {
	t.Helper()
	if err := f.store.Create(context.Background(), newSentRequest(id, f.now.Add(-time.Hour))); err != nil {
		t.Fatalf("seed request: %v", err)
	}
}

func TestProcessClaimSuccess(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.seedSent(t, "req-1")

	mem, err := f.processor.ProcessClaim(ctx, "req-1", validClaimKey, "uid-1", "https://landing.acme.keepsake.app")
	if err != nil {
		t.Fatalf("ProcessClaim() error = %v", err)
	}
	if mem == nil || mem.ID == "" {
		t.Fatal("ProcessClaim() returned no memory")
	}
	if mem.OwnerUID != "uid-1" {
		t.Errorf("memory owner = %s, want uid-1", mem.OwnerUID)
	}
	if mem.Tenant != "acme" || mem.LpID != "landing" {
		t.Errorf("memory scope = %s/%s, want acme/landing", mem.Tenant, mem.LpID)
	}

	req, err := f.store.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if req.Status != StatusClaimed {
		t.Errorf("status = %s, want claimed", req.Status)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("claimed request fails invariant: %v", err)
	}
	if req.MemoryID == nil || *req.MemoryID != mem.ID {
		t.Errorf("request memory_id = %v, want %s", req.MemoryID, mem.ID)
	}
	if req.ClaimedAt == nil || !req.ClaimedAt.Equal(f.now) {
		t.Errorf("claimed_at = %v, want %v", req.ClaimedAt, f.now)
	}

	processed := f.sink.ByEvent(audit.EventClaimProcessed)
	if len(processed) != 1 {
		t.Fatalf("claim.processed entries = %d, want 1", len(processed))
	}
	entry := processed[0]
	if entry.Actor != "uid-1" || entry.RequestID != "req-1" {
		t.Errorf("audit entry = %+v", entry)
	}
	if entry.Metadata["memory_id"] != mem.ID {
		t.Errorf("audit memory_id = %s, want %s", entry.Metadata["memory_id"], mem.ID)
	}
	if entry.EmailHash == "" || entry.EmailHash == "recipient@example.com" {
		t.Errorf("audit email hash = %q, want non-empty hash, never the raw address", entry.EmailHash)
	}
}

func TestProcessClaimShortKey(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.seedSent(t, "req-1")

	_, err := f.processor.ProcessClaim(ctx, "req-1", "short", "uid-1", "https://landing.acme.keepsake.app")
	if !errors.Is(err, ErrInvalidClaimKey) {
		t.Fatalf("ProcessClaim() error = %v, want ErrInvalidClaimKey", err)
	}

	if f.memories.Count() != 0 {
		t.Error("memory created despite rejected claim key")
	}
	if len(f.sink.ByEvent(audit.EventClaimFailed)) != 1 {
		t.Error("rejected claim key not audited")
	}
}

func TestProcessClaimUnknownRequest(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)

	_, err := f.processor.ProcessClaim(ctx, "missing", validClaimKey, "uid-1", "https://landing.acme.keepsake.app")
	if !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("ProcessClaim() error = %v, want ErrClaimNotFound", err)
	}
	if len(f.sink.ByEvent(audit.EventClaimFailed)) != 1 {
		t.Error("unknown request not audited")
	}
}

func TestProcessClaimExpiredRequest(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)

	req := newSentRequest("req-1", f.now.Add(-100*time.Hour))
	req.Status = StatusExpired
	if err := f.store.Create(ctx, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}

	_, err := f.processor.ProcessClaim(ctx, "req-1", validClaimKey, "uid-1", "https://landing.acme.keepsake.app")
	if !errors.Is(err, ErrClaimNotClaimable) {
		t.Fatalf("ProcessClaim() error = %v, want ErrClaimNotClaimable", err)
	}
	if f.memories.Count() != 0 {
		t.Error("memory created for expired claim")
	}

	failed := f.sink.ByEvent(audit.EventClaimFailed)
	if len(failed) != 1 {
		t.Fatalf("claim.failed entries = %d, want 1", len(failed))
	}
	if failed[0].Metadata["status"] != string(StatusExpired) {
		t.Errorf("audit status metadata = %s, want expired", failed[0].Metadata["status"])
	}
}

func TestProcessClaimCrossTenantDenied(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.seedSent(t, "req-1")

	// Origin resolves to a different tenant than the one the claim was issued under.
	_, err := f.processor.ProcessClaim(ctx, "req-1", validClaimKey, "uid-1", "https://shop.rivalco.keepsake.app")
	if !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("ProcessClaim() error = %v, want ErrTenantMismatch", err)
	}

	if f.memories.Count() != 0 {
		t.Error("memory created despite cross-tenant denial")
	}

	req, _ := f.store.Get(ctx, "req-1")
	if req.Status != StatusSent {
		t.Errorf("status = %s, want sent preserved", req.Status)
	}

	denied := f.sink.ByEvent(audit.EventCrossTenantDenied)
	if len(denied) != 1 {
		t.Fatalf("cross_tenant_denied entries = %d, want 1", len(denied))
	}
	entry := denied[0]
	if entry.Metadata["attempt"] != "cross_tenant_claim_attempt" {
		t.Errorf("attempt metadata = %s", entry.Metadata["attempt"])
	}
	if entry.Metadata["outcome"] != audit.OutcomeDenied {
		t.Errorf("outcome metadata = %s, want denied", entry.Metadata["outcome"])
	}
}

func TestProcessClaimExplicitOriginMapping(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.seedSent(t, "req-1")

	// Custom domain mapped explicitly in resolver config.
	mem, err := f.processor.ProcessClaim(ctx, "req-1", validClaimKey, "uid-1", "https://memories.acme.com")
	if err != nil {
		t.Fatalf("ProcessClaim() error = %v", err)
	}
	if mem.Tenant != "acme" {
		t.Errorf("memory tenant = %s, want acme", mem.Tenant)
	}
}

func TestProcessClaimConcurrentAttemptsOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.seedSent(t, "req-1")

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.processor.ProcessClaim(ctx, "req-1", validClaimKey,
				"uid-1", "https://landing.acme.keepsake.app")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrClaimNotClaimable) {
			t.Errorf("loser error = %v, want ErrClaimNotClaimable", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}

	req, _ := f.store.Get(ctx, "req-1")
	if req.Status != StatusClaimed {
		t.Errorf("final status = %s, want claimed", req.Status)
	}
	if len(f.sink.ByEvent(audit.EventClaimProcessed)) != 1 {
		t.Error("more than one claim.processed entry for a single request")
	}
}

// failingMemoryRepo simulates memory creation failure.
type failingMemoryRepo struct{}

func (f *failingMemoryRepo) Create(ctx context.Context, m *memory.Memory) error {
	return errors.New("storage offline")
}

func (f *failingMemoryRepo) GetByID(ctx context.Context, id string) (*memory.Memory, error) {
	return nil, memory.ErrMemoryNotFound
}

func TestProcessClaimMemoryCreationFailure(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t)
	f.seedSent(t, "req-1")

	p := NewProcessor(ProcessorConfig{
		Now: func() time.Time { return f.now },
	}, f.store, &failingMemoryRepo{}, testResolver(), f.sink)

	_, err := p.ProcessClaim(ctx, "req-1", validClaimKey, "uid-1", "https://landing.acme.keepsake.app")
	if !errors.Is(err, ErrResourceCreationFailed) {
		t.Fatalf("ProcessClaim() error = %v, want ErrResourceCreationFailed", err)
	}

	// The claim must remain claimable when the memory could not be created.
	req, _ := f.store.Get(ctx, "req-1")
	if req.Status != StatusSent {
		t.Errorf("status = %s, want sent preserved", req.Status)
	}
	if len(f.sink.ByEvent(audit.EventClaimFailed)) != 1 {
		t.Error("memory creation failure not audited")
	}
}
