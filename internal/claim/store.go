// Package claim provides repository implementations for claim request storage.
package claim

import (
	"context"
	"sync"
	"time"
)

// UpdateFields is the set of mutable fields written on a status transition.
// Nil pointer fields are left untouched.
type UpdateFields struct {
	Status       Status
	ClaimedAt    *time.Time
	ClaimedByUID *string
	MemoryID     *string
	UpdatedAt    time.Time
}

// BatchUpdate is one row of a batch conditional mutation. The update applies
// only if the row still has ExpectedStatus at write time.
type BatchUpdate struct {
	RequestID      string
	ExpectedStatus Status
	Fields         UpdateFields
}

// Store defines the narrow persistence interface for claim requests.
type Store interface {
	// Create persists a new claim request.
	// Returns ErrClaimExists if the request ID is already taken.
	Create(ctx context.Context, req *Request) error

	// Get retrieves a claim request by its request ID.
	// Returns ErrClaimNotFound if no such request exists.
	Get(ctx context.Context, requestID string) (*Request, error)

	// ConditionalUpdate applies fields to the request only if its status still
	// equals expectedStatus at write time. Returns false (and no error) when
	// the precondition fails, which is how concurrent claim races lose.
	ConditionalUpdate(ctx context.Context, requestID string, expectedStatus Status, fields UpdateFields) (bool, error)

	// BatchConditionalUpdate applies a batch of conditional updates atomically.
	// Each row is individually conditioned on its expected status; rows whose
	// precondition fails are voided, not errors. Returns the request IDs of
	// the rows that were actually applied.
	BatchConditionalUpdate(ctx context.Context, updates []BatchUpdate) ([]string, error)

	// QuerySentBefore returns all requests with status sent whose SentAt is
	// strictly before the cutoff.
	QuerySentBefore(ctx context.Context, cutoff time.Time) ([]*Request, error)
}

// InMemoryStore is an in-memory implementation of Store.
// Used for testing and development. Thread-safe via mutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewInMemoryStore creates a new in-memory claim request store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[string]*Request),
	}
}

// Create persists a new claim request.
func (s *InMemoryStore) Create(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.RequestID]; exists {
		return ErrClaimExists
	}

	s.requests[req.RequestID] = copyRequest(req)
	return nil
}

// Get retrieves a claim request by its request ID.
func (s *InMemoryStore) Get(ctx context.Context, requestID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, ErrClaimNotFound
	}

	return copyRequest(req), nil
}

// ConditionalUpdate applies fields only if the stored status still matches.
func (s *InMemoryStore) ConditionalUpdate(ctx context.Context, requestID string, expectedStatus Status, fields UpdateFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyLocked(requestID, expectedStatus, fields), nil
}

// BatchConditionalUpdate applies each row's update under one lock acquisition,
// which makes the batch atomic with respect to concurrent readers and writers.
func (s *InMemoryStore) BatchConditionalUpdate(ctx context.Context, updates []BatchUpdate) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var applied []string
	for _, u := range updates {
		if s.applyLocked(u.RequestID, u.ExpectedStatus, u.Fields) {
			applied = append(applied, u.RequestID)
		}
	}
	return applied, nil
}

// applyLocked performs the conditioned write. Caller must hold the write lock.
func (s *InMemoryStore) applyLocked(requestID string, expectedStatus Status, fields UpdateFields) bool {
	req, ok := s.requests[requestID]
	if !ok || req.Status != expectedStatus {
		return false
	}

	req.Status = fields.Status
	req.UpdatedAt = fields.UpdatedAt
	if fields.ClaimedAt != nil {
		t := *fields.ClaimedAt
		req.ClaimedAt = &t
	}
	if fields.ClaimedByUID != nil {
		uid := *fields.ClaimedByUID
		req.ClaimedByUID = &uid
	}
	if fields.MemoryID != nil {
		id := *fields.MemoryID
		req.MemoryID = &id
	}
	return true
}

// QuerySentBefore returns sent requests with SentAt strictly before the cutoff.
func (s *InMemoryStore) QuerySentBefore(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Request
	for _, req := range s.requests {
		if req.Status == StatusSent && req.SentAt.Before(cutoff) {
			results = append(results, copyRequest(req))
		}
	}
	return results, nil
}

// copyRequest creates a deep copy of a Request to prevent external mutation.
func copyRequest(req *Request) *Request {
	if req == nil {
		return nil
	}

	copied := &Request{
		RequestID: req.RequestID,
		Tenant:    req.Tenant,
		LpID:      req.LpID,
		Email:     req.Email,
		Status:    req.Status,
		SentAt:    req.SentAt,
		UpdatedAt: req.UpdatedAt,
	}

	if req.ClaimedAt != nil {
		t := *req.ClaimedAt
		copied.ClaimedAt = &t
	}
	if req.ClaimedByUID != nil {
		uid := *req.ClaimedByUID
		copied.ClaimedByUID = &uid
	}
	if req.MemoryID != nil {
		id := *req.MemoryID
		copied.MemoryID = &id
	}

	return copied
}
