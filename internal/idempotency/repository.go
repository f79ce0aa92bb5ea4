package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates a new in-memory idempotency repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
	}
}

// Get retrieves a record by key.
func (r *InMemoryRepository) Get(ctx context.Context, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	copied := *record
	return &copied, nil
}

// Store saves a new record.
func (r *InMemoryRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Key]; exists {
		return ErrKeyExists
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	copied := *record
	r.records[record.Key] = &copied
	return nil
}

// DeleteOlderThan removes records older than the given age.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-age)
	var deleted int64
	for key, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, key)
			deleted++
		}
	}
	return deleted, nil
}
