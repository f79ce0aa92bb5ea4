package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sink is the append-only write interface for audit entries. Write-once
// semantics: the caller generates the LogID, the sink does not deduplicate.
type Sink interface {
	// Append persists one entry. Failures are reported but callers must not
	// roll back committed state transitions because of them.
	Append(ctx context.Context, entry Entry) error
}

// Reader provides the query side used by export tooling. Audit consumption
// is otherwise an external reporting concern.
type Reader interface {
	// QueryByPartition returns all entries in a day partition (YYYYMMDD),
	// oldest first.
	QueryByPartition(ctx context.Context, partition string) ([]Entry, error)
}

// InMemorySink is an in-memory implementation of Sink and Reader.
// Used for testing and development. Thread-safe via RWMutex.
type InMemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemorySink creates a new in-memory audit sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

// Append persists one entry.
func (s *InMemorySink) Append(ctx context.Context, entry Entry) error {
	if entry.LogID == "" {
		return fmt.Errorf("%w: missing log_id", ErrAuditWriteFailed)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.entries = append(s.entries, copyEntry(entry))
	s.mu.Unlock()
	return nil
}

// QueryByPartition returns all entries in a day partition, oldest first.
func (s *InMemorySink) QueryByPartition(ctx context.Context, partition string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Entry
	for _, e := range s.entries {
		if e.Partition() == partition {
			results = append(results, copyEntry(e))
		}
	}
	return results, nil
}

// Entries returns a copy of all appended entries. Intended for tests.
func (s *InMemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, copyEntry(e))
	}
	return results
}

// ByEvent returns all appended entries with the given event tag. Intended for tests.
func (s *InMemorySink) ByEvent(event string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Entry
	for _, e := range s.entries {
		if e.Event == event {
			results = append(results, copyEntry(e))
		}
	}
	return results
}

func copyEntry(e Entry) Entry {
	copied := e
	if e.Metadata != nil {
		copied.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}
	return copied
}
