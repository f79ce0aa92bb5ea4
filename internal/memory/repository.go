// Package memory provides repository implementations for memory storage.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository defines the interface for memory persistence.
type Repository interface {
	// Create persists a new memory. If the ID is empty a UUID is assigned.
	// Returns ErrMemoryExists on a duplicate ID.
	Create(ctx context.Context, m *Memory) error

	// GetByID retrieves a memory by its ID.
	// Returns ErrMemoryNotFound if no such memory exists.
	GetByID(ctx context.Context, id string) (*Memory, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu       sync.RWMutex
	memories map[string]*Memory
}

// NewInMemoryRepository creates a new in-memory memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		memories: make(map[string]*Memory),
	}
}

// Create persists a new memory.
func (r *InMemoryRepository) Create(ctx context.Context, m *Memory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if _, exists := r.memories[m.ID]; exists {
		return ErrMemoryExists
	}

	copied := *m
	r.memories[m.ID] = &copied
	return nil
}

// GetByID retrieves a memory by its ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.memories[id]
	if !ok {
		return nil, ErrMemoryNotFound
	}

	copied := *m
	return &copied, nil
}

// Count returns the number of stored memories. Intended for tests.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.memories)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists a new memory.
func (r *PostgresRepository) Create(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO memories (id, owner_uid, tenant, lp_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.OwnerUID, m.Tenant, m.LpID, m.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrMemoryExists
		}
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// GetByID retrieves a memory by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Memory, error) {
	query := `
		SELECT id, owner_uid, tenant, lp_id, created_at
		FROM memories
		WHERE id = $1
	`
	var m Memory
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.OwnerUID, &m.Tenant, &m.LpID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemoryNotFound
		}
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	return &m, nil
}
