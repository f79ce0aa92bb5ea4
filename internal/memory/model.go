// Package memory provides the model and repository for memories, the owned
// resources granted when a claim request is processed.
package memory

import (
	"errors"
	"time"
)

// Common errors for memory operations.
var (
	// ErrMemoryNotFound is returned when no memory exists for an ID.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrMemoryExists is returned when creating a memory with a duplicate ID.
	ErrMemoryExists = errors.New("memory already exists")
)

// Memory is the resource created exactly once per successful claim. It is
// owned exclusively by the claiming user and carries the same tenant scope as
// the claim request that spawned it.
type Memory struct {
	ID       string `json:"id"`
	OwnerUID string `json:"owner_uid"`
	Tenant   string `json:"tenant"`
	LpID     string `json:"lp_id"`

	CreatedAt time.Time `json:"created_at"`
}
