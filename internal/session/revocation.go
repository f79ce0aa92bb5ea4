package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationList records, per subject, the point in time before which all
// issued sessions are invalid.
type RevocationList interface {
	// Revoke marks all of the subject's sessions issued at or before the
	// given time as invalid.
	Revoke(ctx context.Context, subject string, at time.Time) error

	// RevokedAt returns the subject's revocation time, if any.
	RevokedAt(ctx context.Context, subject string) (time.Time, bool, error)
}

// InMemoryRevocationList is an in-memory implementation of RevocationList.
// Thread-safe via RWMutex.
type InMemoryRevocationList struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewInMemoryRevocationList creates a new in-memory revocation list.
func NewInMemoryRevocationList() *InMemoryRevocationList {
	return &InMemoryRevocationList{
		revoked: make(map[string]time.Time),
	}
}

// Revoke records the subject's revocation time, keeping the latest.
func (l *InMemoryRevocationList) Revoke(ctx context.Context, subject string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.revoked[subject]; !ok || at.After(existing) {
		l.revoked[subject] = at
	}
	return nil
}

// RevokedAt returns the subject's revocation time, if any.
func (l *InMemoryRevocationList) RevokedAt(ctx context.Context, subject string) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	at, ok := l.revoked[subject]
	return at, ok, nil
}

// RedisRevocationList implements RevocationList on Redis. Entries carry a TTL
// of the maximum session lifetime: once every token issued before the
// revocation has expired on its own, the entry is redundant and may lapse.
type RedisRevocationList struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRevocationList creates a Redis-backed revocation list. ttl should
// be at least the session TTL.
func NewRedisRevocationList(client *redis.Client, ttl time.Duration) *RedisRevocationList {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisRevocationList{
		client: client,
		ttl:    ttl,
	}
}

// revocationKey namespaces revocation entries in Redis.
func revocationKey(subject string) string {
	return "session:revoked:" + subject
}

// Revoke records the subject's revocation time.
func (l *RedisRevocationList) Revoke(ctx context.Context, subject string, at time.Time) error {
	value := at.UTC().Format(time.RFC3339Nano)
	if err := l.client.Set(ctx, revocationKey(subject), value, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record revocation for %s: %w", subject, err)
	}
	return nil
}

// RevokedAt returns the subject's revocation time, if any.
func (l *RedisRevocationList) RevokedAt(ctx context.Context, subject string) (time.Time, bool, error) {
	value, err := l.client.Get(ctx, revocationKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read revocation for %s: %w", subject, err)
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed revocation entry for %s: %w", subject, err)
	}
	return at, true, nil
}
