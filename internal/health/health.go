// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckTimeout bounds a single dependency check.
const CheckTimeout = 2 * time.Second

// Checker performs a health check against one dependency.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DBChecker implements health checking for SQL databases.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// HealthCheck performs a health check on the database by pinging it.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RedisChecker implements health checking for Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{
		client: client,
	}
}

// HealthCheck performs a health check on Redis by sending a PING command.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Check runs each named checker with a bounded timeout and returns per-check
// status strings ("ok" or the error message) plus overall health.
func Check(ctx context.Context, checkers map[string]Checker) (map[string]string, bool) {
	results := make(map[string]string, len(checkers))
	healthy := true

	for name, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		err := checker.HealthCheck(checkCtx)
		cancel()

		if err != nil {
			results[name] = err.Error()
			healthy = false
		} else {
			results[name] = "ok"
		}
	}

	return results, healthy
}
