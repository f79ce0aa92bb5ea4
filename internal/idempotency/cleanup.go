package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiry is how long a stored key remains replayable. A retry after
// this window creates a fresh claim request.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys removes records older than the expiry and returns the count.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}

	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		logger.Error("idempotency cleanup failed", "error", err)
		return 0, err
	}

	if deleted > 0 {
		logger.Info("expired idempotency keys removed", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup runs CleanupOldKeys at the given interval until stopCh
// closes. Blocks; run in a goroutine.
func RunPeriodicCleanup(repo Repository, interval, expiry time.Duration, logger *slog.Logger, stopCh <-chan struct{}) {
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	if _, err := CleanupOldKeys(ctx, repo, expiry, logger); err != nil {
		logger.Error("initial idempotency cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupOldKeys(ctx, repo, expiry, logger); err != nil {
				logger.Error("periodic idempotency cleanup failed", "error", err)
			}
		case <-stopCh:
			return
		}
	}
}
