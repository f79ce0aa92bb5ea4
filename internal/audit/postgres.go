package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// PostgresSink implements Sink and Reader using PostgreSQL. The partition
// column is derived from the entry timestamp at write time so day-based
// retention can operate on an indexed value.
type PostgresSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSink creates a new PostgresSink.
func NewPostgresSink(db *sql.DB, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		db:     db,
		logger: logger,
	}
}

// Append persists one entry.
func (s *PostgresSink) Append(ctx context.Context, entry Entry) error {
	if entry.LogID == "" {
		return fmt.Errorf("%w: missing log_id", ErrAuditWriteFailed)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", ErrAuditWriteFailed, err)
		}
	}

	query := `
		INSERT INTO audit_log (log_id, event, actor, tenant, lp_id, request_id,
		                       email_hash, metadata, created_at, partition_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.LogID, entry.Event, entry.Actor, entry.Tenant, entry.LpID, entry.RequestID,
		nullIfEmpty(entry.EmailHash), metadata, entry.Timestamp, entry.Partition())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	return nil
}

// QueryByPartition returns all entries in a day partition, oldest first.
func (s *PostgresSink) QueryByPartition(ctx context.Context, partition string) ([]Entry, error) {
	query := `
		SELECT log_id, event, actor, tenant, lp_id, request_id,
		       email_hash, metadata, created_at
		FROM audit_log
		WHERE partition_day = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit partition %s: %w", partition, err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var e Entry
		var emailHash sql.NullString
		var metadata []byte

		err := rows.Scan(&e.LogID, &e.Event, &e.Actor, &e.Tenant, &e.LpID, &e.RequestID,
			&emailHash, &metadata, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if emailHash.Valid {
			e.EmailHash = emailHash.String
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				s.logger.Warn("skipping malformed audit metadata",
					slog.String("log_id", e.LogID),
					slog.String("error", err.Error()))
			}
		}

		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}

	return results, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
