// Package claim provides the PostgreSQL-backed claim request store.
package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL with per-row conditioned writes.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Create persists a new claim request.
func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO claim_requests (request_id, tenant, lp_id, email, status, sent_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.RequestID, req.Tenant, req.LpID, req.Email, string(req.Status), req.SentAt, req.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrClaimExists
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a claim request by its request ID.
func (s *PostgresStore) Get(ctx context.Context, requestID string) (*Request, error) {
	query := `
		SELECT request_id, tenant, lp_id, email, status, sent_at,
		       claimed_at, claimed_by_uid, memory_id, updated_at
		FROM claim_requests
		WHERE request_id = $1
	`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return req, nil
}

// ConditionalUpdate applies fields to the row only if its status still equals
// expectedStatus at write time. The condition lives in the WHERE clause, so
// concurrent racers are serialized by the database.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, requestID string, expectedStatus Status, fields UpdateFields) (bool, error) {
	query := `
		UPDATE claim_requests
		SET status = $1,
		    claimed_at = COALESCE($2, claimed_at),
		    claimed_by_uid = COALESCE($3, claimed_by_uid),
		    memory_id = COALESCE($4, memory_id),
		    updated_at = $5
		WHERE request_id = $6 AND status = $7
	`
	res, err := s.db.ExecContext(ctx, query,
		string(fields.Status), fields.ClaimedAt, fields.ClaimedByUID, fields.MemoryID,
		fields.UpdatedAt, requestID, string(expectedStatus))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rows == 1, nil
}

// BatchConditionalUpdate applies every row's conditioned update inside a
// single transaction. The batch commits or rolls back as a whole; rows whose
// status precondition fails at write time are voided rather than failing the
// batch. Returns the request IDs that were actually updated.
func (s *PostgresStore) BatchConditionalUpdate(ctx context.Context, updates []BatchUpdate) ([]string, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", ErrStoreUnavailable, err)
	}

	// No-op after a successful commit.
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback batch update transaction",
				slog.String("error", err.Error()))
		}
	}()

	query := `
		UPDATE claim_requests
		SET status = $1,
		    claimed_at = COALESCE($2, claimed_at),
		    claimed_by_uid = COALESCE($3, claimed_by_uid),
		    memory_id = COALESCE($4, memory_id),
		    updated_at = $5
		WHERE request_id = $6 AND status = $7
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to prepare batch update: %v", ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	var applied []string
	for _, u := range updates {
		res, err := stmt.ExecContext(ctx,
			string(u.Fields.Status), u.Fields.ClaimedAt, u.Fields.ClaimedByUID, u.Fields.MemoryID,
			u.Fields.UpdatedAt, u.RequestID, string(u.ExpectedStatus))
		if err != nil {
			return nil, fmt.Errorf("%w: batch update for %s: %v", ErrStoreUnavailable, u.RequestID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("%w: batch update for %s: %v", ErrStoreUnavailable, u.RequestID, err)
		}
		if rows == 1 {
			applied = append(applied, u.RequestID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit batch update: %v", ErrStoreUnavailable, err)
	}

	return applied, nil
}

// QuerySentBefore returns sent requests with SentAt strictly before the cutoff.
func (s *PostgresStore) QuerySentBefore(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	query := `
		SELECT request_id, tenant, lp_id, email, status, sent_at,
		       claimed_at, claimed_by_uid, memory_id, updated_at
		FROM claim_requests
		WHERE status = $1 AND sent_at < $2
		ORDER BY sent_at
	`
	rows, err := s.db.QueryContext(ctx, query, string(StatusSent), cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var results []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		results = append(results, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return results, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var status string
	var claimedAt sql.NullTime
	var claimedByUID, memoryID sql.NullString

	err := row.Scan(&req.RequestID, &req.Tenant, &req.LpID, &req.Email, &status,
		&req.SentAt, &claimedAt, &claimedByUID, &memoryID, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	req.Status = Status(status)
	if claimedAt.Valid {
		t := claimedAt.Time
		req.ClaimedAt = &t
	}
	if claimedByUID.Valid {
		uid := claimedByUID.String
		req.ClaimedByUID = &uid
	}
	if memoryID.Valid {
		id := memoryID.String
		req.MemoryID = &id
	}

	return &req, nil
}
