// Package sweeper provides the scheduled job that expires stale claim
// requests and records the transitions in the audit trail.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/claim"
)

// DefaultClaimTTL is how long a sent claim remains claimable. 72 hours
// balances recipient response time against how long an intercepted token
// stays exploitable.
const DefaultClaimTTL = 72 * time.Hour

// DefaultRunHour is the local hour of day at which the daily sweep runs.
const DefaultRunHour = 3

// DefaultSweepTimeout bounds a single sweep run.
const DefaultSweepTimeout = 5 * time.Minute

// JobType labels sweep runs in job metrics.
const JobType = "claim_sweep"

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// Config configures the expiration sweeper.
type Config struct {
	// ClaimTTL is the age past which a sent claim expires.
	ClaimTTL time.Duration
	// RunHour is the hour of day (0-23) for the daily run.
	RunHour int
	// Location pins the schedule to a time zone; defaults to UTC.
	Location *time.Location
	// Timeout bounds each sweep run.
	Timeout time.Duration
	// Logger for sweep activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
	// Now supplies the clock; defaults to time.Now.
	Now func() time.Time
}

// Result summarizes one sweep run.
type Result struct {
	// Matched is the number of stale sent claims the query found.
	Matched int
	// Expired is the number of rows the batch mutation actually applied;
	// rows claimed between query and commit are voided by the per-row
	// status condition and do not count.
	Expired int
	// AuditFailures counts audit entries that could not be written. These
	// never roll back the committed mutation.
	AuditFailures int
}

// Sweeper finds claims stuck in sent past the deadline and batch-transitions
// them to expired. It runs as a single non-overlapping scheduled invocation.
type Sweeper struct {
	store  claim.Store
	sink   audit.Sink
	config Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new Sweeper.
func New(config Config, store claim.Store, sink audit.Sink) *Sweeper {
	if config.ClaimTTL == 0 {
		config.ClaimTTL = DefaultClaimTTL
	}
	if config.RunHour < 0 || config.RunHour > 23 {
		config.RunHour = DefaultRunHour
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSweepTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Sweeper{
		store:  store,
		sink:   sink,
		config: config,
	}
}

// SweepOnce performs a single sweep as of now. The primary mutation is one
// atomic batch conditioned per row on status still being sent, so a claim
// processed between query and commit is voided rather than overwritten.
// Audit emission fans out after the commit; individual audit failures are
// aggregated and logged but never unwind the mutation. Only the query and
// the batch mutation are fatal to the run.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (*Result, error) {
	cutoff := now.Add(-s.config.ClaimTTL)

	stale, err := s.store.QuerySentBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale claim query failed: %w", err)
	}

	if len(stale) == 0 {
		s.config.Logger.Info("sweep found no stale claims", "cutoff", cutoff)
		return &Result{}, nil
	}

	updates := make([]claim.BatchUpdate, 0, len(stale))
	byID := make(map[string]*claim.Request, len(stale))
	for _, req := range stale {
		byID[req.RequestID] = req
		updates = append(updates, claim.BatchUpdate{
			RequestID:      req.RequestID,
			ExpectedStatus: claim.StatusSent,
			Fields: claim.UpdateFields{
				Status:    claim.StatusExpired,
				UpdatedAt: now,
			},
		})
	}

	applied, err := s.store.BatchConditionalUpdate(ctx, updates)
	if err != nil {
		return nil, fmt.Errorf("expiration batch failed: %w", err)
	}

	result := &Result{
		Matched: len(stale),
		Expired: len(applied),
	}

	// Post-commit fan-out: one audit entry per expired claim, best-effort.
	for _, requestID := range applied {
		req := byID[requestID]
		entry := audit.Entry{
			LogID:     audit.NewLogID(),
			Event:     audit.EventClaimExpired,
			Actor:     audit.ActorSystem,
			Tenant:    req.Tenant,
			LpID:      req.LpID,
			RequestID: requestID,
			EmailHash: audit.HashEmail(req.Email),
			Metadata: map[string]string{
				"sentAt":    req.SentAt.UTC().Format(time.RFC3339),
				"expiredAt": now.UTC().Format(time.RFC3339),
			},
			Timestamp: now.UTC(),
		}
		if err := s.sink.Append(ctx, entry); err != nil {
			result.AuditFailures++
			s.config.Logger.Error("audit write failed for expired claim",
				"request_id", requestID,
				"error", errors.Join(audit.ErrAuditWriteFailed, err))
		}
	}

	s.config.Logger.Info("sweep completed",
		"matched", result.Matched,
		"expired", result.Expired,
		"voided", result.Matched-result.Expired,
		"audit_failures", result.AuditFailures)

	return result, nil
}

// Start begins the daily sweep loop. Returns immediately; the job runs in a
// background goroutine pinned to the configured time zone.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the main loop: sleep until the next scheduled run, sweep, repeat.
// The loop is single, so runs never overlap.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		now := s.config.Now().In(s.config.Location)
		next := s.nextRun(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.config.Logger.Info("sweeper stopping due to context cancellation")
			return
		case <-s.stopCh:
			timer.Stop()
			s.config.Logger.Info("sweeper stopping due to stop signal")
			return
		case <-timer.C:
			s.runScheduled(ctx)
		}
	}
}

// runScheduled executes one sweep with timeout and metrics accounting.
func (s *Sweeper) runScheduled(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, s.config.Timeout)
	defer cancel()

	start := s.config.Now()
	result, err := s.SweepOnce(ctx, start)
	duration := s.config.Now().Sub(start).Seconds()

	if s.config.JobMetrics != nil {
		s.config.JobMetrics.ObserveJobDuration(JobType, duration)
	}

	if err != nil {
		// Query or primary mutation failed: fatal for this run, surfaced
		// for operator visibility, not retried in-process.
		s.config.Logger.Error("sweep run failed", "error", err)
		if s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobsTotal(JobType, "failure")
			s.config.JobMetrics.IncJobErrors(JobType, "store_error")
		}
		return
	}

	if s.config.JobMetrics != nil {
		s.config.JobMetrics.IncJobsTotal(JobType, "success")
		if result.AuditFailures > 0 {
			s.config.JobMetrics.IncJobErrors(JobType, "audit_write_failed")
		}
	}
}

// nextRun returns the next scheduled run time strictly after now, at the
// configured hour in the pinned time zone.
func (s *Sweeper) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.config.RunHour, 0, 0, 0, s.config.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
