package telemetry

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/resourcewatch/db"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/watch"
)

// RunRecord is one persisted run.
type RunRecord struct {
	ID           string
	Tenant       string
	RunType      watch.RunType
	Phase        watch.RunPhase
	StartedAt    time.Time
	Duration     time.Duration
	Found        int
	Normal       int
	NoNewData    int
	NoAction     int
	Errors       int
	Skipped      int
	Outcome      watch.RunOutcome
	ErrorMessage string
}

// HistoryStore persists run summaries in the watch_runs table.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a HistoryStore on a migrated database.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record stores one summary.
func (s *HistoryStore) Record(ctx context.Context, summary *watch.RunSummary) error {
	var errorMessage interface{}
	if summary.Err != nil {
		errorMessage = summary.Err.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_runs (
			id, tenant, run_type, phase, started_at, duration_ms,
			found, normal, no_new_data, no_action, errors, skipped, outcome, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.RunID,
		summary.Tenant,
		string(summary.RunType),
		string(summary.Phase),
		summary.StartedAt.UTC(),
		summary.Elapsed.Milliseconds(),
		summary.Found,
		summary.Results[watch.ResultNormal],
		summary.Results[watch.ResultNoNewData],
		summary.Results[watch.ResultNoAction],
		summary.Results[watch.ResultError],
		summary.Results[watch.ResultSkipped],
		string(summary.Outcome),
		errorMessage,
	)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to record run %s", summary.RunID), errors.ErrStoreFailed)
	}
	return nil
}

// List returns the most recent runs, newest first. An empty tenant lists all
// tenants. A limit of zero or less returns every run.
func (s *HistoryStore) List(ctx context.Context, tenant string, limit int) ([]RunRecord, error) {
	query := `
		SELECT id, tenant, run_type, phase, started_at, duration_ms,
		       found, normal, no_new_data, no_action, errors, skipped, outcome, error_message
		FROM watch_runs
		WHERE (? = '' OR tenant = ?)
		ORDER BY started_at DESC
	`
	args := []interface{}{tenant, tenant}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list runs"), errors.ErrStoreFailed)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var runType, phase, outcome string
		var durationMS int64
		var errorMessage sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Tenant, &runType, &phase, &r.StartedAt, &durationMS,
			&r.Found, &r.Normal, &r.NoNewData, &r.NoAction, &r.Errors, &r.Skipped, &outcome, &errorMessage,
		); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to scan run"), errors.ErrStoreFailed)
		}
		r.RunType = watch.RunType(runType)
		r.Phase = watch.RunPhase(phase)
		r.Outcome = watch.RunOutcome(outcome)
		r.StartedAt = r.StartedAt.UTC()
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.ErrorMessage = errorMessage.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to iterate runs"), errors.ErrStoreFailed)
	}
	return records, nil
}

// ConsecutiveFailures counts the tenant's failed runs since its last
// successful one, newest first. Cancelled runs are skipped; a run recorded
// without an outcome ends the count.
func (s *HistoryStore) ConsecutiveFailures(ctx context.Context, tenant string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome FROM watch_runs
		WHERE tenant = ?
		ORDER BY started_at DESC
	`, tenant)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "failed to count failed runs of tenant %s", tenant), errors.ErrStoreFailed)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return 0, errors.Mark(errors.Wrap(err, "failed to scan run outcome"), errors.ErrStoreFailed)
		}
		if watch.RunOutcome(outcome) == watch.OutcomeCancelled {
			continue
		}
		if watch.RunOutcome(outcome) != watch.OutcomeFailed {
			break
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to iterate run outcomes"), errors.ErrStoreFailed)
	}
	return count, nil
}

// HistoryObserver records every finished run in a HistoryStore. Recording
// failures are logged and never affect the run.
type HistoryObserver struct {
	watch.NopObserver
	store *HistoryStore
	log   *zap.SugaredLogger
}

// NewHistoryObserver creates a HistoryObserver.
func NewHistoryObserver(store *HistoryStore, log *zap.SugaredLogger) *HistoryObserver {
	if log == nil {
		log = logger.Logger
	}
	return &HistoryObserver{store: store, log: log}
}

func (o *HistoryObserver) RunStop(s *watch.RunSummary) {
	if err := o.store.Record(context.Background(), s); err != nil {
		if db.IsDatabaseClosed(err) {
			o.log.Debugw("Skipped run history, database is closed",
				logger.FieldTenant, s.Tenant,
				logger.FieldRunID, s.RunID)
			return
		}
		o.log.Warnw("Failed to record run history",
			logger.FieldTenant, s.Tenant,
			logger.FieldRunID, s.RunID,
			logger.FieldError, err)
	}
}
