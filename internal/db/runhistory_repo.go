package db

import (
	"context"

	"dailybrief/internal/types"
)

// RunHistoryRepository provides data access for the run_history table.
// Run history rows track each scheduler invocation for operational
// visibility: when it started, how it finished, and the counter summary
// it produced.
type RunHistoryRepository struct {
	db DBTX
}

// NewRunHistoryRepository creates a new RunHistoryRepository backed by
// the given database connection (pool or transaction).
func NewRunHistoryRepository(db DBTX) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

// Start inserts a new run_history row with status 'running' and returns
// the auto-generated BIGSERIAL ID. The caller uses this ID to later call
// Finish with the outcome.
func (r *RunHistoryRepository) Start(ctx context.Context, runID string, digestType types.DigestType, continuation bool) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO run_history (run_id, digest_type, continuation, started_at, status)
		 VALUES ($1, $2, $3, NOW(), 'running')
		 RETURNING id`,
		runID,
		string(digestType),
		continuation,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start run history entry", err)
	}
	return id, nil
}

// Finish updates the run_history row with the final status and the run's
// counter summary. The status should be 'success', 'partial', or
// 'failed'. If runErr is non-nil, its message is stored in the error
// column.
func (r *RunHistoryRepository) Finish(ctx context.Context, id int64, status string, result *types.RunResult, runErr error) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	var queued, sent, failed, remaining int
	if result != nil {
		queued = result.Queued
		sent = result.Sent
		failed = result.Failed
		remaining = result.RemainingPending
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE run_history
		 SET finished_at = NOW(), status = $2, queued = $3, sent = $4,
		     failed = $5, remaining_pending = $6, error = $7
		 WHERE id = $1`,
		id,
		status,
		queued,
		sent,
		failed,
		remaining,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish run history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "run history entry not found", nil)
	}
	return nil
}
