package db

import (
	"context"
	"time"

	"dailybrief/internal/types"
)

// RunLockRepository provides the cross-process concurrency guard via the
// run_locks table. The locking mechanism uses INSERT ... ON CONFLICT DO
// UPDATE to atomically acquire a lease, ensuring overlapping triggers for
// the same digest type collapse to a single active run even across
// separate processes.
type RunLockRepository struct {
	db DBTX
}

// NewRunLockRepository creates a new RunLockRepository backed by the given
// database connection (pool or transaction).
func NewRunLockRepository(db DBTX) *RunLockRepository {
	return &RunLockRepository{db: db}
}

// Acquire attempts to take the lease for a digest type. Returns true if
// acquired, false if another run holds a non-stale lease. The lockID is
// the digest type so concurrent daily and breaking runs do not contend.
//
// SQL pattern:
//
//	INSERT INTO run_locks (id, run_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET run_id = EXCLUDED.run_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE run_locks.expires_at < $3
//
// locked_at ($3) and expires_at ($4) are computed as time.Time values in
// Go to avoid PostgreSQL interval parsing incompatibilities with Go's
// duration format.
//
// If the existing lease has expired (expires_at < current time), the
// UPDATE succeeds and the caller reclaims the lease from the crashed run.
// If the lease is still active, the ON CONFLICT WHERE clause prevents the
// update and zero rows are affected.
func (r *RunLockRepository) Acquire(ctx context.Context, lockID string, runID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO run_locks (id, run_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET run_id = EXCLUDED.run_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE run_locks.expires_at < $3`,
		lockID,
		runID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire run lock", err)
	}

	// RowsAffected is 1 if the INSERT succeeded (new lease) or if the
	// ON CONFLICT UPDATE matched (stale lease reclaimed). It is 0 if the
	// lease exists and has not expired (another run holds it).
	return tag.RowsAffected() > 0, nil
}

// Release frees the lease, but only if this run still holds it. A run
// that outlived its own lease must not release a lease a successor has
// since reclaimed, so the run_id is part of the predicate. Returns true
// if the lease was released by this call.
func (r *RunLockRepository) Release(ctx context.Context, lockID string, runID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM run_locks WHERE id = $1 AND run_id = $2`,
		lockID,
		runID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to release run lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Extend pushes the lease expiry forward for a long run that is still
// making progress. Only the holding run may extend. Returns false when
// the lease was lost (expired and reclaimed by another run).
func (r *RunLockRepository) Extend(ctx context.Context, lockID string, runID string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().UTC().Add(ttl)

	tag, err := r.db.Exec(ctx,
		`UPDATE run_locks SET expires_at = $3
		 WHERE id = $1 AND run_id = $2`,
		lockID,
		runID,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to extend run lock", err)
	}
	return tag.RowsAffected() > 0, nil
}
