package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dailybrief/internal/types"
)

// QueueRepository provides data access for the digest_queue table: the
// durable, status-tagged work list decoupling "who is owed a digest" from
// "who has been sent one in this invocation".
//
// The core uniqueness invariant — at most one non-terminal-or-sent entry
// per (recipient_id, digest_type, local_date) — is enforced by a partial
// unique index, not application checks:
//
//	CREATE UNIQUE INDEX uq_digest_queue_owed
//	  ON digest_queue (recipient_id, digest_type, local_date)
//	  WHERE status IN ('pending', 'processing', 'sent');
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a new QueueRepository backed by the given
// database connection (pool or transaction).
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// queueColumns is the canonical select list shared by the claim and list
// queries.
const queueColumns = `id, recipient_id, digest_type, local_date, scheduled_for,
       status, attempt_count, reclaim_count, last_attempt_at, last_error,
       payload, created_at`

// Enqueue inserts a pending entry for one owed delivery. Insertion is the
// enforcement point of the uniqueness invariant: a conflicting insert
// (an entry for the same recipient, digest type, and local date that is
// pending, processing, or already sent) is a no-op, and Enqueue reports
// created=false without error.
//
// SQL pattern:
//
//	INSERT INTO digest_queue (...) VALUES (...)
//	ON CONFLICT (recipient_id, digest_type, local_date)
//	  WHERE status IN ('pending','processing','sent')
//	  DO NOTHING
func (r *QueueRepository) Enqueue(ctx context.Context, e *types.QueueEntry) (bool, error) {
	if e.ID == "" {
		e.ID = "dq_" + uuid.New().String()
	}
	if e.Status == "" {
		e.Status = types.QueuePending
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO digest_queue
		 (id, recipient_id, digest_type, local_date, scheduled_for, status, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (recipient_id, digest_type, local_date)
		   WHERE status IN ('pending', 'processing', 'sent')
		   DO NOTHING`,
		e.ID,
		e.RecipientID,
		string(e.DigestType),
		e.LocalDate,
		e.ScheduledFor,
		string(e.Status),
		e.Payload,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue digest", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ClaimBatch atomically selects up to limit pending entries in
// scheduled-for order, flips them to processing, and returns them. Safe
// under concurrent callers: the inner SELECT uses FOR UPDATE SKIP LOCKED
// so no two workers claim the same entry, and the flip happens in the same
// statement rather than a read-then-write pair.
func (r *QueueRepository) ClaimBatch(ctx context.Context, digestType types.DigestType, limit int) ([]*types.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`UPDATE digest_queue SET
			status = 'processing',
			attempt_count = attempt_count + 1,
			last_attempt_at = NOW()
		 WHERE id IN (
			SELECT id FROM digest_queue
			WHERE digest_type = $1 AND status = 'pending'
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING %s`, queueColumns),
		string(digestType),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim queue batch", err)
	}
	defer rows.Close()

	entries, err := scanQueueEntries(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed entries", err)
	}

	// UPDATE ... RETURNING does not preserve the inner SELECT's order,
	// so the scheduled-for ordering is restored here.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ScheduledFor.Before(entries[j].ScheduledFor)
	})

	return entries, nil
}

// MarkSent transitions a processing entry to the terminal sent state.
// Idempotent: re-marking an already-terminal entry affects zero rows and
// returns ErrCodeConflictTerminalEntry, which callers log as a warning
// rather than aborting the batch.
func (r *QueueRepository) MarkSent(ctx context.Context, entryID string) error {
	return r.markTerminal(ctx, entryID, types.QueueSent, "")
}

// MarkFailed transitions a processing entry to the terminal failed state,
// recording the failure reason. Idempotent in the same way as MarkSent.
func (r *QueueRepository) MarkFailed(ctx context.Context, entryID string, reason string) error {
	return r.markTerminal(ctx, entryID, types.QueueFailed, reason)
}

// markTerminal is the guarded terminal transition shared by MarkSent and
// MarkFailed. The WHERE clause excludes rows already in a terminal state,
// making re-marks observable no-ops instead of silent overwrites.
func (r *QueueRepository) markTerminal(ctx context.Context, entryID string, status types.QueueStatus, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE digest_queue SET
			status = $2,
			last_error = $3,
			last_attempt_at = NOW()
		 WHERE id = $1
		   AND status NOT IN ('sent', 'failed', 'cancelled')`,
		entryID,
		string(status),
		nilIfEmpty(reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark queue entry terminal", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTerminalEntry,
			fmt.Sprintf("queue entry %s is already terminal or missing", entryID), nil)
	}
	return nil
}

// ReclaimStale returns entries stuck in processing past the staleness
// threshold (a crashed or budget-expired worker) to pending so the next
// invocation picks them up. Each entry is reclaimed at most maxReclaims
// times; beyond that it is failed outright to avoid infinite retry storms.
//
// Returns the number of entries reclaimed to pending.
func (r *QueueRepository) ReclaimStale(ctx context.Context, digestType types.DigestType, staleness time.Duration, maxReclaims int) (int, error) {
	cutoff := time.Now().UTC().Add(-staleness)

	// Entries past the reclaim budget are terminally failed first so the
	// reclaim below cannot resurrect them.
	_, err := r.db.Exec(ctx,
		`UPDATE digest_queue SET
			status = 'failed',
			last_error = 'reclaim_budget_exhausted'
		 WHERE digest_type = $1
		   AND status = 'processing'
		   AND last_attempt_at < $2
		   AND reclaim_count >= $3`,
		string(digestType),
		cutoff,
		maxReclaims,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire over-reclaimed entries", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE digest_queue SET
			status = 'pending',
			reclaim_count = reclaim_count + 1
		 WHERE digest_type = $1
		   AND status = 'processing'
		   AND last_attempt_at < $2
		   AND reclaim_count < $3`,
		string(digestType),
		cutoff,
		maxReclaims,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim stale entries", err)
	}

	return int(tag.RowsAffected()), nil
}

// CountPending returns the number of pending entries for the digest type.
// Reported as remainingPending in partial-completion run results.
func (r *QueueRepository) CountPending(ctx context.Context, digestType types.DigestType) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM digest_queue WHERE digest_type = $1 AND status = 'pending'`,
		string(digestType),
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count pending entries", err)
	}
	return count, nil
}

// CancelPending marks all pending entries for a digest type as cancelled.
// Used when a digest is disabled by policy; processing entries are left to
// finish because sends cannot be un-sent.
func (r *QueueRepository) CancelPending(ctx context.Context, digestType types.DigestType) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE digest_queue SET
			status = 'cancelled',
			last_error = 'digest_disabled'
		 WHERE digest_type = $1 AND status = 'pending'`,
		string(digestType),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel pending entries", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeTerminalBefore hard-deletes terminal entries older than the cutoff.
// Used by the retention sweep; returns the count of deleted rows.
func (r *QueueRepository) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM digest_queue
		 WHERE status IN ('sent', 'failed', 'cancelled') AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge terminal entries", err)
	}
	return tag.RowsAffected(), nil
}

// scanQueueEntries reads queue rows using the queueColumns select list.
func scanQueueEntries(rows pgx.Rows) ([]*types.QueueEntry, error) {
	var entries []*types.QueueEntry
	for rows.Next() {
		var (
			e           types.QueueEntry
			digestType  string
			status      string
			lastAttempt *time.Time
			lastError   *string
		)
		if err := rows.Scan(
			&e.ID,
			&e.RecipientID,
			&digestType,
			&e.LocalDate,
			&e.ScheduledFor,
			&status,
			&e.AttemptCount,
			&e.ReclaimCount,
			&lastAttempt,
			&lastError,
			&e.Payload,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.DigestType = types.DigestType(digestType)
		e.Status = types.QueueStatus(status)
		e.LastAttempt = lastAttempt
		if lastError != nil {
			e.LastError = *lastError
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
