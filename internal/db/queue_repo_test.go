package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/types"
)

// ============================================================
// Enqueue Tests
// ============================================================

func TestQueueRepository_Enqueue_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	e := &types.QueueEntry{
		RecipientID:  "rcp_1",
		DigestType:   types.DigestDaily,
		LocalDate:    "2026-08-28",
		ScheduledFor: time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC),
		Payload: types.QueuePayload{
			Email:            "a@example.com",
			ResolvedTimezone: "America/New_York",
		},
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ON CONFLICT (recipient_id, digest_type, local_date)")
			assert.Contains(t, sql, "DO NOTHING")
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.Enqueue(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(e.ID, "dq_"), "should generate a prefixed ID")
	assert.Equal(t, types.QueuePending, e.Status)
	db.AssertExpectations(t)
}

func TestQueueRepository_Enqueue_DuplicateIsNoOp(t *testing.T) {
	// A conflicting entry for the same (recipient, digest, local date)
	// must report created=false without error.
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	e := &types.QueueEntry{
		ID:          "dq_dup",
		RecipientID: "rcp_1",
		DigestType:  types.DigestDaily,
		LocalDate:   "2026-08-28",
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.Enqueue(ctx, e)
	require.NoError(t, err)
	assert.False(t, created)
	db.AssertExpectations(t)
}

func TestQueueRepository_Enqueue_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	e := &types.QueueEntry{ID: "dq_fail", RecipientID: "rcp_1", DigestType: types.DigestDaily, LocalDate: "2026-08-28"}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.Enqueue(ctx, e)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// ============================================================
// ClaimBatch Tests
// ============================================================

func TestQueueRepository_ClaimBatch_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	attempt := now.Add(-time.Second)

	rows := &queueMockRows{
		data: []queueRowData{
			{
				id:           "dq_1",
				recipientID:  "rcp_1",
				digestType:   "daily",
				localDate:    "2026-08-28",
				scheduledFor: now,
				status:       "processing",
				attemptCount: 1,
				lastAttempt:  &attempt,
				payload:      []byte(`{"email":"a@example.com","resolved_timezone":"UTC"}`),
				createdAt:    now,
			},
			{
				id:           "dq_2",
				recipientID:  "rcp_2",
				digestType:   "daily",
				localDate:    "2026-08-28",
				scheduledFor: now.Add(time.Minute),
				status:       "processing",
				attemptCount: 2,
				reclaimCount: 1,
				lastAttempt:  &attempt,
				lastError:    strPtr("provider returned 503"),
				payload:      []byte(`{"email":"b@example.com","resolved_timezone":"Asia/Tokyo"}`),
				createdAt:    now,
			},
		},
		idx: -1,
	}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "FOR UPDATE SKIP LOCKED")
			assert.Contains(t, sql, "status = 'processing'")
		}).
		Return(rows, nil)

	entries, err := repo.ClaimBatch(ctx, types.DigestDaily, 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "dq_1", entries[0].ID)
	assert.Equal(t, types.QueueProcessing, entries[0].Status)
	assert.Equal(t, 1, entries[0].AttemptCount)
	assert.Equal(t, "a@example.com", entries[0].Payload.Email)

	assert.Equal(t, "dq_2", entries[1].ID)
	assert.Equal(t, 1, entries[1].ReclaimCount)
	assert.Equal(t, "provider returned 503", entries[1].LastError)
	assert.Equal(t, "Asia/Tokyo", entries[1].Payload.ResolvedTimezone)

	db.AssertExpectations(t)
}

func TestQueueRepository_ClaimBatch_RestoresScheduledOrder(t *testing.T) {
	// UPDATE ... RETURNING makes no ordering promise even though the
	// inner SELECT is ordered, so claimed entries must come back sorted
	// by scheduled_for regardless of row order on the wire.
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)

	rows := &queueMockRows{
		data: []queueRowData{
			{
				id:           "dq_late",
				recipientID:  "rcp_3",
				digestType:   "daily",
				localDate:    "2026-08-28",
				scheduledFor: base.Add(2 * time.Minute),
				status:       "processing",
				attemptCount: 1,
				payload:      []byte(`{"email":"c@example.com","resolved_timezone":"UTC"}`),
				createdAt:    base,
			},
			{
				id:           "dq_early",
				recipientID:  "rcp_1",
				digestType:   "daily",
				localDate:    "2026-08-28",
				scheduledFor: base,
				status:       "processing",
				attemptCount: 1,
				payload:      []byte(`{"email":"a@example.com","resolved_timezone":"UTC"}`),
				createdAt:    base,
			},
			{
				id:           "dq_mid",
				recipientID:  "rcp_2",
				digestType:   "daily",
				localDate:    "2026-08-28",
				scheduledFor: base.Add(time.Minute),
				status:       "processing",
				attemptCount: 1,
				payload:      []byte(`{"email":"b@example.com","resolved_timezone":"UTC"}`),
				createdAt:    base,
			},
		},
		idx: -1,
	}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	entries, err := repo.ClaimBatch(ctx, types.DigestDaily, 50)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "dq_early", entries[0].ID)
	assert.Equal(t, "dq_mid", entries[1].ID)
	assert.Equal(t, "dq_late", entries[2].ID)
	db.AssertExpectations(t)
}

func TestQueueRepository_ClaimBatch_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	rows := &queueMockRows{data: []queueRowData{}, idx: -1}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	entries, err := repo.ClaimBatch(ctx, types.DigestDaily, 50)
	require.NoError(t, err)
	assert.Empty(t, entries)
	db.AssertExpectations(t)
}

func TestQueueRepository_ClaimBatch_DefaultLimit(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	rows := &queueMockRows{data: []queueRowData{}, idx: -1}

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			// With limit=0, should default to 50
			assert.Equal(t, 50, sqlArgs[1])
		}).
		Return(rows, nil)

	_, err := repo.ClaimBatch(ctx, types.DigestDaily, 0)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestQueueRepository_ClaimBatch_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("deadlock"))

	_, err := repo.ClaimBatch(ctx, types.DigestDaily, 50)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// ============================================================
// MarkSent / MarkFailed Tests
// ============================================================

func TestQueueRepository_MarkSent_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "status NOT IN ('sent', 'failed', 'cancelled')")
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkSent(ctx, "dq_1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestQueueRepository_MarkSent_AlreadyTerminal(t *testing.T) {
	// Re-marking a terminal entry affects zero rows and surfaces a
	// conflict error the caller treats as a warning, not an abort.
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkSent(ctx, "dq_done")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictTerminalEntry, appErr.Code)
	db.AssertExpectations(t)
}

func TestQueueRepository_MarkFailed_RecordsReason(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, "failed", sqlArgs[1])
			require.NotNil(t, sqlArgs[2])
			assert.Equal(t, "no_content", *sqlArgs[2].(*string))
		}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkFailed(ctx, "dq_1", types.FailureNoContent)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

// ============================================================
// ReclaimStale Tests
// ============================================================

func TestQueueRepository_ReclaimStale_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	// First Exec fails over-reclaimed entries, second reclaims the rest.
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "reclaim_budget_exhausted")
	}), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "reclaim_count = reclaim_count + 1")
	}), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 3"), nil)

	reclaimed, err := repo.ReclaimStale(ctx, types.DigestDaily, 30*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, reclaimed)
	db.AssertExpectations(t)
}

func TestQueueRepository_ReclaimStale_NothingStale(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Twice()

	reclaimed, err := repo.ReclaimStale(ctx, types.DigestDaily, 30*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	db.AssertExpectations(t)
}

func TestQueueRepository_ReclaimStale_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("table locked"))

	_, err := repo.ReclaimStale(ctx, types.DigestDaily, 30*time.Minute, 3)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// ============================================================
// CountPending / CancelPending / PurgeTerminalBefore Tests
// ============================================================

func TestQueueRepository_CountPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*int) = 17
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(row)

	count, err := repo.CountPending(ctx, types.DigestDaily)
	require.NoError(t, err)
	assert.Equal(t, 17, count)
	db.AssertExpectations(t)
}

func TestQueueRepository_CancelPending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "status = 'cancelled'")
			assert.Contains(t, sql, "digest_disabled")
		}).
		Return(pgconn.NewCommandTag("UPDATE 5"), nil)

	cancelled, err := repo.CancelPending(ctx, types.DigestBreaking)
	require.NoError(t, err)
	assert.Equal(t, 5, cancelled)
	db.AssertExpectations(t)
}

func TestQueueRepository_PurgeTerminalBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewQueueRepository(db)
	ctx := context.Background()

	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 42"), nil)

	count, err := repo.PurgeTerminalBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	db.AssertExpectations(t)
}
