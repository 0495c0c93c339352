package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dailybrief/internal/types"
)

func TestRunLockRepository_Acquire_NewLease(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
			assert.Contains(t, sql, "run_locks.expires_at < $3")

			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, "daily", sqlArgs[0])
			assert.Equal(t, "run_abc", sqlArgs[1])

			lockedAt := sqlArgs[2].(time.Time)
			expiresAt := sqlArgs[3].(time.Time)
			assert.Equal(t, 55*time.Minute, expiresAt.Sub(lockedAt))
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, "daily", "run_abc", 55*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestRunLockRepository_Acquire_HeldByActiveRun(t *testing.T) {
	// A non-stale lease held by another run affects zero rows.
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	acquired, err := repo.Acquire(ctx, "daily", "run_late", 55*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
	db.AssertExpectations(t)
}

func TestRunLockRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.Acquire(ctx, "daily", "run_abc", 55*time.Minute)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestRunLockRepository_Release_ByHolder(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sqlArgs := args.Get(2).([]any)
			assert.Equal(t, "daily", sqlArgs[0])
			assert.Equal(t, "run_abc", sqlArgs[1])
		}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	released, err := repo.Release(ctx, "daily", "run_abc")
	require.NoError(t, err)
	assert.True(t, released)
	db.AssertExpectations(t)
}

func TestRunLockRepository_Release_LeaseLost(t *testing.T) {
	// A run whose lease expired and was reclaimed must not delete the
	// successor's lease; the run_id predicate makes the delete a no-op.
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	released, err := repo.Release(ctx, "daily", "run_stale")
	require.NoError(t, err)
	assert.False(t, released)
	db.AssertExpectations(t)
}

func TestRunLockRepository_Extend_StillHeld(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	extended, err := repo.Extend(ctx, "daily", "run_abc", 55*time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
	db.AssertExpectations(t)
}

func TestRunLockRepository_Extend_LeaseLost(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunLockRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	extended, err := repo.Extend(ctx, "daily", "run_gone", 55*time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
	db.AssertExpectations(t)
}
