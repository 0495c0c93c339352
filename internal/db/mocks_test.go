package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for queue entry scans ---

// queueMockRows implements pgx.Rows for the queueColumns select list:
// (id string, recipient_id string, digest_type string, local_date string,
// scheduled_for time.Time, status string, attempt_count int,
// reclaim_count int, last_attempt_at *time.Time, last_error *string,
// payload []byte via sql.Scanner, created_at time.Time)
type queueMockRows struct {
	data    []queueRowData
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

type queueRowData struct {
	id           string
	recipientID  string
	digestType   string
	localDate    string
	scheduledFor time.Time
	status       string
	attemptCount int
	reclaimCount int
	lastAttempt  *time.Time
	lastError    *string
	payload      []byte
	createdAt    time.Time
}

func (r *queueMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *queueMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.recipientID
	*dest[2].(*string) = row.digestType
	*dest[3].(*string) = row.localDate
	*dest[4].(*time.Time) = row.scheduledFor
	*dest[5].(*string) = row.status
	*dest[6].(*int) = row.attemptCount
	*dest[7].(*int) = row.reclaimCount
	*dest[8].(**time.Time) = row.lastAttempt
	*dest[9].(**string) = row.lastError
	if scanner, ok := dest[10].(interface{ Scan(src any) error }); ok {
		if err := scanner.Scan(row.payload); err != nil {
			return err
		}
	}
	*dest[11].(*time.Time) = row.createdAt
	return nil
}

func (r *queueMockRows) Close()                                       { r.closed = true }
func (r *queueMockRows) Err() error                                   { return r.errVal }
func (r *queueMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *queueMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *queueMockRows) RawValues() [][]byte                          { return nil }
func (r *queueMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *queueMockRows) Conn() *pgx.Conn                              { return nil }

func strPtr(s string) *string {
	return &s
}
