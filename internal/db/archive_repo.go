package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dailybrief/internal/types"
)

// ArchiveRepository stores compressed ledger archives in the
// ledger_archives table. Each row holds one zstd-compressed JSON batch of
// ledger entries removed from the hot table by the retention sweep.
type ArchiveRepository struct {
	db DBTX
}

// NewArchiveRepository creates a new ArchiveRepository backed by the
// given database connection (pool or transaction).
func NewArchiveRepository(db DBTX) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Store inserts one archive blob covering entryCount ledger entries whose
// sent_at values span [oldest, newest]. Returns the archive row ID.
func (r *ArchiveRepository) Store(ctx context.Context, compressed []byte, entryCount int, oldest, newest time.Time) (string, error) {
	id := "arc_" + uuid.New().String()

	_, err := r.db.Exec(ctx,
		`INSERT INTO ledger_archives (id, entry_count, oldest_sent_at, newest_sent_at, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		id,
		entryCount,
		oldest,
		newest,
		compressed,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to store ledger archive", err)
	}
	return id, nil
}

// Fetch returns the compressed body of one archive row.
func (r *ArchiveRepository) Fetch(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := r.db.QueryRow(ctx,
		`SELECT body FROM ledger_archives WHERE id = $1`,
		id,
	).Scan(&body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch ledger archive", err)
	}
	return body, nil
}
