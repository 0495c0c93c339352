package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"dailybrief/internal/types"
)

// RecipientRepository provides read access to the recipients table plus
// the one write this subsystem owns: refreshing last_sent_at after a
// confirmed send. Profile management lives elsewhere; the scheduler only
// consumes the fields that drive eligibility.
type RecipientRepository struct {
	db DBTX
}

// NewRecipientRepository creates a new RecipientRepository backed by the
// given database connection (pool or transaction).
func NewRecipientRepository(db DBTX) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `id, email, display_name, timezone, frequency,
       preferred_hour, categories, last_sent_at, subscribed`

// ListSubscribed returns all subscribed recipients whose frequency is not
// 'never', ordered by id for deterministic sweep order. The eligibility
// filter narrows this candidate set further per run.
func (r *RecipientRepository) ListSubscribed(ctx context.Context) ([]*types.Recipient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+recipientColumns+`
		 FROM recipients
		 WHERE subscribed = TRUE AND frequency <> 'never'
		 ORDER BY id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscribed recipients", err)
	}
	defer rows.Close()

	var recipients []*types.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recipient", err)
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating recipients", err)
	}

	return recipients, nil
}

// GetByID returns one recipient or ErrCodeNotFoundRecipient.
func (r *RecipientRepository) GetByID(ctx context.Context, id string) (*types.Recipient, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = $1`,
		id,
	)
	rec, err := scanRecipient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get recipient", err)
	}
	return rec, nil
}

// UpdateLastSentAt refreshes the cached last-send instant after a
// confirmed delivery. Monotonic: an older instant never overwrites a
// newer one, so out-of-order worker completions cannot move the cache
// backwards.
func (r *RecipientRepository) UpdateLastSentAt(ctx context.Context, recipientID string, sentAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE recipients SET last_sent_at = $2
		 WHERE id = $1 AND (last_sent_at IS NULL OR last_sent_at < $2)`,
		recipientID,
		sentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update recipient last_sent_at", err)
	}
	return nil
}

// scanRecipient reads one recipient row using the recipientColumns
// select list. Works for both pgx.Row and pgx.Rows.
func scanRecipient(row interface{ Scan(dest ...any) error }) (*types.Recipient, error) {
	var (
		rec         types.Recipient
		displayName *string
		timezone    *string
		frequency   string
		preferred   *int
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Email,
		&displayName,
		&timezone,
		&frequency,
		&preferred,
		&rec.Categories,
		&rec.LastSentAt,
		&rec.Subscribed,
	); err != nil {
		return nil, err
	}
	if displayName != nil {
		rec.DisplayName = *displayName
	}
	if timezone != nil {
		rec.Timezone = *timezone
	}
	rec.Frequency = types.Frequency(frequency)
	if preferred != nil {
		rec.PreferredHour = *preferred
	} else {
		rec.PreferredHour = types.DefaultPreferredHour
	}
	return &rec, nil
}
