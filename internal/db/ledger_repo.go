package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dailybrief/internal/types"
)

// LedgerRepository provides data access for the digest_ledger table: the
// append-only, durable record of every send attempt. It is the
// authoritative source consulted by the eligibility filter and the
// defense-in-depth check before each send.
//
// Rows are never updated except for the monotonic engagement upgrade
// sent -> opened -> clicked, enforced in SQL rather than application code.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts one ledger row for an attempted send. The caller may
// leave ID empty to have a prefixed UUID generated.
func (r *LedgerRepository) Append(ctx context.Context, e *types.LedgerEntry) error {
	if e.ID == "" {
		e.ID = "led_" + uuid.New().String()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO digest_ledger
		 (id, recipient_id, digest_type, local_date, status, subject,
		  article_count, provider_message_id, sent_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID,
		e.RecipientID,
		string(e.DigestType),
		e.LocalDate,
		string(e.Status),
		nilIfEmpty(e.Subject),
		e.ArticleCount,
		nilIfEmpty(e.ProviderMsgID),
		e.SentAt,
		e.Metadata,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append ledger entry", err)
	}
	return nil
}

// HasSentOn reports whether a successful send (status sent, opened, or
// clicked — engagement upgrades still prove delivery) is recorded for the
// recipient, digest type, and local calendar date. This is the
// authoritative dedup check: it closes the race where a previous run
// wrote the ledger but crashed before refreshing the recipient's cached
// lastSentAt field.
func (r *LedgerRepository) HasSentOn(ctx context.Context, recipientID string, digestType types.DigestType, localDate string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM digest_ledger
			WHERE recipient_id = $1
			  AND digest_type = $2
			  AND local_date = $3
			  AND status IN ('sent', 'opened', 'clicked')
		 )`,
		recipientID,
		string(digestType),
		localDate,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to query ledger for dedup", err)
	}
	return exists, nil
}

// MarkOpened upgrades a ledger row from sent to opened, recording the
// open timestamp. Monotonic: rows already opened or clicked are left
// untouched (zero rows affected is not an error — tracking pixels fire
// repeatedly).
func (r *LedgerRepository) MarkOpened(ctx context.Context, ledgerID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE digest_ledger SET
			status = 'opened',
			opened_at = $2
		 WHERE id = $1 AND status = 'sent'`,
		ledgerID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark ledger entry opened", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already upgraded or the ID is unknown; distinguish for the caller.
		return r.checkExists(ctx, ledgerID)
	}
	return nil
}

// MarkClicked upgrades a ledger row to clicked, recording the click
// timestamp and backfilling opened_at when the pixel never fired. Valid
// from sent or opened; clicked rows are left untouched.
func (r *LedgerRepository) MarkClicked(ctx context.Context, ledgerID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE digest_ledger SET
			status = 'clicked',
			clicked_at = $2,
			opened_at = COALESCE(opened_at, $2)
		 WHERE id = $1 AND status IN ('sent', 'opened')`,
		ledgerID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark ledger entry clicked", err)
	}
	if tag.RowsAffected() == 0 {
		return r.checkExists(ctx, ledgerID)
	}
	return nil
}

// checkExists resolves the ambiguity of a zero-row engagement update:
// a missing row is a not-found error, an already-upgraded row is fine.
func (r *LedgerRepository) checkExists(ctx context.Context, ledgerID string) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM digest_ledger WHERE id = $1)`,
		ledgerID,
	).Scan(&exists)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check ledger entry existence", err)
	}
	if !exists {
		return types.NewAppError(types.ErrCodeNotFoundLedgerEntry, "ledger entry not found", nil)
	}
	return nil
}

// ListTerminalBefore returns terminal ledger rows older than the cutoff,
// ordered by sent_at, up to limit. Used by the archival sweep.
func (r *LedgerRepository) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.LedgerEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, recipient_id, digest_type, local_date, status, subject,
		        article_count, provider_message_id, sent_at, opened_at, clicked_at, metadata
		 FROM digest_ledger
		 WHERE sent_at < $1
		 ORDER BY sent_at
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable ledger entries", err)
	}
	defer rows.Close()

	var entries []*types.LedgerEntry
	for rows.Next() {
		var (
			e          types.LedgerEntry
			digestType string
			status     string
			subject    *string
			provider   *string
		)
		if err := rows.Scan(
			&e.ID,
			&e.RecipientID,
			&digestType,
			&e.LocalDate,
			&status,
			&subject,
			&e.ArticleCount,
			&provider,
			&e.SentAt,
			&e.OpenedAt,
			&e.ClickedAt,
			&e.Metadata,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan ledger entry", err)
		}
		e.DigestType = types.DigestType(digestType)
		e.Status = types.LedgerStatus(status)
		if subject != nil {
			e.Subject = *subject
		}
		if provider != nil {
			e.ProviderMsgID = *provider
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating ledger entries", err)
	}

	return entries, nil
}

// DeleteByIDs removes the given ledger rows after they have been archived.
// Returns the number of rows deleted.
func (r *LedgerRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM digest_ledger WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived ledger entries", err)
	}
	return tag.RowsAffected(), nil
}
