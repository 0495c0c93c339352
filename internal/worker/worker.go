// Package worker implements the delivery worker: it drains the durable
// digest queue in bounded batches, renders and sends each owed digest,
// and records outcomes in the queue and the dedup ledger.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"dailybrief/internal/email"
	"dailybrief/internal/external"
	"dailybrief/internal/types"
)

// Queue is the narrow queue surface the worker needs. Implemented by
// db.QueueRepository.
type Queue interface {
	ClaimBatch(ctx context.Context, digestType types.DigestType, limit int) ([]*types.QueueEntry, error)
	MarkSent(ctx context.Context, entryID string) error
	MarkFailed(ctx context.Context, entryID string, reason string) error
	CountPending(ctx context.Context, digestType types.DigestType) (int, error)
}

// Ledger is the append surface for recording send outcomes. Implemented
// by db.LedgerRepository.
type Ledger interface {
	Append(ctx context.Context, e *types.LedgerEntry) error
}

// Recipients is the post-send cache refresh surface. Implemented by
// db.RecipientRepository.
type Recipients interface {
	UpdateLastSentAt(ctx context.Context, recipientID string, sentAt time.Time) error
}

// Metrics receives delivery observations. Implementations may fan out to
// CloudWatch, Prometheus, or both.
type Metrics interface {
	RecordDeliveryAttempt(ctx context.Context, digestType types.DigestType, outcome string)
	ObserveSendLatency(ctx context.Context, digestType types.DigestType, d time.Duration)
}

// Config tunes one worker instance.
type Config struct {
	BatchSize   int
	SendRate    rate.Limit // sends per second against the email provider
	FromAddress string
	FromName    string
	TrackingURL string
	// ContentLookback is how far back the article window reaches from
	// the run instant.
	ContentLookback time.Duration
}

// Worker drains pending queue entries for one digest type.
type Worker struct {
	queue      Queue
	ledger     Ledger
	recipients Recipients
	content    external.ContentProvider
	provider   external.EmailProvider
	metrics    Metrics
	limiter    *rate.Limiter
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time // injectable clock for budget tests
}

// New creates a Worker. A nil metrics sink disables metric emission.
func New(
	queue Queue,
	ledger Ledger,
	recipients Recipients,
	content external.ContentProvider,
	provider external.EmailProvider,
	metrics Metrics,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 5
	}
	if cfg.ContentLookback <= 0 {
		cfg.ContentLookback = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Worker{
		queue:      queue,
		ledger:     ledger,
		recipients: recipients,
		content:    content,
		provider:   provider,
		metrics:    metrics,
		limiter:    rate.NewLimiter(cfg.SendRate, 1),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// DrainResult summarizes one Drain invocation.
type DrainResult struct {
	Sent             int
	Failed           int
	RemainingPending int
}

// Drain claims and delivers pending entries for the digest type until the
// queue is empty or the deadline is too close to safely start another
// batch. RemainingPending reports all owed work left behind -- pending
// rows plus any claimed entries the budget cut off mid-batch -- so the
// caller can schedule a continuation run.
//
// Content is fetched once per invocation. An empty article set
// short-circuits the whole drain: every claimed entry is failed with
// reason no_content and no ledger sent rows are written.
func (w *Worker) Drain(ctx context.Context, digestType types.DigestType, deadline time.Time) (*DrainResult, error) {
	res := &DrainResult{}

	runAt := w.now().UTC()
	articles, err := w.content.FetchArticles(ctx, digestType, types.ContentWindow{
		Start: runAt.Add(-w.cfg.ContentLookback),
		End:   runAt,
	}, nil)
	if err != nil {
		return nil, err
	}

	for {
		if !w.budgetAllowsBatch(deadline) {
			break
		}

		batch, err := w.queue.ClaimBatch(ctx, digestType, w.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		if len(articles) == 0 {
			// A legitimately empty window means there is nothing worth
			// sending; fail the claimed entries terminally rather than
			// leave them to be reclaimed and retried forever.
			w.logger.WarnContext(ctx, "content window empty, failing claimed batch",
				"digest_type", digestType,
				"claimed", len(batch),
			)
			for _, entry := range batch {
				w.markFailed(ctx, entry, types.FailureNoContent)
				res.Failed++
			}
			break
		}

		for i, entry := range batch {
			if w.now().After(deadline) {
				// Budget expired mid-batch. The unprocessed tail of the
				// claimed batch stays processing until the staleness
				// sweep returns it to pending, but it is still owed
				// work, so it counts toward the continuation signal
				// alongside the rows never claimed.
				leftover := len(batch) - i
				res.RemainingPending = leftover
				remaining, cerr := w.queue.CountPending(ctx, digestType)
				if cerr != nil {
					w.logger.WarnContext(ctx, "failed to count pending entries on budget exit",
						"digest_type", digestType,
						"error", cerr,
					)
					return res, nil
				}
				res.RemainingPending = remaining + leftover
				return res, nil
			}

			if err := w.deliver(ctx, entry, articles); err != nil {
				res.Failed++
			} else {
				res.Sent++
			}
		}
	}

	remaining, err := w.queue.CountPending(ctx, digestType)
	if err != nil {
		return res, err
	}
	res.RemainingPending = remaining
	return res, nil
}

// budgetAllowsBatch leaves headroom before the deadline so a batch is
// never started that would immediately be cut off.
func (w *Worker) budgetAllowsBatch(deadline time.Time) bool {
	return w.now().Add(5 * time.Second).Before(deadline)
}

// deliver renders and sends one entry, then records the outcome: queue
// terminal state first, ledger row second. If the ledger append fails
// after a successful send, the entry stays sent and the gap is logged
// for reconciliation; an email already left the system and must never be
// resent.
func (w *Worker) deliver(ctx context.Context, entry *types.QueueEntry, articles []types.Article) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	ledgerID := "led_" + entry.ID
	personalized := personalize(articles, entry.Payload.Categories)

	rendered, err := email.Render(email.RenderInput{
		DisplayName: entry.Payload.DisplayName,
		DigestType:  entry.DigestType,
		LocalDate:   entry.LocalDate,
		Articles:    personalized,
		TrackingURL: w.cfg.TrackingURL,
		LedgerID:    ledgerID,
	})
	if err != nil {
		w.markFailed(ctx, entry, "render: "+err.Error())
		return err
	}

	sendStart := w.now()
	providerMsgID, sendErr := w.provider.Send(ctx, types.SendInput{
		To:          entry.Payload.Email,
		FromAddress: w.cfg.FromAddress,
		FromName:    w.cfg.FromName,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: ledgerID,
	})
	w.metrics.ObserveSendLatency(ctx, entry.DigestType, w.now().Sub(sendStart))

	if sendErr != nil {
		// Ambiguous and terminal failures alike are failed, not
		// retried: the dedup guarantee outranks delivery certainty.
		w.logger.ErrorContext(ctx, "digest send failed",
			"entry_id", entry.ID,
			"recipient_id", entry.RecipientID,
			"to", email.RedactEmail(entry.Payload.Email),
			"error", sendErr,
		)
		w.markFailed(ctx, entry, sendErr.Error())
		w.appendLedger(ctx, entry, ledgerID, types.LedgerFailed, rendered.Subject, len(personalized), "")
		return sendErr
	}

	sentAt := w.now().UTC()
	if err := w.queue.MarkSent(ctx, entry.ID); err != nil {
		// Re-marking a terminal entry is a logged no-op, never an
		// abort: the email is out the door either way.
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictTerminalEntry {
			w.logger.WarnContext(ctx, "queue entry already terminal on mark sent",
				"entry_id", entry.ID,
			)
		} else {
			w.logger.ErrorContext(ctx, "failed to mark queue entry sent",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}

	w.appendLedger(ctx, entry, ledgerID, types.LedgerSent, rendered.Subject, len(personalized), providerMsgID)

	if err := w.recipients.UpdateLastSentAt(ctx, entry.RecipientID, sentAt); err != nil {
		// The ledger is authoritative; a stale cache only costs an
		// extra ledger lookup on the next run.
		w.logger.WarnContext(ctx, "failed to refresh recipient last_sent_at",
			"recipient_id", entry.RecipientID,
			"error", err,
		)
	}

	w.metrics.RecordDeliveryAttempt(ctx, entry.DigestType, "sent")
	w.logger.InfoContext(ctx, "digest sent",
		"entry_id", entry.ID,
		"recipient_id", entry.RecipientID,
		"to", email.RedactEmail(entry.Payload.Email),
		"articles", len(personalized),
		"provider_message_id", providerMsgID,
	)
	return nil
}

// markFailed transitions the entry to failed, tolerating already-terminal
// conflicts the same way MarkSent does.
func (w *Worker) markFailed(ctx context.Context, entry *types.QueueEntry, reason string) {
	if err := w.queue.MarkFailed(ctx, entry.ID, reason); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictTerminalEntry {
			w.logger.WarnContext(ctx, "queue entry already terminal on mark failed",
				"entry_id", entry.ID,
			)
			return
		}
		w.logger.ErrorContext(ctx, "failed to mark queue entry failed",
			"entry_id", entry.ID,
			"error", err,
		)
	}
	w.metrics.RecordDeliveryAttempt(ctx, entry.DigestType, "failed")
}

// appendLedger writes the outcome row. A failure here after a successful
// send is logged as a ledger gap for reconciliation, never retried.
func (w *Worker) appendLedger(ctx context.Context, entry *types.QueueEntry, ledgerID string, status types.LedgerStatus, subject string, articleCount int, providerMsgID string) {
	err := w.ledger.Append(ctx, &types.LedgerEntry{
		ID:            ledgerID,
		RecipientID:   entry.RecipientID,
		DigestType:    entry.DigestType,
		LocalDate:     entry.LocalDate,
		Status:        status,
		Subject:       subject,
		ArticleCount:  articleCount,
		ProviderMsgID: providerMsgID,
		SentAt:        w.now().UTC(),
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "ledger append failed, gap requires reconciliation",
			"entry_id", entry.ID,
			"ledger_id", ledgerID,
			"status", status,
			"error", err,
		)
	}
}

// personalize narrows the run's article set to the recipient's chosen
// categories. Recipients with no category preference, or whose
// preferences match nothing in this window, receive the full ranked set.
func personalize(articles []types.Article, categories []string) []types.Article {
	if len(categories) == 0 {
		return articles
	}
	wanted := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		wanted[c] = struct{}{}
	}
	var filtered []types.Article
	for _, a := range articles {
		if _, ok := wanted[a.Category]; ok {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return articles
	}
	return filtered
}

// noopMetrics is the default sink when no metrics backend is wired.
type noopMetrics struct{}

func (noopMetrics) RecordDeliveryAttempt(context.Context, types.DigestType, string) {}
func (noopMetrics) ObserveSendLatency(context.Context, types.DigestType, time.Duration) {}
