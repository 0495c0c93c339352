package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"dailybrief/internal/types"
	"dailybrief/internal/worker"
)

// Guard is the cross-process concurrency lease. Implemented by
// db.RunLockRepository.
type Guard interface {
	Acquire(ctx context.Context, lockID string, runID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, runID string) (bool, error)
}

// QueueStore is the queue surface the orchestrator needs around the
// worker's claim loop. Implemented by db.QueueRepository.
type QueueStore interface {
	Enqueue(ctx context.Context, e *types.QueueEntry) (bool, error)
	ReclaimStale(ctx context.Context, digestType types.DigestType, staleness time.Duration, maxReclaims int) (int, error)
	CancelPending(ctx context.Context, digestType types.DigestType) (int, error)
}

// RecipientSource lists the subscriber base for eligibility evaluation.
// Implemented by db.RecipientRepository.
type RecipientSource interface {
	ListSubscribed(ctx context.Context) ([]*types.Recipient, error)
}

// History records run outcomes for auditability. Implemented by
// db.RunHistoryRepository.
type History interface {
	Start(ctx context.Context, runID string, digestType types.DigestType, continuation bool) (int64, error)
	Finish(ctx context.Context, id int64, status string, result *types.RunResult, runErr error) error
}

// Drainer delivers claimed queue entries until empty or out of budget.
// Implemented by worker.Worker.
type Drainer interface {
	Drain(ctx context.Context, digestType types.DigestType, deadline time.Time) (*worker.DrainResult, error)
}

// ContinuationPublisher schedules a follow-up invocation when a run's
// budget expires with work still pending. A nil publisher disables
// continuations; the next hourly trigger picks the work up instead.
type ContinuationPublisher interface {
	PublishContinuation(ctx context.Context, req types.RunRequest) error
}

// RunConfig carries the orchestrator's operational knobs, a subset of
// config.SchedulerConfig.
type RunConfig struct {
	EnabledDigests      []string
	RunBudget           time.Duration
	LockStaleness       time.Duration
	ProcessingStaleness time.Duration
	// MaxReclaims bounds how often a stale entry may be returned to
	// pending before it is failed outright.
	MaxReclaims int
}

// Orchestrator executes one digest run end to end: lease, reclaim,
// eligibility, enqueue, drain, record.
type Orchestrator struct {
	guard      Guard
	queue      QueueStore
	recipients RecipientSource
	history    History
	filter     *EligibilityFilter
	worker     Drainer
	publisher  ContinuationPublisher
	cfg        RunConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires an orchestrator. publisher may be nil.
func NewOrchestrator(
	guard Guard,
	queue QueueStore,
	recipients RecipientSource,
	history History,
	filter *EligibilityFilter,
	w Drainer,
	publisher ContinuationPublisher,
	cfg RunConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = 10 * time.Minute
	}
	if cfg.LockStaleness <= 0 {
		cfg.LockStaleness = 55 * time.Minute
	}
	if cfg.ProcessingStaleness <= 0 {
		cfg.ProcessingStaleness = 30 * time.Minute
	}
	if cfg.MaxReclaims <= 0 {
		cfg.MaxReclaims = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		guard:      guard,
		queue:      queue,
		recipients: recipients,
		history:    history,
		filter:     filter,
		worker:     w,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one invocation for the digest type. It is safe to call
// concurrently from multiple processes: the run lock admits exactly one
// holder per digest type, and a caller that loses the race gets a
// Skipped result rather than an error.
func (o *Orchestrator) Run(ctx context.Context, req types.RunRequest) (*types.RunResult, error) {
	start := o.now()
	runID := "run_" + uuid.New().String()
	logger := o.logger.With("run_id", runID, "digest_type", req.DigestType, "continuation", req.Continuation)

	res := &types.RunResult{
		RunID:      runID,
		DigestType: req.DigestType,
	}

	acquired, err := o.guard.Acquire(ctx, string(req.DigestType), runID, o.cfg.LockStaleness)
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.InfoContext(ctx, "run lock held by another invocation, skipping")
		res.Skipped = true
		res.ElapsedMs = o.now().Sub(start).Milliseconds()
		return res, nil
	}
	defer func() {
		// Release is scoped to this run's lease; a stale holder can
		// never free a successor's lock.
		if _, rerr := o.guard.Release(ctx, string(req.DigestType), runID); rerr != nil {
			logger.WarnContext(ctx, "failed to release run lock", "error", rerr)
		}
	}()

	historyID, err := o.history.Start(ctx, runID, req.DigestType, req.Continuation)
	if err != nil {
		return nil, err
	}

	runErr := o.execute(ctx, req, res, logger)
	res.ElapsedMs = o.now().Sub(start).Milliseconds()

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	if ferr := o.history.Finish(ctx, historyID, status, res, runErr); ferr != nil {
		logger.ErrorContext(ctx, "failed to record run history", "error", ferr)
	}
	if runErr != nil {
		return res, runErr
	}

	if res.NeedsContinuation() && o.publisher != nil {
		cont := types.RunRequest{
			DigestType:   req.DigestType,
			TriggeredAt:  o.now().UTC(),
			Continuation: true,
			TraceID:      req.TraceID,
		}
		if perr := o.publisher.PublishContinuation(ctx, cont); perr != nil {
			// The next scheduled trigger drains leftovers anyway.
			logger.WarnContext(ctx, "failed to publish continuation", "error", perr)
		} else {
			logger.InfoContext(ctx, "continuation published", "remaining_pending", res.RemainingPending)
		}
	}

	logger.InfoContext(ctx, "digest run finished",
		"queued", res.Queued,
		"sent", res.Sent,
		"failed", res.Failed,
		"reclaimed", res.Reclaimed,
		"remaining_pending", res.RemainingPending,
		"elapsed_ms", res.ElapsedMs,
	)
	return res, nil
}

// execute performs the run body under the held lock.
func (o *Orchestrator) execute(ctx context.Context, req types.RunRequest, res *types.RunResult, logger *slog.Logger) error {
	now := o.now().UTC()
	deadline := now.Add(o.cfg.RunBudget)

	if !o.digestEnabled(req.DigestType) {
		cancelled, err := o.queue.CancelPending(ctx, req.DigestType)
		if err != nil {
			return err
		}
		logger.WarnContext(ctx, "digest type disabled, cancelled pending entries", "cancelled", cancelled)
		return nil
	}

	reclaimed, err := o.queue.ReclaimStale(ctx, req.DigestType, o.cfg.ProcessingStaleness, o.cfg.MaxReclaims)
	if err != nil {
		return err
	}
	res.Reclaimed = reclaimed
	if reclaimed > 0 {
		logger.InfoContext(ctx, "reclaimed stale processing entries", "reclaimed", reclaimed)
	}

	// Continuation runs skip eligibility: their job is draining what an
	// earlier invocation already enqueued. Re-filtering within the same
	// hour would be a no-op at best and double work at worst.
	if !req.Continuation {
		queued, err := o.enqueueEligible(ctx, req.DigestType, now, res)
		if err != nil {
			return err
		}
		res.Queued = queued
	}

	drained, err := o.worker.Drain(ctx, req.DigestType, deadline)
	if err != nil {
		return err
	}
	res.Sent = drained.Sent
	res.Failed = drained.Failed
	res.RemainingPending = drained.RemainingPending
	return nil
}

// enqueueEligible runs the eligibility filter and enqueues every
// candidate, snapshotting the personalization payload. Duplicate
// enqueues are suppressed by the queue's uniqueness invariant and do
// not count toward Queued.
func (o *Orchestrator) enqueueEligible(ctx context.Context, digestType types.DigestType, now time.Time, res *types.RunResult) (int, error) {
	recipients, err := o.recipients.ListSubscribed(ctx)
	if err != nil {
		return 0, err
	}

	outcome, err := o.filter.Filter(ctx, recipients, digestType, now)
	if err != nil {
		return 0, err
	}
	res.Exclusions = outcome.Exclusions

	queued := 0
	for _, c := range outcome.Eligible {
		created, err := o.queue.Enqueue(ctx, &types.QueueEntry{
			RecipientID:  c.Recipient.ID,
			DigestType:   digestType,
			LocalDate:    c.LocalDate,
			ScheduledFor: now,
			Payload: types.QueuePayload{
				Email:            c.Recipient.Email,
				DisplayName:      c.Recipient.DisplayName,
				ResolvedTimezone: c.ResolvedTimezone,
				Categories:       c.Recipient.Categories,
			},
		})
		if err != nil {
			return queued, fmt.Errorf("enqueue recipient %s: %w", c.Recipient.ID, err)
		}
		if created {
			queued++
		}
	}
	return queued, nil
}

func (o *Orchestrator) digestEnabled(digestType types.DigestType) bool {
	return slices.Contains(o.cfg.EnabledDigests, string(digestType))
}
