// Package scheduler implements the digest run orchestration: the
// eligibility filter deciding who is owed a digest now, the run
// orchestrator wrapping the concurrency guard and delivery worker, and
// the retention maintenance sweep.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"dailybrief/internal/tz"
	"dailybrief/internal/types"
)

// LedgerChecker is the narrow ledger read surface the filter needs for
// its authoritative dedup check.
type LedgerChecker interface {
	HasSentOn(ctx context.Context, recipientID string, digestType types.DigestType, localDate string) (bool, error)
}

// EligibilityFilter decides which recipients should be enqueued at a
// given instant. It is idempotent: running it twice within the same local
// hour yields the same output, and duplicate suppression across runs is
// delegated to the queue's uniqueness invariant.
type EligibilityFilter struct {
	ledger        LedgerChecker
	weeklySendDay time.Weekday
	logger        *slog.Logger
}

// NewEligibilityFilter creates a filter backed by the given ledger.
func NewEligibilityFilter(ledger LedgerChecker, logger *slog.Logger) *EligibilityFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EligibilityFilter{
		ledger:        ledger,
		weeklySendDay: types.DefaultWeeklySendDay,
		logger:        logger,
	}
}

// Candidate is one recipient the filter selected, annotated with the
// local-date key its queue entry must carry.
type Candidate struct {
	Recipient *types.Recipient
	LocalDate string
	// ResolvedTimezone is the zone actually used for the local-time
	// math: the recipient's zone, or UTC after fallback.
	ResolvedTimezone string
}

// Outcome is the partitioned result of one filter pass.
type Outcome struct {
	Eligible   []Candidate
	Exclusions map[types.ExclusionReason]int
}

// Filter evaluates the predicate chain for every recipient at the given
// instant, short-circuiting on the first failing predicate:
//
//  1. frequency permits this digest type (and, for weekly, today is the
//     send day in the recipient's zone)
//  2. local hour equals the preferred hour
//  3. cached lastSentAt does not fall on today's local date
//  4. the ledger records no successful send for today's local date
//
// An unresolvable timezone degrades to UTC and is counted under
// invalid_timezone for observability; the hour check still applies, so
// the recipient can be both counted there and still eligible.
func (f *EligibilityFilter) Filter(ctx context.Context, recipients []*types.Recipient, digestType types.DigestType, now time.Time) (*Outcome, error) {
	out := &Outcome{
		Exclusions: make(map[types.ExclusionReason]int),
	}

	for _, r := range recipients {
		if !r.Subscribed || r.Frequency == types.FrequencyNever {
			out.Exclusions[types.ExcludedOptedOut]++
			continue
		}
		if !f.frequencyPermits(r, digestType, now) {
			out.Exclusions[types.ExcludedOptedOut]++
			continue
		}

		resolved := r.Timezone
		if _, valid := tz.Resolve(r.Timezone); !valid {
			// Degrade to UTC but keep evaluating; Filter never drops a
			// recipient solely for a bad zone string.
			out.Exclusions[types.ExcludedInvalidTimezone]++
			resolved = "UTC"
			f.logger.WarnContext(ctx, "recipient timezone failed to resolve, using UTC",
				"recipient_id", r.ID,
				"timezone", r.Timezone,
			)
		}

		if tz.LocalHour(r.Timezone, now) != r.PreferredHour {
			out.Exclusions[types.ExcludedWrongHour]++
			continue
		}

		localToday := tz.LocalDate(r.Timezone, now)

		// Fast path: the cached last-send instant, interpreted in the
		// recipient's own zone.
		if r.LastSentAt != nil && tz.LocalDate(r.Timezone, *r.LastSentAt) == localToday {
			out.Exclusions[types.ExcludedAlreadySent]++
			continue
		}

		// Authoritative path: the durable ledger. Closes the race where
		// a previous run appended the ledger row but crashed before
		// refreshing lastSentAt.
		sent, err := f.ledger.HasSentOn(ctx, r.ID, digestType, localToday)
		if err != nil {
			return nil, err
		}
		if sent {
			out.Exclusions[types.ExcludedAlreadySent]++
			continue
		}

		out.Eligible = append(out.Eligible, Candidate{
			Recipient:        r,
			LocalDate:        localToday,
			ResolvedTimezone: resolved,
		})
	}

	return out, nil
}

// frequencyPermits reports whether the recipient's frequency setting
// allows the given digest type today.
func (f *EligibilityFilter) frequencyPermits(r *types.Recipient, digestType types.DigestType, now time.Time) bool {
	switch digestType {
	case types.DigestBreaking:
		// Breaking digests go to everyone not opted out, including
		// breaking_only subscribers.
		return true
	default:
		switch r.Frequency {
		case types.FrequencyDaily:
			return true
		case types.FrequencyWeekly:
			return tz.LocalWeekday(r.Timezone, now) == f.weeklySendDay
		default:
			// breaking_only recipients never receive the daily digest.
			return false
		}
	}
}
