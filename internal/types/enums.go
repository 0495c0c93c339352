package types

// DigestType identifies a digest product. The platform currently ships a
// single daily digest, but the queue and ledger are keyed by type so that
// additional digests (e.g. breaking-news blasts) can coexist without
// interfering with each other's dedup invariants.
type DigestType string

const (
	DigestDaily    DigestType = "daily"
	DigestBreaking DigestType = "breaking"
)

// Frequency is a recipient's digest delivery preference.
type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyBreakingOnly Frequency = "breaking_only"
	FrequencyNever        Frequency = "never"
)

// QueueStatus is the lifecycle state of a delivery queue entry.
//
// State machine: pending -> processing -> {sent | failed}, plus an
// out-of-band cancelled for entries superseded by a policy change.
// Terminal entries are retained for audit and never re-enqueued for the
// same local date.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state that must never
// transition again.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueSent, QueueFailed, QueueCancelled:
		return true
	default:
		return false
	}
}

// LedgerStatus is the outcome recorded for a send attempt. The ledger is
// append-only; the only permitted mutation is the monotonic engagement
// upgrade sent -> opened -> clicked.
type LedgerStatus string

const (
	LedgerSent    LedgerStatus = "sent"
	LedgerFailed  LedgerStatus = "failed"
	LedgerOpened  LedgerStatus = "opened"
	LedgerClicked LedgerStatus = "clicked"
)

// engagementRank orders ledger statuses for monotonic upgrades. Failed
// rows never upgrade.
func engagementRank(s LedgerStatus) int {
	switch s {
	case LedgerSent:
		return 1
	case LedgerOpened:
		return 2
	case LedgerClicked:
		return 3
	default:
		return 0
	}
}

// CanUpgradeTo reports whether a ledger row in status s may transition to
// next. Upgrades are strictly monotonic along sent -> opened -> clicked.
func (s LedgerStatus) CanUpgradeTo(next LedgerStatus) bool {
	cur, nxt := engagementRank(s), engagementRank(next)
	return cur > 0 && nxt > cur
}

// ExclusionReason explains why the eligibility filter skipped a recipient
// during a scheduler cycle. Reported in the run result breakdown for
// observability.
type ExclusionReason string

const (
	ExcludedWrongHour       ExclusionReason = "wrong_hour"
	ExcludedAlreadySent     ExclusionReason = "already_sent"
	ExcludedInvalidTimezone ExclusionReason = "invalid_timezone"
	ExcludedOptedOut        ExclusionReason = "opted_out"
)

// FailureNoContent is the terminal failure reason recorded when the
// content provider returns an empty article set and the batch is aborted.
const FailureNoContent = "no_content"
