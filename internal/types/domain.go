package types

import (
	"time"
)

// DefaultPreferredHour is the local send hour applied when a recipient has
// not chosen one. Authoritative per-recipient preferred_hour overrides it.
const DefaultPreferredHour = 10

// DefaultWeeklySendDay is the local weekday on which weekly-frequency
// recipients receive their digest.
const DefaultWeeklySendDay = time.Monday

// Recipient is a digest subscriber as read from the profile store. All
// fields except LastSentAt are read-only to this subsystem; LastSentAt is
// updated after a confirmed send as a fast-path cache of the ledger.
type Recipient struct {
	ID            string     `json:"id"` // prefixed UUID, e.g. "rcp_..."
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	Timezone      string     `json:"timezone"` // IANA identifier; empty means UTC
	Frequency     Frequency  `json:"frequency"`
	PreferredHour int        `json:"preferred_hour"` // local hour 0-23
	Categories    []string   `json:"categories,omitempty"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"` // UTC instant
	Subscribed    bool       `json:"subscribed"`
}

// QueueEntry represents one owed delivery in the durable queue. Created by
// the eligibility filter during enqueue; mutated only by the delivery
// worker.
//
// Invariant: at most one pending/processing/sent entry exists per
// (RecipientID, DigestType, LocalDate), enforced by a partial unique index
// at the storage layer. A conflicting enqueue is a no-op, not an error.
type QueueEntry struct {
	ID           string       `json:"id"` // prefixed UUID, e.g. "dq_..."
	RecipientID  string       `json:"recipient_id"`
	DigestType   DigestType   `json:"digest_type"`
	LocalDate    string       `json:"local_date"` // YYYY-MM-DD in the recipient's zone
	ScheduledFor time.Time    `json:"scheduled_for"`
	Status       QueueStatus  `json:"status"`
	AttemptCount int          `json:"attempt_count"`
	ReclaimCount int          `json:"reclaim_count"`
	LastAttempt  *time.Time   `json:"last_attempt_at,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	Payload      QueuePayload `json:"payload"`
	CreatedAt    time.Time    `json:"created_at"`
}

// QueuePayload is the personalization snapshot attached to a queue entry
// at enqueue time. Stored as JSONB so a continuation run renders the same
// digest the original run would have, even if the profile changed since.
type QueuePayload struct {
	Email            string   `json:"email"`
	DisplayName      string   `json:"display_name,omitempty"`
	ResolvedTimezone string   `json:"resolved_timezone"`
	Categories       []string `json:"categories,omitempty"`
}

// LedgerEntry is one append-only row in the dedup ledger: the durable
// record of a send attempt and its outcome. It is the authoritative source
// consulted by the eligibility filter.
type LedgerEntry struct {
	ID            string         `json:"id"` // prefixed UUID, e.g. "led_..."
	RecipientID   string         `json:"recipient_id"`
	DigestType    DigestType     `json:"digest_type"`
	LocalDate     string         `json:"local_date"`
	Status        LedgerStatus   `json:"status"`
	Subject       string         `json:"subject,omitempty"`
	ArticleCount  int            `json:"article_count"`
	ProviderMsgID string         `json:"provider_message_id,omitempty"`
	SentAt        time.Time      `json:"sent_at"`
	OpenedAt      *time.Time     `json:"opened_at,omitempty"`
	ClickedAt     *time.Time     `json:"clicked_at,omitempty"`
	Metadata      Metadata       `json:"metadata,omitempty"`
}

// ContentWindow is the half-open UTC interval [Start, End) a digest run
// draws articles from.
type ContentWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Article is one ranked item supplied by the content provider for a run
// window. The provider is treated as a pure function of the window; this
// subsystem never mutates articles.
type Article struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Summary  string  `json:"summary"`
	URL      string  `json:"url"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// RunResult is the structured outcome of one scheduler invocation,
// returned to the trigger caller.
type RunResult struct {
	RunID            string                  `json:"run_id"`
	DigestType       DigestType              `json:"digest_type"`
	Skipped          bool                    `json:"skipped,omitempty"` // guard held by another run
	Queued           int                     `json:"queued"`
	Sent             int                     `json:"sent"`
	Failed           int                     `json:"failed"`
	Reclaimed        int                     `json:"reclaimed"`
	RemainingPending int                     `json:"remaining_pending"`
	Exclusions       map[ExclusionReason]int `json:"exclusions,omitempty"`
	ElapsedMs        int64                   `json:"elapsed_ms"`
}

// NeedsContinuation reports whether a follow-up invocation is required to
// drain work left behind by the wall-clock budget.
func (r RunResult) NeedsContinuation() bool {
	return !r.Skipped && r.RemainingPending > 0
}

// RunRequest is the trigger payload for one scheduler invocation. It is
// the message format carried on the run queue (EventBridge -> SQS -> worker
// Lambda) and accepted by the HTTP trigger endpoint.
type RunRequest struct {
	DigestType   DigestType `json:"digest_type"`
	TriggeredAt  time.Time  `json:"triggered_at"`
	Continuation bool       `json:"continuation,omitempty"` // resuming a partially drained queue
	TraceID      string     `json:"trace_id,omitempty"`
}

// SendInput is the request to the outbound email provider's send
// primitive.
type SendInput struct {
	To          string
	FromAddress string
	FromName    string
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string // ledger entry ID, echoed back in provider webhooks
}
