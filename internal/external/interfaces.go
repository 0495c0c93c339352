package external

import (
	"context"

	"dailybrief/internal/types"
)

// ---------------------------------------------------------------------------
// Email Integration
// ---------------------------------------------------------------------------

// EmailProvider abstracts interactions with the transactional email
// delivery service. Implementations transmit pre-rendered email content
// (Subject, BodyHTML, BodyText).
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// ---------------------------------------------------------------------------
// Content Integration
// ---------------------------------------------------------------------------

// ContentProvider abstracts the upstream editorial API that supplies
// ranked articles for a run window. The provider is treated as a pure
// function of its inputs: calling it twice for the same window may not
// return identical results, but the scheduler never relies on it for
// dedup decisions.
type ContentProvider interface {
	// FetchArticles returns ranked articles for the digest type and
	// window, restricted to the given categories (all when empty).
	// An empty slice with a nil error means a legitimate no-content
	// window, not a failure.
	FetchArticles(ctx context.Context, digestType types.DigestType, window types.ContentWindow, categories []string) ([]types.Article, error)
}
