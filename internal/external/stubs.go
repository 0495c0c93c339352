package external

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dailybrief/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stub implementations allow the application to boot in local/test mode
// without requiring real external service credentials. They log all
// actions and return predictable, safe default values.
// ---------------------------------------------------------------------------

// StubEmailProvider implements EmailProvider by logging calls and
// returning a fake message ID. Used when APP_ENV=local.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", input.To,
		"subject", input.Subject,
		"from", input.FromAddress,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

// StubContentProvider implements ContentProvider with a fixed article
// set. Used when APP_ENV=local.
type StubContentProvider struct {
	logger *slog.Logger
}

// NewStubContentProvider creates a new StubContentProvider.
func NewStubContentProvider(logger *slog.Logger) *StubContentProvider {
	return &StubContentProvider{logger: logger}
}

func (s *StubContentProvider) FetchArticles(ctx context.Context, digestType types.DigestType, window types.ContentWindow, categories []string) ([]types.Article, error) {
	s.logger.InfoContext(ctx, "stub: FetchArticles called",
		"digest_type", digestType,
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"categories", categories,
	)
	return []types.Article{
		{
			ID:       "art_stub_1",
			Title:    "Stub headline",
			Summary:  "A placeholder article for local development.",
			URL:      "https://stub.local/articles/1",
			Category: "general",
			Score:    0.9,
		},
		{
			ID:       "art_stub_2",
			Title:    "Second stub headline",
			Summary:  "Another placeholder article.",
			URL:      "https://stub.local/articles/2",
			Category: "tech",
			Score:    0.7,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ EmailProvider = (*StubEmailProvider)(nil)
var _ ContentProvider = (*StubContentProvider)(nil)
