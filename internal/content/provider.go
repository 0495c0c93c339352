// Package content implements the client for the upstream editorial API
// that supplies ranked articles for digest runs. Fetches fan out per
// category and merge into a single score-ordered list.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dailybrief/internal/external"
	"dailybrief/internal/types"
)

// maxConcurrentFetches bounds the per-category fan-out so a recipient
// subscribed to many categories cannot stampede the upstream API.
const maxConcurrentFetches = 4

// ClientConfig holds the configuration for creating a content Client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	MaxArticles int
	Logger      *slog.Logger
}

// Client implements external.ContentProvider against the editorial HTTP
// API through the shared BaseClient resilience layer.
type Client struct {
	base        *external.BaseClient
	baseURL     string
	apiKey      string
	maxArticles int
	logger      *slog.Logger
}

// NewClient creates a content Client. The httpClient timeout should match
// the configured content fetch timeout.
func NewClient(httpClient *http.Client, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxArticles := cfg.MaxArticles
	if maxArticles <= 0 {
		maxArticles = 10
	}

	base := external.NewBaseClient(
		httpClient,
		"content",
		external.DefaultRetryPolicy(),
		"DailyBrief/1.0",
		types.ErrCodeUpstreamContent,
	)

	return &Client{
		base:        base,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		maxArticles: maxArticles,
		logger:      logger,
	}
}

// NewClientWithBase creates a content Client with a pre-configured
// BaseClient, for tests that need control over retry behavior.
func NewClientWithBase(base *external.BaseClient, cfg ClientConfig) *Client {
	c := NewClient(&http.Client{}, cfg)
	c.base = base
	return c
}

// FetchArticles returns ranked articles for the digest type and window.
// When categories are given, one request is issued per category (bounded
// fan-out via errgroup) and the results are merged by descending score,
// deduplicated by article ID, and truncated to the configured maximum.
// An empty result with a nil error is a legitimate no-content window.
func (c *Client) FetchArticles(ctx context.Context, digestType types.DigestType, window types.ContentWindow, categories []string) ([]types.Article, error) {
	if len(categories) == 0 {
		articles, err := c.fetchOne(ctx, digestType, window, "")
		if err != nil {
			return nil, err
		}
		return c.rank(articles), nil
	}

	var (
		mu  sync.Mutex
		all []types.Article
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, category := range categories {
		g.Go(func() error {
			articles, err := c.fetchOne(gctx, digestType, window, category)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, articles...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c.rank(all), nil
}

// fetchOne issues a single window query, optionally scoped to a category.
func (c *Client) fetchOne(ctx context.Context, digestType types.DigestType, window types.ContentWindow, category string) ([]types.Article, error) {
	q := url.Values{}
	q.Set("digest_type", string(digestType))
	q.Set("from", window.Start.UTC().Format(time.RFC3339))
	q.Set("to", window.End.UTC().Format(time.RFC3339))
	if category != "" {
		q.Set("category", category)
	}

	reqURL := c.baseURL + "/v1/articles?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create content fetch request",
			err,
		)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamContent,
			fmt.Sprintf("content API returned status %d", resp.StatusCode),
			nil,
		)
	}

	var payload struct {
		Articles []types.Article `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamContent,
			"failed to decode content API response",
			err,
		)
	}

	return payload.Articles, nil
}

// rank orders articles by descending score, drops duplicates by ID
// (overlapping categories may return the same article twice), and
// truncates to the configured maximum.
func (c *Client) rank(articles []types.Article) []types.Article {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Score > articles[j].Score
	})

	seen := make(map[string]struct{}, len(articles))
	ranked := articles[:0]
	for _, a := range articles {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		ranked = append(ranked, a)
		if len(ranked) == c.maxArticles {
			break
		}
	}
	return ranked
}

// Compile-time assertion that Client satisfies the provider contract.
var _ external.ContentProvider = (*Client)(nil)
