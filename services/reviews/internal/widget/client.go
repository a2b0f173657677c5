package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/syncreviews/platform/pkg/httpclient"
	"github.com/syncreviews/platform/services/reviews/internal/cache"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
)

// QuotaAPI prefixes the quota tracker keys of gateway fetches. Keys are per
// company so one failing widget does not back off the others on a page.
const QuotaAPI = "public-reviews"

func quotaKey(companyID string) string {
	return QuotaAPI + ":" + companyID
}

// Fetcher loads the reviews a widget displays.
type Fetcher interface {
	FetchReviews(ctx context.Context, cfg Config) ([]domain.PublicReview, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, cfg Config) ([]domain.PublicReview, error)

// FetchReviews calls f.
func (f FetcherFunc) FetchReviews(ctx context.Context, cfg Config) ([]domain.PublicReview, error) {
	return f(ctx, cfg)
}

type gatewayResponse struct {
	Reviews []domain.PublicReview `json:"reviews"`
}

// Client fetches reviews from a gateway over HTTP. It never retries; a
// failed fetch is terminal for that mount.
type Client struct {
	http   *httpclient.CircuitBreakerClient
	quota  *cache.QuotaTracker
	logger *slog.Logger
}

// NewClient creates a gateway client. quota may be nil.
func NewClient(cfg httpclient.Config, quota *cache.QuotaTracker, logger *slog.Logger) *Client {
	cfg.MaxRetries = 0
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(cfg),
		httpclient.DefaultCircuitBreakerConfig("widget-gateway"),
		logger,
	)
	return NewClientWithBreaker(breaker, quota, logger)
}

// NewClientWithBreaker creates a client over an existing breaker-guarded client.
func NewClientWithBreaker(c *httpclient.CircuitBreakerClient, quota *cache.QuotaTracker, logger *slog.Logger) *Client {
	return &Client{
		http:   c,
		quota:  quota,
		logger: logger,
	}
}

// FetchReviews issues one GET to the gateway URL of cfg.
func (c *Client) FetchReviews(ctx context.Context, cfg Config) ([]domain.PublicReview, error) {
	key := quotaKey(cfg.CompanyID)
	if c.quota != nil {
		if err := c.quota.Acquire(key); err != nil {
			return nil, fmt.Errorf("fetch reviews for %s: %w", cfg.CompanyID, err)
		}
	}

	reviews, err := c.fetch(ctx, cfg.GatewayURL())
	if c.quota != nil {
		if err != nil {
			backoff := c.quota.RecordFailure(key)
			c.logger.DebugContext(ctx, "gateway fetch failed, backing off",
				slog.Duration("backoff", backoff),
			)
		} else {
			c.quota.RecordSuccess(key)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch reviews for %s: %w", cfg.CompanyID, err)
	}
	return reviews, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]domain.PublicReview, error) {
	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, httpclient.ParseResponseError(resp, "review gateway")
	}
	defer func() { _ = resp.Body.Close() }()

	var body gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if body.Reviews == nil {
		body.Reviews = []domain.PublicReview{}
	}
	return body.Reviews, nil
}
