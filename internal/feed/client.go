// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
client.go - Remote Feed Client

HTTP client for the remote generation service: the cursor-paginated feed
endpoint, the per-asset binary endpoint and the public model metadata
endpoint.

Resilience mechanisms:
  - Two independent process-wide rate limiters (feed pages and asset
    fetches), pacing by sleeping, never rejecting.
  - Exponential backoff on HTTP 429 with Retry-After support, bounded
    attempts, cancellable waits.
  - Circuit breaker on the feed endpoint (60% failure rate over at least
    10 requests).
  - Every failure normalized into a typed *models.APIError; asset
    unavailability is a nil result, not an error.
*/
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/metrics"
	"github.com/genmirror/genmirror/internal/models"
)

// feedTag is the implicit tag the remote feed requires on every query.
const feedTag = "gen"

// referer is the only header the asset endpoint requires.
const referer = "https://civitai.com"

// Client talks to the remote generation service. Safe for concurrent use;
// both rate limiters serialize callers of their request class.
type Client struct {
	baseURL        string
	modelsURL      string
	secretKey      string
	client         *http.Client
	pageLimiter    *rate.Limiter
	assetLimiter   *rate.Limiter
	breaker        *pageBreaker
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a feed client from configuration. The page and asset
// limiters are owned by the client; all pacing state lives here rather
// than in package-level variables.
func NewClient(cfg *config.FeedConfig) *Client {
	c := &Client{
		baseURL:        cfg.BaseURL,
		modelsURL:      cfg.ModelsURL,
		secretKey:      cfg.SecretKey,
		client:         &http.Client{Timeout: cfg.Timeout},
		pageLimiter:    newLimiter(cfg.PageInterval),
		assetLimiter:   newLimiter(cfg.AssetInterval),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
	c.breaker = newPageBreaker("generation-feed")
	return c
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// FetchPage performs one round trip against the feed endpoint. The query
// carries an URL-encoded JSON input {"json":{"authed":true,"tags":
// ["gen",...],"cursor":...}}. Failures of any kind come back as a typed
// *models.APIError.
func (c *Client) FetchPage(ctx context.Context, cursor string, tags []string) (*models.Page, error) {
	if err := c.waitLimiter(ctx, c.pageLimiter, "page"); err != nil {
		return nil, err
	}

	page, err := c.breaker.execute(func() (*models.Page, error) {
		return c.fetchPage(ctx, cursor, tags)
	})
	if err != nil {
		return nil, err
	}

	metrics.PagesFetched.Inc()
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, cursor string, tags []string) (*models.Page, error) {
	reqURL, err := c.pageURL(cursor, tags)
	if err != nil {
		return nil, models.ServerError("orchestrator.queryGeneratedImages", err.Error())
	}

	start := time.Now()
	body, apiErr := c.doJSONRequest(ctx, reqURL, true)
	if apiErr != nil {
		metrics.ObserveFeedRequest("page", start, apiErr.Code)
		return nil, apiErr
	}

	page, apiErr := models.DecodePage(body)
	if apiErr != nil {
		metrics.ObserveFeedRequest("page", start, apiErr.Code)
		return nil, apiErr
	}
	metrics.ObserveFeedRequest("page", start, "")

	if page.Dropped > 0 {
		logging.Warn().Int("dropped", page.Dropped).Msg("Skipped malformed feed items")
	}

	return page, nil
}

// pageURL builds the feed request URL. An empty cursor is omitted from
// the input payload entirely (the feed then starts at its newest entry).
func (c *Client) pageURL(cursor string, tags []string) (string, error) {
	input := struct {
		JSON struct {
			Authed bool     `json:"authed"`
			Tags   []string `json:"tags"`
			Cursor string   `json:"cursor,omitempty"`
		} `json:"json"`
	}{}
	input.JSON.Authed = true
	input.JSON.Tags = append([]string{feedTag}, tags...)
	input.JSON.Cursor = cursor

	encoded, err := json.Marshal(input)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s?input=%s", c.baseURL, url.QueryEscape(string(encoded))), nil
}

// FetchAsset fetches one binary asset. A nil reader with a nil error
// means the asset is no longer served remotely (deleted on-site); that is
// a normal outcome, not a failure. The caller owns the returned reader.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	if err := c.waitLimiter(ctx, c.assetLimiter, "asset"); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset request: %w", err)
	}
	req.Header.Set("Referer", referer)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Unreachable asset hosts behave like deleted assets.
		logging.Warn().Err(err).Str("url", assetURL).Msg("Asset fetch failed")
		metrics.MediaUnavailable.Inc()
		return nil, nil
	}
	metrics.ObserveFeedRequest("asset", start, "")

	if resp.StatusCode != http.StatusOK || isErrorPage(resp.Header.Get("Content-Type")) {
		_ = resp.Body.Close()
		metrics.MediaUnavailable.Inc()
		return nil, nil
	}

	return resp.Body, nil
}

// isErrorPage detects textual bodies the asset CDN serves in place of
// deleted media.
func isErrorPage(contentType string) bool {
	return strings.HasPrefix(contentType, "text/plain") || strings.HasPrefix(contentType, "text/html")
}

// FetchModelInfo retrieves public model metadata. The endpoint requires
// no credential; errors follow the same normalization as the feed.
func (c *Client) FetchModelInfo(ctx context.Context, modelID string) (*models.ModelInfo, error) {
	reqURL := fmt.Sprintf("%s/%s", c.modelsURL, url.PathEscape(modelID))

	start := time.Now()
	body, apiErr := c.doJSONRequest(ctx, reqURL, false)
	if apiErr != nil {
		apiErr.Path = "models"
		metrics.ObserveFeedRequest("models", start, apiErr.Code)
		return nil, apiErr
	}
	metrics.ObserveFeedRequest("models", start, "")

	var info models.ModelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, models.ServerError("models", err.Error())
	}

	return &info, nil
}

// doJSONRequest performs a GET with 429 backoff and returns the raw body.
// Transport failures are normalized into a SERVER_ERROR so the caller's
// retry ladder treats lost connections like remote 5xx responses.
func (c *Client) doJSONRequest(ctx context.Context, reqURL string, authed bool) ([]byte, *models.APIError) {
	resp, err := c.doRequestWithRateLimit(ctx, reqURL, authed)
	if err != nil {
		return nil, models.ServerError("orchestrator.queryGeneratedImages", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.ServerError("orchestrator.queryGeneratedImages", err.Error())
	}

	return body, nil
}

// doRequestWithRateLimit performs an HTTP request with automatic HTTP 429
// handling: exponential backoff seeded at retryBaseDelay, honoring
// Retry-After, waiting cancellably via the request context.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL string, authed bool) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Referer", referer)
		if authed && c.secretKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.secretKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		logging.Warn().Int("attempt", attempt+1).Dur("delay", delay).Msg("Rate limited, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// waitLimiter paces against one of the two request-class limiters and
// records the wait.
func (c *Client) waitLimiter(ctx context.Context, limiter *rate.Limiter, class string) error {
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	metrics.RateLimiterWait.WithLabelValues(class).Observe(time.Since(start).Seconds())
	return nil
}
