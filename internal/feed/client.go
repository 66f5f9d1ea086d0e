// Package feed retrieves the paginated highlights feed from the Matter
// API, refreshing expired access tokens along the way.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"mattersync/internal/metrics"
	"mattersync/internal/model"
	"mattersync/internal/settings"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sentinel errors surfaced to the scheduler.
var (
	// ErrNoCredentials means no token pair is stored; the user has not
	// authenticated yet.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrCredentialsInvalid means the refresh-and-retry path failed and
	// both tokens were cleared; re-authentication is required.
	ErrCredentialsInvalid = errors.New("credentials invalid, re-authentication required")
)

const maxBodyBytes = 10 * 1024 * 1024

// Options configures a Client. Zero values get sensible defaults.
type Options struct {
	FeedURL    string
	RefreshURL string
	// RateLimit caps feed page requests per second. Zero disables pacing.
	RateLimit float64
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// Client fetches feed pages with bearer authentication.
type Client struct {
	http       HTTPClient
	settings   settings.Store
	feedURL    string
	refreshURL string
	limiter    *rate.Limiter
	metrics    metrics.Recorder
	log        *slog.Logger
}

// New creates a Client reading credentials from st.
func New(client HTTPClient, st settings.Store, opts Options) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		http:       client,
		settings:   st,
		feedURL:    opts.FeedURL,
		refreshURL: opts.RefreshURL,
		limiter:    limiter,
		metrics:    rec,
		log:        log,
	}
}

// FetchAll retrieves every page of the feed, strictly sequentially, and
// returns the aggregated entries reversed to oldest-first so downstream
// writes preserve chronological order. onPage, if non-nil, runs before
// and after each page request (the engine heartbeats through it).
func (c *Client) FetchAll(ctx context.Context, onPage func(context.Context) error) ([]model.FeedEntry, error) {
	var entries []model.FeedEntry

	url := c.feedURL
	for url != "" {
		if onPage != nil {
			if err := onPage(ctx); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		page, err := c.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}
		c.metrics.RecordPageFetched()

		if onPage != nil {
			if err := onPage(ctx); err != nil {
				return nil, err
			}
		}

		entries = append(entries, page.Feed...)
		url = page.Next
	}

	slices.Reverse(entries)
	return entries, nil
}

// fetchPage performs one authorized GET. On an authorization failure it
// refreshes the token pair exactly once and retries once; if the retry
// also fails both tokens are cleared and ErrCredentialsInvalid returned.
func (c *Client) fetchPage(ctx context.Context, url string) (*model.FeedPage, error) {
	cred, err := c.settings.Credential(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNoCredentials
	}

	page, status, err := c.get(ctx, url, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if !isAuthFailure(status) {
		return page, statusError(status)
	}

	c.log.Debug("access token rejected, refreshing", "status", status)
	refreshed, err := c.refresh(ctx, cred.RefreshToken)
	if err != nil {
		c.metrics.RecordTokenRefresh(metrics.RefreshFailure)
		if clearErr := c.settings.ClearCredential(ctx); clearErr != nil {
			c.log.Error("clear credentials", "error", clearErr)
		}
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrCredentialsInvalid, err)
	}
	c.metrics.RecordTokenRefresh(metrics.RefreshSuccess)
	if err := c.settings.SetCredential(ctx, *refreshed); err != nil {
		return nil, fmt.Errorf("persist refreshed credentials: %w", err)
	}

	page, status, err = c.get(ctx, url, refreshed.AccessToken)
	if err != nil {
		return nil, err
	}
	if isAuthFailure(status) {
		if clearErr := c.settings.ClearCredential(ctx); clearErr != nil {
			c.log.Error("clear credentials", "error", clearErr)
		}
		return nil, fmt.Errorf("%w: retry rejected with status %d", ErrCredentialsInvalid, status)
	}
	return page, statusError(status)
}

func (c *Client) get(ctx context.Context, url, accessToken string) (*model.FeedPage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	var page model.FeedPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode feed page: %w", err)
	}
	return &page, resp.StatusCode, nil
}

// refresh exchanges the refresh token for a new token pair.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.Credential, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read refresh body: %w", err)
	}

	var cred model.Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return nil, errors.New("refresh response missing tokens")
	}
	return &cred, nil
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func statusError(status int) error {
	if status == http.StatusOK {
		return nil
	}
	return fmt.Errorf("unexpected status %d", status)
}

// DefaultHTTPClient returns the HTTP client the daemon uses when none is
// injected.
func DefaultHTTPClient() HTTPClient {
	return &http.Client{Timeout: 30 * time.Second}
}
