package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"example.com/healthsync/internal/domain"
)

// CredentialSource supplies bearer credentials and the forced-refresh path
// used after a 401 response.
type CredentialSource interface {
	Get(ctx context.Context, ownerID string) (domain.Credential, error)
	Refresh(ctx context.Context, ownerID string) (domain.Credential, error)
}

const (
	// Retries after the initial attempt; a transient failure is tried four
	// times in total before surfacing as NetworkError.
	networkMaxRetries = 3
	networkBaseDelay  = 250 * time.Millisecond
	rateLimitBase     = time.Second
)

// Client talks to the provider's dataset and aggregate endpoints. Requests are
// locally rate limited and retried per the backoff policies; a 401 triggers
// exactly one credential refresh before escalating.
type Client struct {
	baseURL             string
	httpClient          *http.Client
	creds               CredentialSource
	limiter             *rate.Limiter
	rateLimitMaxRetries int
	logger              *log.Logger
	sleep               func(context.Context, time.Duration) error
}

// ClientOption configures optional Client behaviour.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithCallTimeout sets the per-request timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimitMaxRetries overrides the 429 retry cap.
func WithRateLimitMaxRetries(n int) ClientOption {
	return func(c *Client) { c.rateLimitMaxRetries = n }
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient constructs a Client against baseURL.
func NewClient(baseURL string, creds CredentialSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		creds:      creds,
		// Conservative client-side budget under the provider's quota.
		limiter:             rate.NewLimiter(rate.Every(time.Minute/100), 10),
		rateLimitMaxRetries: 5,
		logger:              log.New(os.Stderr, "[provider] ", log.LstdFlags),
		sleep:               sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns a lazy page stream of raw records covering [window.Start,
// window.End). The stream is finite and restartable via Reset; overlapping
// windows across calls are tolerated, deduplication happens downstream.
func (c *Client) Fetch(ownerID string, metric domain.MetricType, window domain.Window) *Stream {
	return &Stream{
		client:  c,
		ownerID: ownerID,
		metric:  metric,
		window:  window,
	}
}

// FetchAll drains the stream into a single slice.
func (c *Client) FetchAll(ctx context.Context, ownerID string, metric domain.MetricType, window domain.Window) ([]RawRecord, error) {
	stream := c.Fetch(ownerID, metric, window)
	var out []RawRecord
	for {
		records, more, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
		if !more {
			return out, nil
		}
	}
}

// FetchAggregates queries the provider's bucketed aggregate endpoint.
func (c *Client) FetchAggregates(ctx context.Context, ownerID string, metric domain.MetricType, window domain.Window, bucket time.Duration) ([]AggregateBucket, error) {
	params := url.Values{}
	params.Set("metric", string(metric))
	params.Set("startTimeNanos", strconv.FormatInt(window.Start.UnixNano(), 10))
	params.Set("endTimeNanos", strconv.FormatInt(window.End.UnixNano(), 10))
	params.Set("bucketSeconds", strconv.Itoa(int(bucket.Seconds())))

	var resp aggregateResponse
	if err := c.getJSON(ctx, ownerID, "/v1/aggregate", params, &resp); err != nil {
		return nil, err
	}

	buckets := make([]AggregateBucket, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		buckets = append(buckets, AggregateBucket{
			Metric: metric,
			Start:  time.Unix(0, b.StartTimeNanos).UTC(),
			End:    time.Unix(0, b.EndTimeNanos).UTC(),
			Value:  b.Value,
			Unit:   b.Unit,
		})
	}
	return buckets, nil
}

// Stream iterates provider dataset pages lazily.
type Stream struct {
	client  *Client
	ownerID string
	metric  domain.MetricType
	window  domain.Window
	cursor  string
	started bool
	done    bool
}

// Next fetches the next page. The second return value reports whether more
// pages remain.
func (s *Stream) Next(ctx context.Context) ([]RawRecord, bool, error) {
	if s.done {
		return nil, false, nil
	}

	params := url.Values{}
	params.Set("startTimeNanos", strconv.FormatInt(s.window.Start.UnixNano(), 10))
	params.Set("endTimeNanos", strconv.FormatInt(s.window.End.UnixNano(), 10))
	if s.cursor != "" {
		params.Set("pageToken", s.cursor)
	}

	var page datasetPage
	endpoint := fmt.Sprintf("/v1/datasets/%s", s.metric)
	if err := s.client.getJSON(ctx, s.ownerID, endpoint, params, &page); err != nil {
		return nil, false, err
	}
	s.started = true
	s.cursor = page.NextCursor
	if s.cursor == "" {
		s.done = true
	}

	records := make([]RawRecord, 0, len(page.Points))
	for _, point := range page.Points {
		records = append(records, point.toRaw(s.metric))
	}
	return records, !s.done, nil
}

// Reset rewinds the stream to the first page.
func (s *Stream) Reset() {
	s.cursor = ""
	s.started = false
	s.done = false
}

// getJSON performs one logical page fetch, applying the retry ladder:
// transient network failures and 5xx retry with jittered backoff, 429 retries
// honoring Retry-After, and a 401 forces a single credential refresh.
func (c *Client) getJSON(ctx context.Context, ownerID, endpoint string, params url.Values, out interface{}) error {
	var (
		refreshed    bool
		netAttempts  int
		rateAttempts int
		lastDelay    time.Duration
	)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		cred, err := c.creds.Get(ctx, ownerID)
		if err != nil {
			return err
		}

		status, body, retryAfter, err := c.do(ctx, cred.AccessToken, endpoint, params)
		if err != nil {
			netAttempts++
			recordRetry(endpoint, "network")
			if netAttempts > networkMaxRetries {
				return &domain.NetworkError{Transient: true, Err: err}
			}
			if err := c.sleep(ctx, jitteredBackoff(networkBaseDelay, netAttempts)); err != nil {
				return err
			}
			continue
		}

		switch {
		case status == http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode provider response: %w", err)
			}
			return nil

		case status == http.StatusUnauthorized:
			if refreshed {
				return &domain.AuthError{Reason: domain.AuthReauthRequired}
			}
			refreshed = true
			c.logger.Printf("401 from provider for owner=%s, refreshing credential", ownerID)
			if _, err := c.creds.Refresh(ctx, ownerID); err != nil {
				return err
			}
			continue

		case status == http.StatusTooManyRequests:
			rateAttempts++
			recordRetry(endpoint, "rate_limit")
			delay := retryAfterHint(lastDelay, rateAttempts)
			if retryAfter > 0 {
				delay = retryAfter
			}
			lastDelay = delay
			if rateAttempts >= c.rateLimitMaxRetries {
				return &domain.RateLimitError{RetryAfter: delay}
			}
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			continue

		case status >= 500:
			netAttempts++
			recordRetry(endpoint, "server")
			if netAttempts > networkMaxRetries {
				return &domain.NetworkError{Transient: true, Err: fmt.Errorf("provider status %d", status)}
			}
			if err := c.sleep(ctx, jitteredBackoff(networkBaseDelay, netAttempts)); err != nil {
				return err
			}
			continue

		default:
			return &domain.ProviderError{Code: status}
		}
	}
}

func (c *Client) do(ctx context.Context, token, endpoint string, params url.Values) (int, []byte, time.Duration, error) {
	requestURL := c.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, err
	}

	var retryAfter time.Duration
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, parseErr := strconv.Atoi(header); parseErr == nil && seconds > 0 {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}
	return resp.StatusCode, body, retryAfter, nil
}

func jitteredBackoff(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	return delay + time.Duration(rand.Int63n(int64(delay)/2+1))
}

func retryAfterHint(last time.Duration, attempt int) time.Duration {
	if last > 0 {
		return last * 2
	}
	return rateLimitBase << (attempt - 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
