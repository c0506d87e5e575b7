package feed

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/maxadvisor/internal/models"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryDelayBase = time.Second
	defaultRateLimit      = 2.0 // requests per second
	defaultBurst          = 2
)

// Source yields the current batch of predictions.
type Source interface {
	Fetch(ctx context.Context) ([]models.MatchPrediction, []RecordError, error)
}

// Client fetches predictions from the upstream HTTP feed.
type Client struct {
	url            string
	apiKey         string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetry sets the attempt count and the linear backoff step.
func WithRetry(maxRetries int, retryDelayBase time.Duration) ClientOption {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if retryDelayBase > 0 {
			c.retryDelayBase = retryDelayBase
		}
	}
}

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new feed client for url
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:            url,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		limiter:        rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:     defaultMaxRetries,
		retryDelayBase: defaultRetryDelayBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves and decodes the current feed.
func (c *Client) Fetch(ctx context.Context) ([]models.MatchPrediction, []RecordError, error) {
	resp, err := c.doRequest(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	return Decode(resp.Body)
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		default:
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// FileSource reads predictions from a local JSON file on every fetch.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (f FileSource) Fetch(ctx context.Context) ([]models.MatchPrediction, []RecordError, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return LoadFile(f.Path)
}

// LoadFile decodes predictions from a JSON file.
func LoadFile(path string) ([]models.MatchPrediction, []RecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open feed file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}
