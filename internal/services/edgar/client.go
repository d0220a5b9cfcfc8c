// -----------------------------------------------------------------------
// EDGAR client - rate limited, identified HTTP access to sec.gov
// -----------------------------------------------------------------------

package edgar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit stays under the SEC fair access limit of 10 requests per second
	DefaultRateLimit = 8

	// maxBodyBytes caps any single response; full 10-K documents are well below this
	maxBodyBytes = 64 << 20
)

// ErrUnknownTicker is returned when a ticker has no CIK in the SEC directory.
// It is a precondition error and is never retried.
var ErrUnknownTicker = fmt.Errorf("unknown ticker: %w", models.ErrUnknownIdentifier)

// APIError represents a non-200 response from an EDGAR endpoint
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EDGAR request failed: %s (status: %d, url: %s)", e.Message, e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an EDGAR 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client performs GET requests against sec.gov hosts.
// SEC rejects requests without a descriptive User-Agent, so one is mandatory.
type Client struct {
	userAgent  string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the request rate in requests per second
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates an EDGAR client
func NewClient(userAgent string, opts ...ClientOption) (*Client, error) {
	if userAgent == "" {
		return nil, fmt.Errorf("EDGAR user agent is required (e.g. \"Company admin@example.com\")")
	}

	c := &Client{
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:  arbor.NewNoOpLogger(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// GetJSON fetches url and decodes the JSON body into result
func (c *Client) GetJSON(ctx context.Context, url string, result interface{}) error {
	body, err := c.do(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

// GetBody fetches url and returns the raw body
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	body, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	c.logger.Trace().
		Str("url", url).
		Msg("EDGAR request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			URL:        url,
			Message:    string(msg),
		}
	}

	c.logger.Trace().
		Str("url", url).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("EDGAR response")
	return resp.Body, nil
}
