// Package httpclient is the network boundary: a pooled HTTP client that
// fetches manifests, playlists and media segments.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"svtdl/internal/logger"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 32
	DefaultUserAgent       = "svtdl/1.0"
)

// Fetcher is the GET capability the core depends on.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
	GetText(ctx context.Context, rawURL string) (string, error)
}

// StatusError reports a response outside 2xx.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("get %s: unexpected status %d %s", redactURL(e.URL), e.StatusCode, http.StatusText(e.StatusCode))
}

// Client fetches documents and segments over one shared transport. It is safe
// for concurrent use; the caller owns its lifetime.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Options after it, such
// as WithTimeout, modify hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the overall per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// WithRateLimit paces requests to rps per second. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client with a tuned transport.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: newTransport(),
		},
		logger:    logger.Nop(),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNop(c.logger)
	return c
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = MaxIdleConnsPerHost
	t.IdleConnTimeout = DefaultIdleConnTimeout
	t.ResponseHeaderTimeout = 30 * time.Second
	return t
}

// Get fetches rawURL and returns the decoded body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	data, _, err := c.Fetch(ctx, rawURL)
	return data, err
}

// GetText fetches rawURL and returns the body as a string.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	data, _, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Fetch fetches rawURL and also returns the final URL after redirects, which
// relative references in the document resolve against.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request for %s: %w", redactURL(rawURL), err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", redactURL(rawURL), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode body of %s: %w", redactURL(rawURL), err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body of %s: %w", redactURL(rawURL), err)
	}
	c.logger.Debugf("fetched %s (%d bytes)", redactURL(rawURL), len(data))
	return data, resp.Request.URL, nil
}

func redactURL(s string) string {
	if i := strings.Index(s, "?"); i >= 0 {
		return s[:i] + "?[redacted]"
	}
	return s
}
