package dash

import (
	"context"
	"fmt"
	"net/url"

	"svtdl/internal/logger"
)

// DocumentFetcher fetches a document and reports the URL it was finally
// served from.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, *url.URL, error)
}

// Client fetches and parses MPDs from the origin server.
type Client struct {
	fetcher DocumentFetcher
	logger  logger.Logger
}

// NewClient creates a new DASH client.
func NewClient(fetcher DocumentFetcher, log logger.Logger) *Client {
	return &Client{fetcher: fetcher, logger: logger.OrNop(log)}
}

// FetchAndParseMPD fetches the MPD at manifestURL and parses it. The returned
// URL is the post-redirect location that relative BaseURLs resolve against.
func (c *Client) FetchAndParseMPD(ctx context.Context, manifestURL string) (*MPD, *url.URL, error) {
	c.logger.Debugf("Fetching MPD from URL: %s", manifestURL)

	data, finalURL, err := c.fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch MPD: %w", err)
	}
	mpd, err := Parse(data)
	if err != nil {
		c.logger.Errorf("Failed to unmarshal MPD XML from %s: %v", finalURL, err)
		return nil, nil, err
	}

	c.logger.Debugf("Parsed MPD with %d period(s) from %s", len(mpd.Periods), finalURL)
	return mpd, finalURL, nil
}

// resolveURL resolves a path against a base URL, handling potential errors.
func resolveURL(base *url.URL, path string) (*url.URL, error) {
	resolvedPath, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path '%s': %w", path, err)
	}
	return base.ResolveReference(resolvedPath), nil
}

// ResolveBaseURL walks the BaseURL chain MPD → Period → AdaptationSet →
// Representation starting at the manifest location.
func (m *MPD) ResolveBaseURL(manifestURL *url.URL, period *Period, as *AdaptationSet, rep *Representation) (*url.URL, error) {
	current := manifestURL
	for _, ref := range []string{m.BaseURL, period.BaseURL, as.BaseURL, rep.BaseURL} {
		if ref == "" {
			continue
		}
		next, err := resolveURL(current, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve BaseURL: %w", err)
		}
		current = next
	}
	return current, nil
}
