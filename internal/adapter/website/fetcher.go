// Package website discovers library calendar pages and extracts events from
// them.
package website

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// UserAgent identifies the scraper to library web servers.
	UserAgent = "library-events/1.0 (+https://github.com/couchcryptid/library-events-service)"
	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 30 * time.Second

	maxPageBytes = 10 << 20
)

// Page is a fetched HTML document. URL is the final location after redirects
// and is the base for resolving relative links.
type Page struct {
	URL  string
	HTML string
}

// Fetcher loads a web page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

// HTTPFetcher fetches pages with a plain HTTP GET. It does not run scripts.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: UserAgent,
	}
}

// Fetch GETs pageURL and returns its body.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetching %s: unexpected status code: %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, fmt.Errorf("reading page: %w", err)
	}
	return Page{URL: resp.Request.URL.String(), HTML: string(body)}, nil
}
