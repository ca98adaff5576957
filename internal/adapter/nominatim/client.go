// Package nominatim geocodes addresses with an OpenStreetMap Nominatim server.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/observability"
)

const providerLabel = "nominatim"

// DefaultMinInterval is the public server's usage-policy request rate.
const DefaultMinInterval = time.Second

// Client implements domain.Geocoder against the Nominatim /search endpoint.
// Requests are spaced at least minInterval apart.
type Client struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	minInterval time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewClient creates a Nominatim client. userAgent identifies the application
// as required by the usage policy.
func NewClient(baseURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		userAgent:   userAgent,
		httpClient:  &http.Client{Timeout: timeout},
		minInterval: DefaultMinInterval,
		metrics:     metrics,
		logger:      logger,
	}
}

// Geocode looks up a free-text query and returns the best match, or an empty
// result when the server has none.
func (c *Client) Geocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	if err := c.throttle(ctx); err != nil {
		return domain.GeocodingResult{}, err
	}

	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}

	start := time.Now()
	result, err := c.doRequest(ctx, c.baseURL+"/search?"+params.Encode())
	c.metrics.GeocodeAPIDuration.WithLabelValues(providerLabel).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues(providerLabel, "error").Inc()
	case !result.Found():
		c.metrics.GeocodeRequests.WithLabelValues(providerLabel, "empty").Inc()
		c.logger.Debug("nominatim returned no places", "query", query)
	default:
		c.metrics.GeocodeRequests.WithLabelValues(providerLabel, "success").Inc()
	}
	return result, err
}

// throttle waits out the remainder of minInterval since the previous request.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.IsZero() {
		if !retry.SleepWithContext(ctx, c.minInterval-time.Since(c.last)) {
			return fmt.Errorf("nominatim throttle: %w", ctx.Err())
		}
	}
	c.last = time.Now()
	return nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("nominatim search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(places) == 0 {
		return domain.GeocodingResult{}, nil
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("parse lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("parse lon %q: %w", p.Lon, err)
	}
	return domain.GeocodingResult{
		Lat:              lat,
		Lon:              lon,
		FormattedAddress: p.DisplayName,
		Confidence:       p.Importance,
	}, nil
}

// Nominatim jsonv2 response. Coordinates are decimal strings.
type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}
