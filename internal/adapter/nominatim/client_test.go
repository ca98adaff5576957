package nominatim

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/library-events-service/internal/observability"
)

const (
	testUserAgent = "library_events_test"
	testQuery     = "2420 Mariposa St, Fresno, CA 93721, USA"
)

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		userAgent:  testUserAgent,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_Geocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, testQuery, r.URL.Query().Get("q"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"36.7431","lon":"-119.7900","display_name":"Fresno County Public Library, 2420, Mariposa Street, Fresno","importance":0.41}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Geocode(context.Background(), testQuery)
	require.NoError(t, err)

	assert.True(t, result.Found())
	assert.Equal(t, 36.7431, result.Lat)
	assert.Equal(t, -119.79, result.Lon)
	assert.Contains(t, result.FormattedAddress, "Fresno County Public Library")
	assert.Equal(t, 0.41, result.Confidence)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues(providerLabel, "success")), 0)
}

func TestClient_Geocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Geocode(context.Background(), "Nowhere, ZZ, USA")
	require.NoError(t, err)
	assert.False(t, result.Found())
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues(providerLabel, "empty")), 0)
}

func TestClient_Geocode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, "429"},
		{"forbidden", http.StatusForbidden, `blocked`, "403"},
		{"malformed json", http.StatusOK, `[{"lat":`, "decode response"},
		{"bad latitude", http.StatusOK, `[{"lat":"north","lon":"-119.79"}]`, "parse lat"},
		{"bad longitude", http.StatusOK, `[{"lat":"36.7","lon":""}]`, "parse lon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := testClient(srv.URL)
			_, err := c.Geocode(context.Background(), testQuery)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues(providerLabel, "error")), 0)
		})
	}
}

func TestClient_Geocode_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := testClient(srv.URL).Geocode(ctx, testQuery)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Throttle(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.minInterval = 100 * time.Millisecond

	start := time.Now()
	_, err := c.Geocode(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Geocode(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestClient_Throttle_CanceledWhileWaiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.minInterval = time.Hour

	_, err := c.Geocode(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Geocode(ctx, "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
