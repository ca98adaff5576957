//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/library-events-service/internal/observability"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_Geocode_LibraryAddress(t *testing.T) {
	c := smokeClient(t)

	// Fresno County Public Library, Central branch.
	result, err := c.Geocode(context.Background(), "2420 Mariposa St, Fresno, CA 93721, USA")
	require.NoError(t, err)

	assert.InDelta(t, 36.74, result.Lat, 0.1, "lat should be near Fresno")
	assert.InDelta(t, -119.78, result.Lon, 0.1, "lon should be near Fresno")
	assert.Contains(t, result.FormattedAddress, "Fresno")
}

func TestSmoke_Geocode_CityFallbackQuery(t *testing.T) {
	c := smokeClient(t)

	result, err := c.Geocode(context.Background(), "Davis, CA, USA")
	require.NoError(t, err)
	assert.InDelta(t, 38.54, result.Lat, 0.1)
}

func TestSmoke_Geocode_Nonsense(t *testing.T) {
	c := smokeClient(t)

	// Mapbox's fuzzy matching may still return results for nonsense queries,
	// so we verify the client handles any response gracefully (no error).
	_, err := c.Geocode(context.Background(), "XYZNONEXISTENT99, ZZ, USA")
	require.NoError(t, err)
}
