package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/library-events-service/internal/adapter/csvfile"
	"github.com/couchcryptid/library-events-service/internal/adapter/mapbox"
	"github.com/couchcryptid/library-events-service/internal/adapter/nominatim"
	"github.com/couchcryptid/library-events-service/internal/config"
	"github.com/couchcryptid/library-events-service/internal/observability"
	"github.com/couchcryptid/library-events-service/internal/pipeline"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		RosterPath:         filepath.Join(dir, "libraries.csv"),
		RosterState:        "CA",
		EventLogPath:       filepath.Join(dir, "library_events.csv"),
		QueueDBPath:        filepath.Join(dir, "ingest.db"),
		GeocoderProvider:   config.ProviderNone,
		GeocoderTimeout:    time.Second,
		GeocoderAttempts:   2,
		NominatimURL:       "http://127.0.0.1:0",
		NominatimUserAgent: "library_events_test",
		MapboxToken:        "test-token",
		FetchTimeout:       time.Second,
	}
}

func TestNewGeocoder(t *testing.T) {
	tests := []struct {
		provider    string
		wantEnabled float64
		check       func(t *testing.T, g any)
	}{
		{config.ProviderNominatim, 1, func(t *testing.T, g any) { assert.IsType(t, &nominatim.Client{}, g) }},
		{config.ProviderMapbox, 1, func(t *testing.T, g any) { assert.IsType(t, &mapbox.Client{}, g) }},
		{config.ProviderNone, 0, func(t *testing.T, g any) { assert.Nil(t, g) }},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.GeocoderProvider = tt.provider
			metrics := observability.NewMetricsForTesting()

			g := NewGeocoder(cfg, metrics, discardLogger())

			tt.check(t, g)
			assert.InDelta(t, tt.wantEnabled, testutil.ToFloat64(metrics.GeocodeEnabled), 0)
		})
	}
}

func TestNewDashboardBuilder_MissingLog(t *testing.T) {
	cfg := testConfig(t)
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()

	b := NewDashboardBuilder(cfg, csvfile.NewEventLog(cfg.EventLogPath, logger), metrics, logger)
	dash, err := b.Build(context.Background())

	require.NoError(t, err)
	assert.Empty(t, dash.CalendarEvents)
	assert.Empty(t, dash.MapEvents)
}

func TestNewIngestion(t *testing.T) {
	cfg := testConfig(t)
	logger := discardLogger()

	in, err := NewIngestion(context.Background(), cfg, csvfile.NewEventLog(cfg.EventLogPath, logger), observability.NewMetricsForTesting(), logger)
	require.NoError(t, err)

	assert.NotNil(t, in.Ingestor)
	require.NoError(t, in.Queue.CheckReadiness(context.Background()))
	require.NoError(t, in.Close())
}

func TestNewIngestion_BadOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.CalendarOverridesPath = filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(cfg.CalendarOverridesPath, []byte("calendars:\n  - library: Fresno\n    url: not-a-url\n"), 0o600))
	logger := discardLogger()

	_, err := NewIngestion(context.Background(), cfg, csvfile.NewEventLog(cfg.EventLogPath, logger), observability.NewMetricsForTesting(), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar override")
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) CheckReadiness(ctx context.Context) error { return f(ctx) }

func TestReadiness(t *testing.T) {
	ok := checkerFunc(func(context.Context) error { return nil })
	down := checkerFunc(func(context.Context) error { return errors.New("queue closed") })

	require.NoError(t, Readiness().CheckReadiness(context.Background()))
	require.NoError(t, Readiness(ok, ok).CheckReadiness(context.Background()))
	assert.EqualError(t, Readiness(ok, down).CheckReadiness(context.Background()), "queue closed")
}

type stubRunner struct {
	err   error
	calls int
}

func (r *stubRunner) Run(context.Context, pipeline.RunOptions) (pipeline.RunSummary, error) {
	r.calls++
	return pipeline.RunSummary{}, r.err
}

func TestRunScheduled(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{"overlap", pipeline.ErrRunInProgress, "scheduled ingestion skipped"},
		{"canceled", context.Canceled, "scheduled ingestion interrupted"},
		{"failed", errors.New("load roster: missing"), "scheduled ingestion failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := &stubRunner{err: tt.err}

			RunScheduled(context.Background(), r, slog.New(slog.NewTextHandler(&buf, nil)))

			assert.Equal(t, 1, r.calls)
			assert.Contains(t, buf.String(), tt.wantLog)
		})
	}
}

func TestStartSchedule_InvalidSpec(t *testing.T) {
	_, err := StartSchedule(context.Background(), "every tuesday", &stubRunner{}, discardLogger())
	require.Error(t, err)
}

func TestStartSchedule_Stop(t *testing.T) {
	stop, err := StartSchedule(context.Background(), "0 3 * * *", &stubRunner{}, discardLogger())
	require.NoError(t, err)
	stop()
}
