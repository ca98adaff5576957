// Package app assembles the service's adapters from configuration. Both
// binaries build on it so the dashboard and the ingest CLI share one wiring.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/library-events-service/internal/adapter/csvfile"
	kafkaadapter "github.com/couchcryptid/library-events-service/internal/adapter/kafka"
	"github.com/couchcryptid/library-events-service/internal/adapter/mapbox"
	"github.com/couchcryptid/library-events-service/internal/adapter/nominatim"
	"github.com/couchcryptid/library-events-service/internal/adapter/sqlite"
	"github.com/couchcryptid/library-events-service/internal/adapter/website"
	"github.com/couchcryptid/library-events-service/internal/config"
	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/observability"
	"github.com/couchcryptid/library-events-service/internal/pipeline"
)

// NewGeocoder returns the provider selected by GEOCODER_PROVIDER, or nil
// when geocoding is off.
func NewGeocoder(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) domain.Geocoder {
	var geocoder domain.Geocoder
	switch cfg.GeocoderProvider {
	case config.ProviderNominatim:
		geocoder = nominatim.NewClient(cfg.NominatimURL, cfg.NominatimUserAgent, cfg.GeocoderTimeout, metrics, logger)
	case config.ProviderMapbox:
		geocoder = mapbox.NewClient(cfg.MapboxToken, cfg.GeocoderTimeout, metrics, logger)
	}

	if geocoder == nil {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("geocoding disabled")
		return nil
	}
	metrics.GeocodeEnabled.Set(1)
	logger.Info("geocoding enabled", "provider", cfg.GeocoderProvider, "timeout", cfg.GeocoderTimeout, "attempts", cfg.GeocoderAttempts)
	return geocoder
}

// NewDashboardBuilder wires the event log and the address locator into a
// dashboard builder.
func NewDashboardBuilder(cfg *config.Config, eventLog *csvfile.EventLog, metrics *observability.Metrics, logger *slog.Logger) *pipeline.DashboardBuilder {
	locator := domain.NewAddressLocator(NewGeocoder(cfg, metrics, logger), domain.LocatorOptions{
		Timeout:     cfg.GeocoderTimeout,
		MaxAttempts: cfg.GeocoderAttempts,
		State:       cfg.RosterState,
	}, logger)
	opts := domain.AggregatorOptions{
		DefaultYear: cfg.DefaultYear,
		UndatedDate: cfg.UndatedDate,
	}
	return pipeline.NewDashboardBuilder(eventLog, locator, opts, logger, metrics)
}

// Ingestion owns the resources behind an Ingestor. Close releases them.
type Ingestion struct {
	Ingestor *pipeline.Ingestor
	Queue    *sqlite.Queue

	closers []io.Closer
}

// NewIngestion opens the work queue and builds the scraper, publisher and
// calendar overrides. A headless browser is started when BROWSER_ENABLED is
// set; it lives until ctx ends or Close is called.
func NewIngestion(ctx context.Context, cfg *config.Config, eventLog *csvfile.EventLog, metrics *observability.Metrics, logger *slog.Logger) (*Ingestion, error) {
	overrides, err := config.LoadCalendarOverrides(cfg.CalendarOverridesPath)
	if err != nil {
		return nil, err
	}

	queue, err := sqlite.Open(cfg.QueueDBPath)
	if err != nil {
		return nil, err
	}
	in := &Ingestion{Queue: queue, closers: []io.Closer{queue}}

	var fetcher website.Fetcher = website.NewHTTPFetcher(cfg.FetchTimeout)
	if cfg.BrowserEnabled {
		chrome, err := website.NewChromeFetcher(ctx, cfg.BrowserTimeout)
		if err != nil {
			_ = in.Close()
			return nil, err
		}
		in.closers = append(in.closers, chrome)
		fetcher = chrome
		logger.Info("headless browser enabled", "timeout", cfg.BrowserTimeout)
	}

	roster := csvfile.NewRosterLoader(cfg.RosterState, logger).File(cfg.RosterPath)
	opts := []pipeline.IngestorOption{pipeline.WithCalendarOverrides(overrides)}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, metrics, logger)
		in.closers = append(in.closers, writer)
		opts = append(opts, pipeline.WithPublisher(writer))
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if len(overrides) > 0 {
		logger.Info("calendar overrides loaded", "count", len(overrides))
	}

	in.Ingestor = pipeline.NewIngestor(queue, eventLog, roster, website.New(fetcher, logger), logger, metrics, opts...)
	return in, nil
}

// Close releases resources in reverse order of acquisition.
func (in *Ingestion) Close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Readiness reports ready only when every checker does.
func Readiness(checkers ...sharedobs.ReadinessChecker) sharedobs.ReadinessChecker {
	return readiness(checkers)
}

type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Runner is satisfied by *pipeline.Ingestor.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (pipeline.RunSummary, error)
}

// RunScheduled performs one cron-triggered run. An overlapping trigger is
// skipped with a log line; failed libraries are retried on the next pass.
func RunScheduled(ctx context.Context, r Runner, logger *slog.Logger) {
	_, err := r.Run(ctx, pipeline.RunOptions{})
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		logger.Warn("scheduled ingestion skipped", "reason", err)
	case errors.Is(err, context.Canceled):
		logger.Info("scheduled ingestion interrupted")
	case err != nil:
		logger.Error("scheduled ingestion failed", "error", err)
	}
}

// StartSchedule triggers RunScheduled on a standard five-field cron schedule.
// The returned stop func halts the schedule and waits for a run in flight.
func StartSchedule(ctx context.Context, schedule string, r Runner, logger *slog.Logger) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { RunScheduled(ctx, r, logger) }); err != nil {
		return nil, err
	}
	c.Start()
	logger.Info("ingestion scheduled", "schedule", schedule)
	return func() { <-c.Stop().Done() }, nil
}
