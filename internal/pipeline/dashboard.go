package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/observability"
)

// EventSource reads every raw event captured so far.
type EventSource interface {
	ReadAll(ctx context.Context) ([]domain.RawEvent, error)
}

// DashboardBuilder rebuilds the calendar and map payload from the event log
// on every call. Nothing derived is stored between builds.
type DashboardBuilder struct {
	source  EventSource
	locator domain.Locator
	opts    domain.AggregatorOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDashboardBuilder creates a builder. Zero fields in opts are taken from
// the clock at the start of each build.
func NewDashboardBuilder(source EventSource, locator domain.Locator, opts domain.AggregatorOptions, logger *slog.Logger, metrics *observability.Metrics) *DashboardBuilder {
	return &DashboardBuilder{
		source:  source,
		locator: locator,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Build reads the log and aggregates it.
func (b *DashboardBuilder) Build(ctx context.Context) (domain.Dashboard, error) {
	start := time.Now()

	raw, err := b.source.ReadAll(ctx)
	if err != nil {
		b.metrics.DashboardBuilds.WithLabelValues("error").Inc()
		return domain.Dashboard{}, fmt.Errorf("read event log: %w", err)
	}

	agg := domain.NewAggregator(b.locator, b.opts, b.logger)
	dash := agg.Aggregate(ctx, raw)

	undated := 0
	for _, ev := range dash.CalendarEvents {
		if ev.Undated {
			undated++
		}
	}
	b.metrics.UndatedEvents.Set(float64(undated))
	b.metrics.DashboardBuilds.WithLabelValues("success").Inc()
	b.metrics.DashboardBuildDuration.Observe(time.Since(start).Seconds())

	b.logger.Debug("dashboard built",
		"raw_events", len(raw),
		"calendar_events", len(dash.CalendarEvents),
		"map_locations", len(dash.MapEvents),
		"undated", undated,
	)
	return dash, nil
}
