package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "library_events"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion,
// geocoding, and the dashboard.
type Metrics struct {
	// Ingestion metrics.
	LibrariesProcessed *prometheus.CounterVec // labels: outcome={done,empty,no_calendar,failed}
	EventsCaptured     prometheus.Counter
	BatchesPublished   prometheus.Counter
	PublishErrors      prometheus.Counter
	IngestRunning      prometheus.Gauge
	IngestRunDuration  prometheus.Histogram
	ScrapeDuration     prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: provider, outcome={success,error,empty}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: provider
	GeocodeEnabled     prometheus.Gauge

	// Dashboard metrics.
	DashboardBuilds        *prometheus.CounterVec // labels: outcome={success,error}
	DashboardBuildDuration prometheus.Histogram
	UndatedEvents          prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.LibrariesProcessed,
		m.EventsCaptured,
		m.BatchesPublished,
		m.PublishErrors,
		m.IngestRunning,
		m.IngestRunDuration,
		m.ScrapeDuration,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.DashboardBuilds,
		m.DashboardBuildDuration,
		m.UndatedEvents,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		LibrariesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "libraries_processed_total",
			Help:      "Libraries processed by ingestion runs, by outcome.",
		}, []string{"outcome"}),
		EventsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_captured_total",
			Help:      "Total events appended to the event log.",
		}),
		BatchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_published_total",
			Help:      "Capture batches written to the event feed topic.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Capture batches that could not be published.",
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_running",
			Help:      "1 while an ingestion run is active, 0 otherwise.",
		}),
		IngestRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_run_duration_seconds",
			Help:      "Duration of a complete ingestion run.",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		}),
		ScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "library_scrape_duration_seconds",
			Help:      "Time spent discovering and scraping one library calendar.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when a geocoding provider is configured, 0 otherwise.",
		}),
		DashboardBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_builds_total",
			Help:      "Dashboard payload builds by outcome.",
		}, []string{"outcome"}),
		DashboardBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dashboard_build_duration_seconds",
			Help:      "Time to read the event log and aggregate the dashboard.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		UndatedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "undated_events",
			Help:      "Calendar events without a parseable date in the last dashboard build.",
		}),
	}
}
