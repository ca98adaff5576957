package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/library-events-service/internal/adapter/csvfile"
	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/pipeline"
)

const (
	fresnoAddress = "2420 Mariposa St, Fresno, CA 93721"
	davisAddress  = "315 E 14th St, Davis, CA 95616"
)

var dashboardOpts = domain.AggregatorOptions{DefaultYear: 2025, UndatedDate: "2025-02-17"}

type tableLocator map[string]domain.Geo

func (l tableLocator) Locate(_ context.Context, address string) (domain.Geo, bool) {
	g, ok := l[address]
	return g, ok
}

type failingSource struct{ err error }

func (s failingSource) ReadAll(context.Context) ([]domain.RawEvent, error) { return nil, s.err }

func fixtureLog() *csvfile.EventLog {
	return csvfile.NewEventLog(filepath.Join("testdata", "library_events.csv"), discardLogger())
}

func TestDashboardBuilder_FromEventLog(t *testing.T) {
	locator := tableLocator{
		fresnoAddress: {Lat: 36.7378, Lon: -119.7871},
		davisAddress:  {Lat: 38.5449, Lon: -121.7405},
	}
	metrics := newTestMetrics()
	b := pipeline.NewDashboardBuilder(fixtureLog(), locator, dashboardOpts, discardLogger(), metrics)

	dash, err := b.Build(context.Background())
	require.NoError(t, err)

	titles := make([]string, 0, len(dash.CalendarEvents))
	for _, ev := range dash.CalendarEvents {
		titles = append(titles, ev.Title)
	}
	assert.Equal(t, []string{"Chess Club", "Story Time", "Story Time", "Book Club", "Movie Night", "Seed Library"}, titles)

	starts := map[string]string{}
	for _, ev := range dash.CalendarEvents {
		starts[ev.Title+"@"+ev.Start] = ev.BackgroundColor
	}
	assert.Equal(t, domain.RecurringStyle.Background, starts["Story Time@2025-03-04"])
	assert.Equal(t, domain.RecurringStyle.Background, starts["Story Time@2025-03-11"])
	assert.Equal(t, domain.SingleStyle.Background, starts["Book Club@2025-03-10"])
	assert.Equal(t, domain.UndatedStyle.Background, starts["Seed Library@2025-02-17"])
	assert.Equal(t, domain.UndatedStyle.Background, starts["Movie Night@2025-02-17"])

	require.Len(t, dash.MapEvents, 2, "library without coordinates is left off the map")
	davis, fresno := dash.MapEvents[0], dash.MapEvents[1]
	assert.Equal(t, "Davis Branch", davis.Name)
	assert.Equal(t, 2, davis.EventCount)
	assert.Equal(t, [2]float64{38.5449, -121.7405}, davis.Coordinates)
	assert.Equal(t, "Fresno County Public Library", fresno.Name)
	assert.Equal(t, 4, fresno.EventCount)
	require.Len(t, fresno.UpcomingEvents, 3)
	assert.Equal(t, "March 11th, 2025", fresno.UpcomingEvents[0].Date)

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.UndatedEvents), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DashboardBuilds.WithLabelValues("success")), 0)
}

func TestDashboardBuilder_MissingLogIsEmpty(t *testing.T) {
	log := csvfile.NewEventLog(filepath.Join(t.TempDir(), "missing.csv"), discardLogger())
	b := pipeline.NewDashboardBuilder(log, tableLocator{}, dashboardOpts, discardLogger(), newTestMetrics())

	dash, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dash.CalendarEvents)
	assert.Empty(t, dash.MapEvents)
}

func TestDashboardBuilder_SourceError(t *testing.T) {
	metrics := newTestMetrics()
	b := pipeline.NewDashboardBuilder(failingSource{err: errors.New("disk on fire")}, tableLocator{}, dashboardOpts, discardLogger(), metrics)

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read event log")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DashboardBuilds.WithLabelValues("error")), 0)
}
