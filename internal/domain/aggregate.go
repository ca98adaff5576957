package domain

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// Calendar colours. Undated wins over recurring.
var (
	SingleStyle    = DisplayStyle{Background: "#3788d8", Border: "#2c6aa0"}
	RecurringStyle = DisplayStyle{Background: "#28a745", Border: "#1e7e34"}
	UndatedStyle   = DisplayStyle{Background: "#6c757d", Border: "#5a6268", ClassNames: []string{"ongoing-event"}}
)

// RecurringNote is appended to the description of recurring events.
const RecurringNote = "\n(This is a recurring event)"

// maxUpcomingEvents caps the preview list on a map pin.
const maxUpcomingEvents = 3

// Locator resolves an address to coordinates, reporting ok=false on any miss.
type Locator interface {
	Locate(ctx context.Context, address string) (Geo, bool)
}

// AggregatorOptions fixes the per-run constants of an Aggregator.
// Zero values are filled from the package clock when the aggregator is built.
type AggregatorOptions struct {
	DefaultYear int
	UndatedDate string // YYYY-MM-DD start date given to undated events
}

// Aggregator turns the raw event log into calendar events and map pins.
type Aggregator struct {
	normalizer  *DateNormalizer
	locator     Locator
	undatedDate string
	logger      *slog.Logger
}

// NewAggregator builds an Aggregator. The default year and undated date are
// resolved once here, so a single run never straddles two "todays".
func NewAggregator(locator Locator, opts AggregatorOptions, logger *slog.Logger) *Aggregator {
	now := clock.Now()
	if opts.DefaultYear == 0 {
		opts.DefaultYear = now.Year()
	}
	if opts.UndatedDate == "" {
		opts.UndatedDate = now.Format(ISODateLayout)
	}
	return &Aggregator{
		normalizer:  NewDateNormalizer(opts.DefaultYear),
		locator:     locator,
		undatedDate: opts.UndatedDate,
		logger:      logger,
	}
}

// Normalizer exposes the date normalizer used by this aggregator.
func (a *Aggregator) Normalizer() *DateNormalizer { return a.normalizer }

// UndatedDate is the placeholder start date for events without a usable date.
func (a *Aggregator) UndatedDate() string { return a.undatedDate }

// Aggregate builds the dashboard for raw. The result depends only on raw and
// the locator's answers; raw is not modified.
func (a *Aggregator) Aggregate(ctx context.Context, raw []RawEvent) Dashboard {
	recurring := recurringKeys(raw)
	sorted := sortByRawDate(raw)

	return Dashboard{
		CalendarEvents: a.calendarEvents(sorted, recurring),
		MapEvents:      a.mapLocations(ctx, sorted),
	}
}

func (a *Aggregator) calendarEvents(sorted []RawEvent, recurring map[recurrenceKey]bool) []CalendarEvent {
	events := make([]CalendarEvent, 0, len(sorted))
	undated := 0
	for _, ev := range sorted {
		if strings.TrimSpace(ev.Title) == "" {
			continue
		}
		isRecurring := recurring[keyOf(ev)]
		start, dated := a.normalizer.Normalize(ev.Date)
		if !dated {
			start = a.undatedDate
			undated++
		}

		style := styleFor(dated, isRecurring)
		events = append(events, CalendarEvent{
			Title:           ev.Title,
			Description:     describe(ev, isRecurring),
			URL:             optionalLink(ev.Link),
			Start:           start,
			Recurring:       isRecurring,
			Undated:         !dated,
			BackgroundColor: style.Background,
			BorderColor:     style.Border,
			ClassNames:      style.ClassNames,
		})
	}
	if undated > 0 {
		a.logger.Debug("undated events placed on placeholder date", "count", undated, "date", a.undatedDate)
	}
	return events
}

func (a *Aggregator) mapLocations(ctx context.Context, sorted []RawEvent) []LibraryLocation {
	groups := groupByLocation(sorted)
	locations := make([]LibraryLocation, 0, len(groups))
	for _, g := range groups {
		geo, ok := a.locator.Locate(ctx, g.key.address)
		if !ok {
			a.logger.Warn("library omitted from map",
				"library", g.key.name,
				"address", g.key.address,
			)
			continue
		}
		locations = append(locations, LibraryLocation{
			Name:           g.key.name,
			Address:        g.key.address,
			Coordinates:    [2]float64{geo.Lat, geo.Lon},
			EventCount:     len(g.rows),
			URL:            g.key.url,
			UpcomingEvents: upcoming(g.rows),
		})
	}
	return locations
}

// styleFor picks one of three mutually exclusive looks from (dated, recurring).
func styleFor(dated, recurring bool) DisplayStyle {
	switch {
	case !dated:
		return UndatedStyle
	case recurring:
		return RecurringStyle
	default:
		return SingleStyle
	}
}

// describe joins the non-blank description parts with blank lines.
func describe(ev RawEvent, recurring bool) string {
	parts := make([]string, 0, 4)
	if strings.TrimSpace(ev.Description) != "" {
		parts = append(parts, ev.Description)
	}
	if strings.TrimSpace(ev.LibraryName) != "" {
		parts = append(parts, "Library: "+ev.LibraryName)
	}
	if strings.TrimSpace(ev.LibraryAddress) != "" {
		parts = append(parts, "Address: "+ev.LibraryAddress)
	}
	if recurring {
		parts = append(parts, RecurringNote)
	}
	return strings.Join(parts, "\n\n")
}

func optionalLink(link string) *string {
	if strings.TrimSpace(link) == "" {
		return nil
	}
	return &link
}

type recurrenceKey struct {
	title string
	url   string
}

func keyOf(ev RawEvent) recurrenceKey {
	return recurrenceKey{title: ev.Title, url: ev.LibraryURL}
}

// recurringKeys returns every (title, library url) pair that occurs more than once.
func recurringKeys(raw []RawEvent) map[recurrenceKey]bool {
	seen := make(map[recurrenceKey]int, len(raw))
	for _, ev := range raw {
		seen[keyOf(ev)]++
	}
	out := make(map[recurrenceKey]bool)
	for k, n := range seen {
		if n > 1 {
			out[k] = true
		}
	}
	return out
}

// sortByRawDate orders events by their raw date text, blank dates last.
// The sort is stable so equal dates keep log order.
func sortByRawDate(raw []RawEvent) []RawEvent {
	sorted := make([]RawEvent, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := hasRawDate(sorted[i]), hasRawDate(sorted[j])
		if di != dj {
			return di
		}
		if !di {
			return false
		}
		return sorted[i].Date < sorted[j].Date
	})
	return sorted
}

func hasRawDate(ev RawEvent) bool {
	return strings.TrimSpace(ev.Date) != ""
}

type locationKey struct {
	url     string
	name    string
	address string
}

type locationGroup struct {
	key  locationKey
	rows []RawEvent
}

// groupByLocation partitions rows by their exact (url, name, address) triple,
// ordered by key. Rows without a library url are not placed on the map.
func groupByLocation(sorted []RawEvent) []locationGroup {
	index := make(map[locationKey]int)
	var groups []locationGroup
	for _, ev := range sorted {
		if ev.LibraryURL == "" {
			continue
		}
		k := locationKey{url: ev.LibraryURL, name: ev.LibraryName, address: ev.LibraryAddress}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, locationGroup{key: k})
		}
		groups[i].rows = append(groups[i].rows, ev)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].key, groups[j].key
		if a.url != b.url {
			return a.url < b.url
		}
		if a.name != b.name {
			return a.name < b.name
		}
		return a.address < b.address
	})
	return groups
}

// upcoming returns the first few rows that carry a date, in row order.
func upcoming(rows []RawEvent) []UpcomingEvent {
	out := make([]UpcomingEvent, 0, maxUpcomingEvents)
	for _, ev := range rows {
		if len(out) == maxUpcomingEvents {
			break
		}
		if !hasRawDate(ev) {
			continue
		}
		out = append(out, UpcomingEvent{
			Title:       ev.Title,
			Date:        ev.Date,
			Description: ev.Description,
		})
	}
	return out
}
