// Command validate audits a roster export and the event log before they are
// served. It checks that the roster parses, that every logged event belongs
// to a roster library, that dates normalize, and that the dashboard built
// from the log is internally consistent.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -roster libraries.csv \
//	  -event-log library_events.csv \
//	  -today 2025-03-01
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/library-events-service/internal/adapter/csvfile"
	"github.com/couchcryptid/library-events-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	rosterPath      string
	eventLogPath    string
	state           string
	today           string
	maxUndatedRatio float64
}

func main() {
	var opts options
	flag.StringVar(&opts.rosterPath, "roster", "libraries.csv", "roster CSV export")
	flag.StringVar(&opts.eventLogPath, "event-log", "library_events.csv", "event log CSV")
	flag.StringVar(&opts.state, "state", "CA", "two-letter state used in roster addresses")
	flag.StringVar(&opts.today, "today", "", "YYYY-MM-DD used as today when normalizing dates (default: now)")
	flag.Float64Var(&opts.maxUndatedRatio, "max-undated", 0.5, "largest tolerated share of undated calendar events")
	flag.Parse()

	if code := run(os.Stdout, opts); code != 0 {
		os.Exit(code)
	}
}

func run(w io.Writer, opts options) int {
	if opts.today != "" {
		today, err := time.Parse(domain.ISODateLayout, opts.today)
		if err != nil {
			fmt.Fprintf(w, "FATAL: invalid -today %q: %v\n", opts.today, err)
			return 1
		}
		domain.SetClock(clockwork.NewFakeClockAt(today))
		defer domain.SetClock(nil)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Fprintln(w, "=== Library Events Validation ===")
	fmt.Fprintln(w)

	libs, stats, err := csvfile.NewRosterLoader(opts.state, logger).LoadFile(opts.rosterPath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load roster: %v\n", err)
		return 1
	}
	raw, err := csvfile.NewEventLog(opts.eventLogPath, logger).ReadAll(context.Background())
	if err != nil {
		fmt.Fprintf(w, "FATAL: read event log: %v\n", err)
		return 1
	}

	agg := domain.NewAggregator(addressPresent{}, domain.AggregatorOptions{}, logger)
	dash := agg.Aggregate(context.Background(), raw)

	phases := []*phase{
		validateRoster(libs, stats),
		validateEventLog(raw, libs),
		validateDates(dash, opts.maxUndatedRatio),
		validateDashboard(dash, raw, agg.UndatedDate()),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d roster rows, %d libraries, %d logged events, %d calendar events, %d map pins\n",
		stats.Rows, len(libs), len(raw), len(dash.CalendarEvents), len(dash.MapEvents))
	fmt.Fprintf(w, "Roster skips: %d short, %d without website, %d without address, %d duplicate\n",
		stats.Short, stats.NoWebsite, stats.NoAddress, stats.Duplicate)
	groups, members := recurringGroups(raw)
	fmt.Fprintf(w, "Recurring: %d groups covering %d events\n", groups, members)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// addressPresent places every library with an address at the origin, so
// the map grouping can be checked without a geocoding provider.
type addressPresent struct{}

func (addressPresent) Locate(_ context.Context, address string) (domain.Geo, bool) {
	return domain.Geo{}, strings.TrimSpace(address) != ""
}

// ── Phases ──

func validateRoster(libs []domain.LibraryRecord, stats csvfile.RosterStats) *phase {
	p := &phase{name: "Roster: libraries usable"}
	if len(libs) == 0 {
		p.errorf("no usable libraries in %d rows", stats.Rows)
	}

	seen := make(map[string]bool, len(libs))
	for _, lib := range libs {
		if seen[lib.Name] {
			p.errorf("duplicate library %q", lib.Name)
		}
		seen[lib.Name] = true
		if !isWebURL(lib.URL) {
			p.errorf("library %q: url %q is not http(s)", lib.Name, lib.URL)
		}
		if strings.TrimSpace(lib.Address) == "" {
			p.errorf("library %q: empty address", lib.Name)
		}
	}
	return p
}

func validateEventLog(raw []domain.RawEvent, libs []domain.LibraryRecord) *phase {
	p := &phase{name: "Event log: rows match roster"}
	roster := make(map[string]bool, len(libs))
	for _, lib := range libs {
		roster[lib.Name] = true
	}

	unknown := map[string]bool{}
	for i, ev := range raw {
		if ev.LibraryName == "" {
			p.errorf("event %d: empty library name", i+1)
			continue
		}
		if !roster[ev.LibraryName] && !unknown[ev.LibraryName] {
			unknown[ev.LibraryName] = true
			p.errorf("library %q is in the event log but not on the roster", ev.LibraryName)
		}
		if ev.Link != "" && !isWebURL(ev.Link) {
			p.errorf("event %d (%q): link %q is not http(s)", i+1, ev.Title, ev.Link)
		}
	}
	return p
}

func validateDates(dash domain.Dashboard, maxUndated float64) *phase {
	p := &phase{name: "Dates: undated share within limit"}
	if len(dash.CalendarEvents) == 0 {
		return p
	}
	undated := 0
	for _, ev := range dash.CalendarEvents {
		if ev.Undated {
			undated++
		}
	}
	ratio := float64(undated) / float64(len(dash.CalendarEvents))
	if ratio > maxUndated {
		p.errorf("%d of %d calendar events are undated (%.0f%%, limit %.0f%%)",
			undated, len(dash.CalendarEvents), ratio*100, maxUndated*100)
	}
	return p
}

func validateDashboard(dash domain.Dashboard, raw []domain.RawEvent, undatedDate string) *phase {
	p := &phase{name: "Dashboard: calendar and map consistent"}

	titled, addressed := 0, 0
	for _, ev := range raw {
		if strings.TrimSpace(ev.Title) != "" {
			titled++
		}
		if ev.LibraryURL != "" && strings.TrimSpace(ev.LibraryAddress) != "" {
			addressed++
		}
	}
	if len(dash.CalendarEvents) != titled {
		p.errorf("calendar has %d events, log has %d titled rows", len(dash.CalendarEvents), titled)
	}

	for i, ev := range dash.CalendarEvents {
		checkCalendarEvent(p.errorf, i, ev, undatedDate)
	}

	pinned := 0
	for _, loc := range dash.MapEvents {
		pinned += loc.EventCount
		if len(loc.UpcomingEvents) > 3 {
			p.errorf("map pin %q: %d upcoming events (max 3)", loc.Name, len(loc.UpcomingEvents))
		}
	}
	if pinned != addressed {
		p.errorf("map pins count %d events, log has %d rows with a library url and address", pinned, addressed)
	}
	return p
}

func checkCalendarEvent(pf func(string, ...any), i int, ev domain.CalendarEvent, undatedDate string) {
	if _, err := time.Parse(domain.ISODateLayout, ev.Start); err != nil {
		pf("calendar event %d (%q): start %q is not YYYY-MM-DD", i, ev.Title, ev.Start)
	}

	want := domain.SingleStyle
	switch {
	case ev.Undated:
		want = domain.UndatedStyle
		if ev.Start != undatedDate {
			pf("calendar event %d (%q): undated but starts %s, not %s", i, ev.Title, ev.Start, undatedDate)
		}
	case ev.Recurring:
		want = domain.RecurringStyle
	}
	if ev.BackgroundColor != want.Background || ev.BorderColor != want.Border {
		pf("calendar event %d (%q): colours %s/%s, want %s/%s",
			i, ev.Title, ev.BackgroundColor, ev.BorderColor, want.Background, want.Border)
	}
	if ev.Recurring && !strings.HasSuffix(ev.Description, domain.RecurringNote) {
		pf("calendar event %d (%q): recurring without the recurring note", i, ev.Title)
	}
	if ev.URL != nil && *ev.URL == "" {
		pf("calendar event %d (%q): empty url should be null", i, ev.Title)
	}
}

// ── Helpers ──

// recurringGroups counts titled (title, library url) pairs that occur more
// than once, and the rows in them.
func recurringGroups(raw []domain.RawEvent) (groups, members int) {
	type key struct{ title, url string }
	counts := map[key]int{}
	for _, ev := range raw {
		if strings.TrimSpace(ev.Title) == "" {
			continue
		}
		counts[key{ev.Title, ev.LibraryURL}]++
	}
	for _, n := range counts {
		if n > 1 {
			groups++
			members += n
		}
	}
	return groups, members
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
