package website

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

// Anchor scores used to pick a calendar link off a library homepage.
const (
	scoreCalendar = 3
	scoreEvent    = 2
	scoreSameHost = 1
)

var (
	// isoDateTimeRe matches an ISO 8601 timestamp; group 1 is the date part.
	isoDateTimeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})T`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

const (
	microdataSelector = `[itemtype*="schema.org/"][itemtype$="Event"]`
	markupSelector    = `.event, .event-item, article.event, li.event`
)

// Scraper finds a library's calendar page and lists the events on it.
type Scraper struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// New creates a Scraper that loads pages with fetcher.
func New(fetcher Fetcher, logger *slog.Logger) *Scraper {
	return &Scraper{fetcher: fetcher, logger: logger}
}

// FindCalendarURL fetches the library homepage and returns the absolute URL
// of the link most likely to be its event calendar, or "" when no link
// mentions a calendar or events.
func (s *Scraper) FindCalendarURL(ctx context.Context, siteURL string) (string, error) {
	page, err := s.fetcher.Fetch(ctx, siteURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return "", fmt.Errorf("parsing page url: %w", err)
	}

	best, bestScore := "", 0
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, ok := resolveLink(base, href)
		if !ok {
			return
		}
		score := anchorScore(base, abs, a.Text())
		if score > bestScore {
			best, bestScore = abs.String(), score
		}
	})

	s.logger.Debug("calendar discovery", "site", siteURL, "calendar", best, "score", bestScore)
	return best, nil
}

// anchorScore rates how strongly a link points at an event calendar.
// Links that mention neither a calendar nor events score 0.
func anchorScore(base, link *url.URL, text string) int {
	target := strings.ToLower(link.Path + "?" + link.RawQuery + " " + text)
	score := 0
	if strings.Contains(target, "calendar") {
		score += scoreCalendar
	}
	if strings.Contains(target, "event") {
		score += scoreEvent
	}
	if score == 0 {
		return 0
	}
	if strings.EqualFold(link.Hostname(), base.Hostname()) {
		score += scoreSameHost
	}
	return score
}

// ListEvents fetches a calendar page and extracts its events. Structured data
// is preferred: JSON-LD first, then microdata, then common event markup.
func (s *Scraper) ListEvents(ctx context.Context, calendarURL string) ([]domain.ScrapedEvent, error) {
	page, err := s.fetcher.Fetch(ctx, calendarURL)
	if err != nil {
		return nil, err
	}
	return s.ParseEvents(page)
}

// ParseEvents extracts events from an already fetched page.
func (s *Scraper) ParseEvents(page Page) ([]domain.ScrapedEvent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing page url: %w", err)
	}

	strategies := []struct {
		name    string
		extract func(*goquery.Document, *url.URL) []domain.ScrapedEvent
	}{
		{"json-ld", s.jsonLDEvents},
		{"microdata", microdataEvents},
		{"markup", markupEvents},
	}
	for _, st := range strategies {
		events := dedupe(st.extract(doc, base))
		if len(events) > 0 {
			s.logger.Debug("events extracted", "url", page.URL, "strategy", st.name, "count", len(events))
			return events, nil
		}
	}
	return []domain.ScrapedEvent{}, nil
}

// jsonLDEvents reads schema.org Event objects from ld+json script blocks.
func (s *Scraper) jsonLDEvents(doc *goquery.Document, base *url.URL) []domain.ScrapedEvent {
	var out []domain.ScrapedEvent
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sc *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(sc.Text()), &data); err != nil {
			s.logger.Debug("invalid json-ld block", "url", base.String(), "error", err)
			return
		}
		walkJSONLD(data, func(obj map[string]any) {
			out = append(out, domain.ScrapedEvent{
				Title:       cleanText(stringField(obj["name"])),
				Description: htmlText(stringField(obj["description"])),
				Date:        dateOnly(stringField(obj["startDate"])),
				Link:        absoluteLink(base, stringField(obj["url"])),
			})
		})
	})
	return out
}

// walkJSONLD calls fn for every Event object in v, descending into arrays
// and @graph containers.
func walkJSONLD(v any, fn func(map[string]any)) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkJSONLD(item, fn)
		}
	case map[string]any:
		if isEventType(t["@type"]) {
			fn(t)
			return
		}
		if g, ok := t["@graph"]; ok {
			walkJSONLD(g, fn)
		}
	}
}

// isEventType accepts "Event" and its schema.org subtypes such as
// "EducationEvent", given as a string or a list.
func isEventType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.HasSuffix(t, "Event")
	case []any:
		for _, item := range t {
			if isEventType(item) {
				return true
			}
		}
	}
	return false
}

// stringField reads a JSON-LD value that may be a string, a list of strings,
// or an object with an @id or url.
func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return stringField(t[0])
		}
	case map[string]any:
		if id, ok := t["@id"].(string); ok {
			return id
		}
		if u, ok := t["url"].(string); ok {
			return u
		}
	}
	return ""
}

func microdataEvents(doc *goquery.Document, base *url.URL) []domain.ScrapedEvent {
	var out []domain.ScrapedEvent
	doc.Find(microdataSelector).Each(func(_ int, item *goquery.Selection) {
		out = append(out, domain.ScrapedEvent{
			Title:       cleanText(item.Find(`[itemprop="name"]`).First().Text()),
			Description: cleanText(item.Find(`[itemprop="description"]`).First().Text()),
			Date:        dateOnly(itempropValue(item.Find(`[itemprop="startDate"]`).First())),
			Link:        absoluteLink(base, microdataLink(item)),
		})
	})
	return out
}

// itempropValue prefers machine-readable attributes over visible text.
func itempropValue(sel *goquery.Selection) string {
	for _, attr := range []string{"content", "datetime"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return sel.Text()
}

func microdataLink(item *goquery.Selection) string {
	u := item.Find(`[itemprop="url"]`).First()
	if href, ok := u.Attr("href"); ok {
		return href
	}
	if c, ok := u.Attr("content"); ok {
		return c
	}
	href, _ := item.Find("a[href]").First().Attr("href")
	return href
}

func markupEvents(doc *goquery.Document, base *url.URL) []domain.ScrapedEvent {
	var out []domain.ScrapedEvent
	doc.Find(markupSelector).Each(func(_ int, el *goquery.Selection) {
		heading := el.Find("h1, h2, h3, h4, .event-title, .title").First()
		title := cleanText(heading.Text())
		if title == "" {
			title = cleanText(el.Find("a").First().Text())
		}

		link, ok := heading.Find("a[href]").First().Attr("href")
		if !ok {
			link, _ = el.Find("a[href]").First().Attr("href")
		}

		out = append(out, domain.ScrapedEvent{
			Title:       title,
			Description: cleanText(el.Find(".description, .event-description, .summary, p").First().Text()),
			Date:        dateOnly(markupDate(el)),
			Link:        absoluteLink(base, link),
		})
	})
	return out
}

func markupDate(el *goquery.Selection) string {
	if t := el.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			return dt
		}
		return t.Text()
	}
	return el.Find(".date, .event-date, .event-time").First().Text()
}

// dedupe drops untitled events and repeats of (title, date, link), keeping
// first occurrences in order.
func dedupe(events []domain.ScrapedEvent) []domain.ScrapedEvent {
	seen := make(map[domain.ScrapedEvent]bool, len(events))
	out := make([]domain.ScrapedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Title == "" {
			continue
		}
		key := domain.ScrapedEvent{Title: ev.Title, Date: ev.Date, Link: ev.Link}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ev)
	}
	return out
}

// dateOnly cuts ISO timestamps to their date; other text is kept as written
// for the date normalizer.
func dateOnly(s string) string {
	s = cleanText(s)
	if m := isoDateTimeRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// htmlText strips markup that some sites embed in JSON-LD descriptions.
func htmlText(s string) string {
	if !strings.Contains(s, "<") {
		return cleanText(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return cleanText(s)
	}
	return cleanText(doc.Text())
}

func absoluteLink(base *url.URL, href string) string {
	u, ok := resolveLink(base, href)
	if !ok {
		return ""
	}
	return u.String()
}

// resolveLink makes href absolute against base. Fragments, mailto, tel and
// javascript links are rejected.
func resolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment, abs.RawFragment = "", ""
	return abs, true
}
