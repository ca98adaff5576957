package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISODateLayout is the canonical output form of a normalized date.
const ISODateLayout = "2006-01-02"

var (
	// ordinalRe matches a day number with an English ordinal suffix: "21st" -> "21".
	ordinalRe = regexp.MustCompile(`(\d+)(?:st|nd|rd|th)`)

	// timeClauseRe matches a trailing ", 6:00pm...", ", 6 PM" or ", 18:30" clause.
	timeClauseRe = regexp.MustCompile(`(?i),\s*\d{1,2}(?::\d{2}\s*(?:am|pm)?|\s*(?:am|pm))\b.*$`)

	// weekdayRe matches a leading "Monday, " prefix and captures the rest.
	weekdayRe = regexp.MustCompile(`(?i)^(?:Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday),\s*(.+)$`)

	// monthDayRe matches a bare "March 3" with no year.
	monthDayRe = regexp.MustCompile(`^[A-Za-z]+ \d+$`)
)

// dateLayouts is tried in order and the first layout that parses wins.
// Month-first numeric layouts precede day-first ones: "03/04/2025" is March 4,
// while "13/04/2025" only parses day-first.
var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-1-2",
	"1/2/2006",
	"2/1/2006",
	"2006/1/2",
	"2-1-2006",
	"1-2-2006",
	"January 2",
	"Jan 2",
}

// placeholderYear is what time.Parse yields when a layout has no year token.
const placeholderYear = 0

// DateStage is one total cleanup step applied before layout matching.
type DateStage func(string) string

// DateNormalizer turns free-text event dates into ISO dates. The default year
// is fixed when the normalizer is built and fills in year-less dates.
type DateNormalizer struct {
	defaultYear int
	stages      []DateStage
}

// NewDateNormalizer returns a normalizer that uses defaultYear for dates
// written without a year.
func NewDateNormalizer(defaultYear int) *DateNormalizer {
	return &DateNormalizer{
		defaultYear: defaultYear,
		stages: []DateStage{
			StripOrdinals,
			TruncateTimeClause,
			StripWeekday,
			CollapseSpace,
			AppendYear(defaultYear),
		},
	}
}

// DefaultYear reports the year used for year-less dates.
func (n *DateNormalizer) DefaultYear() int { return n.defaultYear }

// Clean runs every cleanup stage and returns the string handed to the parser.
func (n *DateNormalizer) Clean(raw string) string {
	s := raw
	for _, stage := range n.stages {
		s = stage(s)
	}
	return s
}

// Normalize returns the ISO date for raw, or ok=false when raw is blank or
// matches none of the known layouts.
func (n *DateNormalizer) Normalize(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	t, ok := n.parse(n.Clean(raw))
	if !ok {
		return "", false
	}
	return t.Format(ISODateLayout), true
}

func (n *DateNormalizer) parse(cleaned string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		if t.Year() == placeholderYear {
			t = time.Date(n.defaultYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return t, true
	}
	return time.Time{}, false
}

// StripOrdinals removes ordinal suffixes from day numbers: "February 21st" -> "February 21".
func StripOrdinals(s string) string {
	return ordinalRe.ReplaceAllString(s, "$1")
}

// TruncateTimeClause drops a trailing time-of-day clause and everything after
// it: "Monday, March 3, 6:00pm-7:00pm" -> "Monday, March 3".
func TruncateTimeClause(s string) string {
	return timeClauseRe.ReplaceAllString(s, "")
}

// StripWeekday removes a leading weekday name and comma.
func StripWeekday(s string) string {
	if m := weekdayRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// CollapseSpace trims and folds internal whitespace runs to single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AppendYear returns a stage that adds ", <year>" to a bare "Month Day".
func AppendYear(year int) DateStage {
	suffix := ", " + strconv.Itoa(year)
	return func(s string) string {
		if monthDayRe.MatchString(s) {
			return s + suffix
		}
		return s
	}
}
