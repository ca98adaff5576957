package domain

import "time"

// LibraryRecord is one usable roster row. Name is the identity key.
type LibraryRecord struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Address string `json:"address"`
}

// ScrapedEvent is a single event as extracted from a library calendar page.
// The JSON names match the event_data column of the event log.
type ScrapedEvent struct {
	Title       string `json:"event_title"`
	Description string `json:"event_description"`
	Date        string `json:"event_date"` // free text, normalized on read
	Link        string `json:"event_link"`
}

// CaptureBatch is everything captured for one library in one ingestion step.
// It is written as a single event log row and published as a single message.
type CaptureBatch struct {
	CapturedAt  time.Time      `json:"captured_at"`
	Library     LibraryRecord  `json:"library"`
	CalendarURL string         `json:"calendar_url,omitempty"`
	Events      []ScrapedEvent `json:"events"`
}

// RawEvent is one event row as read back from the event log, flattened with
// the library it belongs to. Raw events are never modified after capture.
type RawEvent struct {
	LibraryName    string
	LibraryURL     string
	LibraryAddress string
	Title          string
	Description    string
	Date           string
	Link           string
	CapturedAt     time.Time
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DisplayStyle carries the calendar colours for one event.
type DisplayStyle struct {
	Background string
	Border     string
	ClassNames []string
}

// CalendarEvent is the normalized, display-ready form of a RawEvent.
// Field names follow the calendar widget's event object.
type CalendarEvent struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	URL             *string  `json:"url"`
	Start           string   `json:"start"`
	Recurring       bool     `json:"is_recurring"`
	Undated         bool     `json:"undated"`
	BackgroundColor string   `json:"backgroundColor"`
	BorderColor     string   `json:"borderColor"`
	ClassNames      []string `json:"classNames,omitempty"`
}

// UpcomingEvent is the short preview of an event shown on a map pin.
type UpcomingEvent struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// LibraryLocation is one map pin: a distinct (url, name, address) group.
type LibraryLocation struct {
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Coordinates    [2]float64      `json:"coordinates"` // [lat, lon]
	EventCount     int             `json:"event_count"`
	URL            string          `json:"url"`
	UpcomingEvents []UpcomingEvent `json:"upcoming_events"`
}

// Dashboard is the full payload served to the calendar and map views.
type Dashboard struct {
	CalendarEvents []CalendarEvent   `json:"calendar_events"`
	MapEvents      []LibraryLocation `json:"map_events"`
}
