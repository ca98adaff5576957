package http

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

const (
	icsProductID = "-//library-events//Library Events Dashboard//EN"
	icsName      = "Library Events"
	uidDomain    = "library-events"
)

// buildICS renders dated calendar events as all-day iCalendar events.
// Undated events are left out: their start is a placeholder, not a date.
func buildICS(events []domain.CalendarEvent, stamp time.Time) (string, error) {
	cal := ics.NewCalendar()
	cal.SetProductId(icsProductID)
	cal.SetMethod(ics.MethodPublish)
	cal.SetName(icsName)
	cal.SetXWRCalName(icsName)

	seen := make(map[string]int)
	for _, ev := range events {
		if ev.Undated {
			continue
		}
		day, err := time.Parse(domain.ISODateLayout, ev.Start)
		if err != nil {
			return "", fmt.Errorf("event %q start %q: %w", ev.Title, ev.Start, err)
		}

		uid := eventUID(ev)
		seen[uid]++
		if n := seen[uid]; n > 1 {
			uid = fmt.Sprintf("%s-%d", uid, n)
		}

		vevent := cal.AddEvent(uid + "@" + uidDomain)
		vevent.SetDtStampTime(stamp)
		vevent.SetAllDayStartAt(day)
		vevent.SetAllDayEndAt(day.AddDate(0, 0, 1))
		vevent.SetSummary(ev.Title)
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if ev.URL != nil {
			vevent.SetURL(*ev.URL)
		}
		if ev.Recurring {
			vevent.AddCategory("Recurring")
		}
	}
	return cal.Serialize(), nil
}

// eventUID derives a UID that stays the same across rebuilds of the same log.
func eventUID(ev domain.CalendarEvent) string {
	h := sha256.New()
	link := ""
	if ev.URL != nil {
		link = *ev.URL
	}
	for _, part := range []string{ev.Start, ev.Title, ev.Description, link} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:20]
}
