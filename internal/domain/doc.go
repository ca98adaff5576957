// Package domain models public-library event data and the rules that turn a
// raw scrape log into a calendar and a map.
//
// # Data Source
//
// Events are scraped from each library's website by the ingestion pipeline
// and appended to a CSV event log, one row per library capture:
//
//	timestamp, library_name, library_url, library_address, event_data
//
// event_data is a JSON list of {event_title, event_description, event_date,
// event_link}. Every field is free text exactly as found on the page. Rows
// are never rewritten; the log is re-read and re-aggregated on every request.
//
// # Date Conventions
//
// Library sites write dates many ways. [DateNormalizer] runs a fixed chain of
// cleanup stages and then tries an ordered list of layouts:
//
//	"February 21st, 2025"           ordinal suffix stripped   -> 2025-02-21
//	"Monday, March 3, 2025"         weekday prefix dropped    -> 2025-03-03
//	"Monday, March 3, 6:00pm-7pm"   time clause truncated     -> <year>-03-03
//	"March 3"                       default year appended     -> <year>-03-03
//	"03/04/2025"                    month-first wins          -> 2025-03-04
//	"13/04/2025"                    only day-first parses     -> 2025-04-13
//
// Dates that match no layout are "undated": they stay on the calendar under a
// placeholder start date with a grey, ongoing-event style.
//
// # Recurring Events
//
// An event is recurring when another log row has the same title and library
// url. The flag is symmetric: every member of such a group is recurring.
//
// # Locations
//
// Map pins group rows by the exact (url, name, address) triple. Each group is
// geocoded once by [AddressLocator]; groups that cannot be located are left
// off the map while their events stay on the calendar.
package domain
