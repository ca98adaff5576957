// Package csvfile reads the library roster and reads and appends the
// event log, both stored as CSV files.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

// Roster column positions. The state library export has no usable header,
// so columns are addressed by index.
const (
	colName    = 0
	colStreet  = 13
	colCity    = 14
	colZIP     = 15
	colWebsite = 19

	minRosterColumns = colWebsite + 1
)

// RosterStats counts how roster rows were handled.
type RosterStats struct {
	Rows      int
	Loaded    int
	Short     int // fewer than 20 columns
	NoWebsite int // website does not start with "http"
	NoAddress int // neither street nor city
	Duplicate int // name already loaded
}

// Skipped is the number of rows that did not produce a record.
func (s RosterStats) Skipped() int { return s.Rows - s.Loaded }

// RosterLoader turns a state library roster export into LibraryRecords.
type RosterLoader struct {
	state  string
	logger *slog.Logger
}

// NewRosterLoader creates a loader that formats addresses for state, e.g. "CA".
func NewRosterLoader(state string, logger *slog.Logger) *RosterLoader {
	return &RosterLoader{state: state, logger: logger}
}

// LoadFile reads the roster at path.
func (l *RosterLoader) LoadFile(path string) ([]domain.LibraryRecord, RosterStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, RosterStats{}, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	records, stats, err := l.Load(f)
	if err != nil {
		return nil, stats, fmt.Errorf("read roster %s: %w", path, err)
	}
	return records, stats, nil
}

// Load parses roster rows from r in file order. Rows that cannot describe a
// library are skipped and counted; duplicates by name keep the first row.
func (l *RosterLoader) Load(r io.Reader) ([]domain.LibraryRecord, RosterStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var (
		records []domain.LibraryRecord
		stats   RosterStats
		seen    = make(map[string]bool)
	)
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Rows++

		rec, reason := l.parseRow(row)
		switch reason {
		case "":
		case "short":
			stats.Short++
			l.logger.Debug("roster row skipped", "line", line, "reason", "too few columns", "columns", len(row))
			continue
		case "website":
			stats.NoWebsite++
			l.logger.Debug("roster row skipped", "line", line, "reason", "no website")
			continue
		case "address":
			stats.NoAddress++
			l.logger.Warn("roster row skipped", "line", line, "library", rec.Name, "reason", "no street or city")
			continue
		}

		if seen[rec.Name] {
			stats.Duplicate++
			l.logger.Debug("roster row skipped", "line", line, "library", rec.Name, "reason", "duplicate name")
			continue
		}
		seen[rec.Name] = true
		records = append(records, rec)
	}
	stats.Loaded = len(records)
	return records, stats, nil
}

// parseRow returns the record for row, or a non-empty skip reason.
func (l *RosterLoader) parseRow(row []string) (domain.LibraryRecord, string) {
	if len(row) < minRosterColumns {
		return domain.LibraryRecord{}, "short"
	}
	field := func(i int) string {
		return strings.TrimSpace(strings.TrimPrefix(row[i], "\ufeff"))
	}

	rec := domain.LibraryRecord{Name: field(colName), URL: field(colWebsite)}
	if !strings.HasPrefix(rec.URL, "http") {
		return rec, "website"
	}
	street, city := field(colStreet), field(colCity)
	if street == "" && city == "" {
		return rec, "address"
	}
	rec.Address = FormatAddress(street, city, l.state, field(colZIP))
	return rec, ""
}

// FormatAddress renders "<street>, <city>, <state> <zip>".
func FormatAddress(street, city, state, zip string) string {
	return strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s", street, city, state, zip))
}

// RosterFile is a roster export on disk.
type RosterFile struct {
	path   string
	loader *RosterLoader
}

// File binds the loader to the roster at path.
func (l *RosterLoader) File(path string) *RosterFile {
	return &RosterFile{path: path, loader: l}
}

// Libraries loads the roster, logging how many rows were skipped.
func (f *RosterFile) Libraries() ([]domain.LibraryRecord, error) {
	records, stats, err := f.loader.LoadFile(f.path)
	if err != nil {
		return nil, err
	}
	f.loader.logger.Info("roster loaded",
		"path", f.path,
		"rows", stats.Rows,
		"libraries", stats.Loaded,
		"skipped", stats.Skipped(),
	)
	return records, nil
}
