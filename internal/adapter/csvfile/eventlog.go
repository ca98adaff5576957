package csvfile

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

// TimestampLayout is the format of the timestamp column.
const TimestampLayout = time.RFC3339Nano

// Header of the current event log schema: one row per library capture.
var eventLogHeader = []string{"timestamp", "library_name", "library_url", "library_address", "event_data"}

// Required columns of the legacy flat schema: one row per event.
var legacyColumns = []string{"library_url", "library_name", "library_address", "event_title", "event_date", "event_description", "event_link"}

// ErrUnknownSchema is returned when the log header matches neither schema.
var ErrUnknownSchema = errors.New("unrecognized event log header")

// EventLog is the append-only CSV file of captured events. Appends are
// serialized within the process.
type EventLog struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewEventLog returns an EventLog for the file at path. The file is created
// on first append.
func NewEventLog(path string, logger *slog.Logger) *EventLog {
	return &EventLog{path: path, logger: logger}
}

// Path is the log file location.
func (l *EventLog) Path() string { return l.path }

// CheckReadiness reports whether the log can be read. A log that does not
// exist yet is ready.
func (l *EventLog) CheckReadiness(_ context.Context) error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("event log unreadable: %w", err)
	}
	return f.Close()
}

// Append writes batch as a single row, creating the file with a header when
// it does not exist or is empty.
func (l *EventLog) Append(batch domain.CaptureBatch) error {
	events := batch.Events
	if events == nil {
		events = []domain.ScrapedEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat event log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(eventLogHeader); err != nil {
			f.Close()
			return fmt.Errorf("write event log header: %w", err)
		}
	}
	row := []string{
		batch.CapturedAt.UTC().Format(TimestampLayout),
		batch.Library.Name,
		batch.Library.URL,
		batch.Library.Address,
		string(data),
	}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("write event log row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush event log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync event log: %w", err)
	}
	return f.Close()
}

// ReadAll returns every event in the log in file order. A missing file is an
// empty log. Malformed rows are skipped with a warning.
func (l *EventLog) ReadAll(ctx context.Context) ([]domain.RawEvent, error) {
	var out []domain.RawEvent
	err := l.scan(ctx, func(r logRow) bool {
		out = append(out, r.events...)
		return true
	})
	return out, err
}

// Contains reports whether a capture row exists for library at capturedAt,
// and how many events it holds. Ingestion uses it to decide whether an
// interrupted library was written.
func (l *EventLog) Contains(ctx context.Context, library string, capturedAt time.Time) (events int, found bool, err error) {
	err = l.scan(ctx, func(r logRow) bool {
		if r.library == library && r.capturedAt.Equal(capturedAt) {
			events, found = len(r.events), true
			return false
		}
		return true
	})
	return events, found, err
}

// logRow is one parsed row of either schema.
type logRow struct {
	library    string
	capturedAt time.Time
	events     []domain.RawEvent
}

// scan parses the log row by row, calling fn until it returns false.
func (l *EventLog) scan(ctx context.Context, fn func(logRow) bool) error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("event log not found", "path", l.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read event log header: %w", err)
	}
	parse, err := l.rowParser(header)
	if err != nil {
		return err
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				l.logger.Warn("event log row skipped", "line", line, "error", err)
				continue
			}
			return fmt.Errorf("read event log: %w", err)
		}
		row, err := parse(rec)
		if err != nil {
			l.logger.Warn("event log row skipped", "line", line, "error", err)
			continue
		}
		if !fn(row) {
			return nil
		}
	}
}

// rowParser picks the parser matching header.
func (l *EventLog) rowParser(header []string) (func([]string) (logRow, error), error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[normalizeHeader(h)] = i
	}
	if hasColumns(idx, eventLogHeader) {
		return func(rec []string) (logRow, error) { return parseCaptureRow(idx, rec) }, nil
	}
	if hasColumns(idx, legacyColumns) {
		l.logger.Info("reading legacy flat event log", "path", l.path)
		return func(rec []string) (logRow, error) { return parseLegacyRow(idx, rec) }, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownSchema, header)
}

func parseCaptureRow(idx map[string]int, rec []string) (logRow, error) {
	get := func(col string) string { return cell(rec, idx[col]) }

	ts, err := time.Parse(TimestampLayout, get("timestamp"))
	if err != nil {
		return logRow{}, fmt.Errorf("parse timestamp: %w", err)
	}
	var scraped []domain.ScrapedEvent
	if err := json.Unmarshal([]byte(get("event_data")), &scraped); err != nil {
		return logRow{}, fmt.Errorf("decode event_data: %w", err)
	}

	row := logRow{library: get("library_name"), capturedAt: ts}
	row.events = make([]domain.RawEvent, 0, len(scraped))
	for _, ev := range scraped {
		row.events = append(row.events, domain.RawEvent{
			LibraryName:    row.library,
			LibraryURL:     get("library_url"),
			LibraryAddress: get("library_address"),
			Title:          ev.Title,
			Description:    ev.Description,
			Date:           ev.Date,
			Link:           ev.Link,
			CapturedAt:     ts,
		})
	}
	return row, nil
}

func parseLegacyRow(idx map[string]int, rec []string) (logRow, error) {
	get := func(col string) string { return cell(rec, idx[col]) }
	ev := domain.RawEvent{
		LibraryName:    get("library_name"),
		LibraryURL:     get("library_url"),
		LibraryAddress: get("library_address"),
		Title:          get("event_title"),
		Description:    get("event_description"),
		Date:           get("event_date"),
		Link:           get("event_link"),
	}
	return logRow{library: ev.LibraryName, events: []domain.RawEvent{ev}}, nil
}

// cell returns rec[i], or "" for short rows.
func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func normalizeHeader(h string) string {
	return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
}

func hasColumns(idx map[string]int, cols []string) bool {
	for _, c := range cols {
		if _, ok := idx[c]; !ok {
			return false
		}
	}
	return true
}
