// Package sqlite stores the ingestion work queue in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/library-events-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = time.RFC3339Nano

// ErrUnknownLibrary is returned when a transition names a library that was
// never enqueued.
var ErrUnknownLibrary = errors.New("library not in work queue")

// Queue is the durable per-library ingestion state. Every library carries
// its own status, so an interrupted run resumes where it stopped.
type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at path and applies the schema.
// Use ":memory:" for a throwaway queue.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect queue database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// CheckReadiness reports whether the database is reachable.
func (q *Queue) CheckReadiness(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Enqueue adds libraries not yet known by name as pending, after every
// existing item, in the given order. It returns how many were added.
func (q *Queue) Enqueue(ctx context.Context, libs []domain.LibraryRecord) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM work_items`).Scan(&next); err != nil {
		return 0, fmt.Errorf("read next position: %w", err)
	}

	now := domain.Now().UTC().Format(timeLayout)
	added := 0
	for _, lib := range libs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO work_items (library_name, library_url, library_address, position, status, updated_at)
			VALUES (?, ?, ?, ?, 'pending', ?)
			ON CONFLICT (library_name) DO NOTHING`,
			lib.Name, lib.URL, lib.Address, next, now)
		if err != nil {
			return 0, fmt.Errorf("enqueue %q: %w", lib.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
			next++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return added, nil
}

// List returns every item in roster order.
func (q *Queue) List(ctx context.Context) ([]domain.WorkItem, error) {
	return q.query(ctx, `ORDER BY position`)
}

// ListByStatus returns the items in status, in roster order.
func (q *Queue) ListByStatus(ctx context.Context, status domain.WorkStatus) ([]domain.WorkItem, error) {
	return q.query(ctx, `WHERE status = ? ORDER BY position`, string(status))
}

// Get returns the item for library.
func (q *Queue) Get(ctx context.Context, library string) (domain.WorkItem, error) {
	items, err := q.query(ctx, `WHERE library_name = ?`, library)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if len(items) == 0 {
		return domain.WorkItem{}, fmt.Errorf("%w: %q", ErrUnknownLibrary, library)
	}
	return items[0], nil
}

// Counts returns the number of items per status. Every status is present.
func (q *Queue) Counts(ctx context.Context) (map[domain.WorkStatus]int, error) {
	counts := make(map[domain.WorkStatus]int, len(domain.WorkStatuses))
	for _, s := range domain.WorkStatuses {
		counts[s] = 0
	}

	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count work items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.WorkStatus(status)] = n
	}
	return counts, rows.Err()
}

// MarkInProgress claims library for runID at capturedAt.
func (q *Queue) MarkInProgress(ctx context.Context, library, runID string, capturedAt time.Time) error {
	return q.update(ctx, library, `
		UPDATE work_items
		SET status = 'in_progress', run_id = ?, captured_at = ?, event_count = 0, detail = '', updated_at = ?
		WHERE library_name = ?`,
		runID, capturedAt.UTC().Format(timeLayout), q.now(), library)
}

// MarkDone records a finished library with its event count and an optional note.
func (q *Queue) MarkDone(ctx context.Context, library string, eventCount int, detail string) error {
	return q.update(ctx, library, `
		UPDATE work_items SET status = 'done', event_count = ?, detail = ?, updated_at = ?
		WHERE library_name = ?`,
		eventCount, detail, q.now(), library)
}

// MarkFailed records a failed library with the error text.
func (q *Queue) MarkFailed(ctx context.Context, library, detail string) error {
	return q.update(ctx, library, `
		UPDATE work_items SET status = 'failed', event_count = 0, detail = ?, updated_at = ?
		WHERE library_name = ?`,
		detail, q.now(), library)
}

// Reset returns library to pending, clearing its capture.
func (q *Queue) Reset(ctx context.Context, library string) error {
	return q.update(ctx, library, `
		UPDATE work_items SET status = 'pending', captured_at = '', event_count = 0, detail = '', updated_at = ?
		WHERE library_name = ?`,
		q.now(), library)
}

// RetryFailed moves every failed item back to pending and returns how many moved.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE work_items SET status = 'pending', captured_at = '', detail = '', updated_at = ?
		WHERE status = 'failed'`, q.now())
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return int(n), nil
}

// StartCycle begins a new pass over the roster once the previous one has
// finished: when no item is pending or in progress, every done and failed
// item goes back to pending. It returns how many moved.
func (q *Queue) StartCycle(ctx context.Context) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cycle: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var open int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_items WHERE status IN ('pending', 'in_progress')`).Scan(&open); err != nil {
		return 0, fmt.Errorf("count open items: %w", err)
	}
	if open > 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE work_items SET status = 'pending', captured_at = '', event_count = 0, detail = '', updated_at = ?
		WHERE status IN ('done', 'failed')`, q.now())
	if err != nil {
		return 0, fmt.Errorf("start cycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("start cycle: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cycle: %w", err)
	}
	return int(n), nil
}

func (q *Queue) now() string {
	return domain.Now().UTC().Format(timeLayout)
}

func (q *Queue) update(ctx context.Context, library, stmt string, args ...any) error {
	res, err := q.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update %q: %w", library, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %q: %w", library, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownLibrary, library)
	}
	return nil
}

func (q *Queue) query(ctx context.Context, where string, args ...any) ([]domain.WorkItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT library_name, library_url, library_address, position, status,
		       run_id, captured_at, event_count, detail, updated_at
		FROM work_items `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query work items: %w", err)
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		var (
			it                    domain.WorkItem
			status                string
			capturedAt, updatedAt string
		)
		if err := rows.Scan(&it.Library.Name, &it.Library.URL, &it.Library.Address, &it.Position, &status,
			&it.RunID, &capturedAt, &it.EventCount, &it.Detail, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		it.Status = domain.WorkStatus(status)
		if it.CapturedAt, err = parseTime(capturedAt); err != nil {
			return nil, fmt.Errorf("work item %q captured_at: %w", it.Library.Name, err)
		}
		if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("work item %q updated_at: %w", it.Library.Name, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// parseTime reads a stored timestamp; "" is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
