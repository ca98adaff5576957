// Package pipeline runs library ingestion and builds the dashboard payload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/library-events-service/internal/domain"
	"github.com/couchcryptid/library-events-service/internal/observability"
)

// ErrRunInProgress is returned when an ingestion run is requested while
// another is still active.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Per-library outcomes, used as the metrics label and in the run summary.
const (
	OutcomeDone       = "done"
	OutcomeEmpty      = "empty"
	OutcomeNoCalendar = "no_calendar"
	OutcomeFailed     = "failed"
)

// Work item details recorded by the ingestor.
const (
	DetailNoCalendar = "no calendar page"
	DetailNoEvents   = "no events found"
	DetailRecovered  = "recovered after interrupted run"
)

// WorkQueue is the durable per-library ingestion state.
type WorkQueue interface {
	Enqueue(ctx context.Context, libs []domain.LibraryRecord) (int, error)
	ListByStatus(ctx context.Context, status domain.WorkStatus) ([]domain.WorkItem, error)
	MarkInProgress(ctx context.Context, library, runID string, capturedAt time.Time) error
	MarkDone(ctx context.Context, library string, eventCount int, detail string) error
	MarkFailed(ctx context.Context, library, detail string) error
	Reset(ctx context.Context, library string) error
	RetryFailed(ctx context.Context) (int, error)
	StartCycle(ctx context.Context) (int, error)
}

// CaptureLog is the append-only event log.
type CaptureLog interface {
	Append(batch domain.CaptureBatch) error
	Contains(ctx context.Context, library string, capturedAt time.Time) (events int, found bool, err error)
}

// RosterSource provides the libraries to ingest.
type RosterSource interface {
	Libraries() ([]domain.LibraryRecord, error)
}

// CalendarScraper discovers a library's calendar page and lists its events.
type CalendarScraper interface {
	FindCalendarURL(ctx context.Context, siteURL string) (string, error)
	ListEvents(ctx context.Context, calendarURL string) ([]domain.ScrapedEvent, error)
}

// BatchPublisher forwards a logged capture to downstream consumers.
type BatchPublisher interface {
	Publish(ctx context.Context, batch domain.CaptureBatch) error
}

// CalendarOverrides pins calendar URLs for libraries whose homepage does not
// link to one.
type CalendarOverrides interface {
	Lookup(library string) (string, bool)
}

// RunOptions tunes a single ingestion run.
type RunOptions struct {
	// RetryFailed moves failed libraries back to pending before the run.
	RetryFailed bool
}

// RunSummary reports what one ingestion run did.
type RunSummary struct {
	RunID      string
	Recovered  int // interrupted libraries found in the log and marked done
	Requeued   int // interrupted libraries not found in the log, back to pending
	Cycled     int // finished libraries moved back to pending for a new pass
	Enqueued   int
	Retried    int
	Processed  int
	Done       int
	Empty      int
	NoCalendar int
	Failed     int
	Events     int
	Duration   time.Duration
}

// Ingestor scrapes every pending library once, serially, recording each
// result in the work queue and the event log.
type Ingestor struct {
	queue     WorkQueue
	log       CaptureLog
	roster    RosterSource
	scraper   CalendarScraper
	publisher BatchPublisher
	overrides CalendarOverrides
	logger    *slog.Logger
	metrics   *observability.Metrics
	mu        sync.Mutex
}

// IngestorOption configures optional Ingestor collaborators.
type IngestorOption func(*Ingestor)

// WithPublisher publishes every logged capture.
func WithPublisher(p BatchPublisher) IngestorOption {
	return func(i *Ingestor) { i.publisher = p }
}

// WithCalendarOverrides consults o before calendar discovery.
func WithCalendarOverrides(o CalendarOverrides) IngestorOption {
	return func(i *Ingestor) { i.overrides = o }
}

// NewIngestor creates an Ingestor.
func NewIngestor(q WorkQueue, l CaptureLog, r RosterSource, s CalendarScraper, logger *slog.Logger, metrics *observability.Metrics, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		queue:   q,
		log:     l,
		roster:  r,
		scraper: s,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run executes one ingestion run. Runs never overlap: a second caller gets
// ErrRunInProgress. A failing library is recorded and the run continues;
// only queue, roster and cancellation errors end the run early.
func (i *Ingestor) Run(ctx context.Context, opts RunOptions) (RunSummary, error) {
	if !i.mu.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer i.mu.Unlock()

	start := time.Now()
	i.metrics.IngestRunning.Set(1)
	defer i.metrics.IngestRunning.Set(0)

	sum := RunSummary{RunID: uuid.NewString()}
	logger := i.logger.With("run_id", sum.RunID)
	logger.Info("ingestion run started", "retry_failed", opts.RetryFailed)

	err := i.run(ctx, logger, opts, &sum)
	sum.Duration = time.Since(start)
	i.metrics.IngestRunDuration.Observe(sum.Duration.Seconds())

	attrs := []any{
		"processed", sum.Processed,
		"done", sum.Done,
		"empty", sum.Empty,
		"no_calendar", sum.NoCalendar,
		"failed", sum.Failed,
		"events", sum.Events,
		"duration", sum.Duration,
	}
	if err != nil {
		logger.Error("ingestion run stopped", append(attrs, "error", err)...)
		return sum, err
	}
	logger.Info("ingestion run finished", attrs...)
	return sum, nil
}

func (i *Ingestor) run(ctx context.Context, logger *slog.Logger, opts RunOptions, sum *RunSummary) error {
	if err := i.recoverInterrupted(ctx, logger, sum); err != nil {
		return err
	}

	libs, err := i.roster.Libraries()
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	if opts.RetryFailed {
		if sum.Retried, err = i.queue.RetryFailed(ctx); err != nil {
			return err
		}
	}
	// A finished pass starts over so later runs pick up new events.
	if sum.Cycled, err = i.queue.StartCycle(ctx); err != nil {
		return err
	}
	if sum.Enqueued, err = i.queue.Enqueue(ctx, libs); err != nil {
		return err
	}

	pending, err := i.queue.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return err
	}
	logger.Info("libraries pending",
		"count", len(pending),
		"enqueued", sum.Enqueued,
		"retried", sum.Retried,
		"cycled", sum.Cycled,
	)

	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, events, err := i.processLibrary(ctx, logger, sum.RunID, item.Library)
		if err != nil {
			return err
		}
		sum.Processed++
		sum.Events += events
		switch outcome {
		case OutcomeDone:
			sum.Done++
		case OutcomeEmpty:
			sum.Empty++
		case OutcomeNoCalendar:
			sum.NoCalendar++
		case OutcomeFailed:
			sum.Failed++
		}
	}
	return nil
}

// recoverInterrupted settles libraries left in_progress by an interrupted run. A library
// whose capture row reached the log is done; any other goes back to pending.
func (i *Ingestor) recoverInterrupted(ctx context.Context, logger *slog.Logger, sum *RunSummary) error {
	stale, err := i.queue.ListByStatus(ctx, domain.StatusInProgress)
	if err != nil {
		return err
	}
	for _, item := range stale {
		var (
			events int
			logged bool
		)
		if !item.CapturedAt.IsZero() {
			if events, logged, err = i.log.Contains(ctx, item.Library.Name, item.CapturedAt); err != nil {
				return fmt.Errorf("check event log for %q: %w", item.Library.Name, err)
			}
		}
		if logged {
			if err := i.queue.MarkDone(ctx, item.Library.Name, events, DetailRecovered); err != nil {
				return err
			}
			sum.Recovered++
		} else {
			if err := i.queue.Reset(ctx, item.Library.Name); err != nil {
				return err
			}
			sum.Requeued++
		}
		logger.Warn("interrupted library recovered",
			"library", item.Library.Name,
			"previous_run_id", item.RunID,
			"logged", logged,
			"events", events,
		)
	}
	return nil
}

// processLibrary scrapes one library. Scraper and log failures mark the
// library failed and are not returned; the error result is reserved for
// queue failures and cancellation, which stop the run.
func (i *Ingestor) processLibrary(ctx context.Context, logger *slog.Logger, runID string, lib domain.LibraryRecord) (string, int, error) {
	capturedAt := domain.Now().UTC()
	if err := i.queue.MarkInProgress(ctx, lib.Name, runID, capturedAt); err != nil {
		return "", 0, err
	}
	logger = logger.With("library", lib.Name)

	start := time.Now()
	calendarURL, err := i.calendarURL(ctx, lib)
	if err != nil {
		return i.fail(ctx, logger, lib, fmt.Errorf("find calendar: %w", err))
	}
	if calendarURL == "" {
		i.metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
		logger.Info("no calendar page found", "url", lib.URL)
		return i.finish(ctx, lib, OutcomeNoCalendar, 0, DetailNoCalendar)
	}

	events, err := i.scraper.ListEvents(ctx, calendarURL)
	if err != nil {
		return i.fail(ctx, logger, lib, fmt.Errorf("list events at %s: %w", calendarURL, err))
	}
	i.metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
	if len(events) == 0 {
		logger.Info("calendar has no events", "calendar_url", calendarURL)
		return i.finish(ctx, lib, OutcomeEmpty, 0, DetailNoEvents)
	}

	batch := domain.CaptureBatch{
		CapturedAt:  capturedAt,
		Library:     lib,
		CalendarURL: calendarURL,
		Events:      events,
	}
	if err := i.log.Append(batch); err != nil {
		return i.fail(ctx, logger, lib, fmt.Errorf("append event log: %w", err))
	}
	i.metrics.EventsCaptured.Add(float64(len(events)))

	// The log is authoritative; a publish failure does not fail the library.
	if i.publisher != nil {
		if err := i.publisher.Publish(ctx, batch); err != nil {
			logger.Warn("publish capture failed", "error", err)
		}
	}

	logger.Info("library captured", "calendar_url", calendarURL, "events", len(events))
	return i.finish(ctx, lib, OutcomeDone, len(events), "")
}

func (i *Ingestor) calendarURL(ctx context.Context, lib domain.LibraryRecord) (string, error) {
	if i.overrides != nil {
		if u, ok := i.overrides.Lookup(lib.Name); ok {
			return u, nil
		}
	}
	return i.scraper.FindCalendarURL(ctx, lib.URL)
}

func (i *Ingestor) finish(ctx context.Context, lib domain.LibraryRecord, outcome string, events int, detail string) (string, int, error) {
	if err := i.queue.MarkDone(ctx, lib.Name, events, detail); err != nil {
		return "", 0, err
	}
	i.metrics.LibrariesProcessed.WithLabelValues(outcome).Inc()
	return outcome, events, nil
}

// fail records cause against lib. When the run itself was cancelled the
// library goes back to pending instead, so the next run retries it.
func (i *Ingestor) fail(ctx context.Context, logger *slog.Logger, lib domain.LibraryRecord, cause error) (string, int, error) {
	if ctx.Err() != nil {
		if err := i.queue.Reset(context.WithoutCancel(ctx), lib.Name); err != nil {
			return "", 0, err
		}
		return "", 0, ctx.Err()
	}
	logger.Warn("library failed", "error", cause)
	if err := i.queue.MarkFailed(ctx, lib.Name, cause.Error()); err != nil {
		return "", 0, err
	}
	i.metrics.LibrariesProcessed.WithLabelValues(OutcomeFailed).Inc()
	return OutcomeFailed, 0, nil
}
