package domain

import "time"

// WorkStatus is the ingestion state of one library.
type WorkStatus string

const (
	StatusPending    WorkStatus = "pending"
	StatusInProgress WorkStatus = "in_progress"
	StatusDone       WorkStatus = "done"
	StatusFailed     WorkStatus = "failed"
)

// WorkStatuses lists every status in lifecycle order.
var WorkStatuses = []WorkStatus{StatusPending, StatusInProgress, StatusDone, StatusFailed}

// WorkItem is the durable ingestion record of one roster library.
type WorkItem struct {
	Library    LibraryRecord
	Position   int // roster order
	Status     WorkStatus
	RunID      string
	CapturedAt time.Time // set when the item enters in_progress
	EventCount int
	Detail     string // failure text or a note such as "no calendar page"
	UpdatedAt  time.Time
}
