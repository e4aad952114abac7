// Package model holds the shared domain types for the CMS quality pipeline.
package model

import "time"

// ExtractStatus represents the lifecycle state of a monthly extract.
type ExtractStatus string

const (
	ExtractPending   ExtractStatus = "pending"
	ExtractImporting ExtractStatus = "importing"
	ExtractCompleted ExtractStatus = "completed"
	ExtractFailed    ExtractStatus = "failed"
)

// Valid reports whether s is one of the known extract statuses.
func (s ExtractStatus) Valid() bool {
	switch s {
	case ExtractPending, ExtractImporting, ExtractCompleted, ExtractFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s ExtractStatus) Terminal() bool {
	return s == ExtractCompleted || s == ExtractFailed
}

// Extract represents one monthly CMS dataset pull. There is at most one
// extract per period date; the period date is the idempotency key for the
// whole import pipeline.
type Extract struct {
	ID          int64         `json:"id"`
	PeriodDate  time.Time     `json:"period_date"`
	SourceFile  string        `json:"source_file,omitempty"`
	Status      ExtractStatus `json:"status"`
	RecordCount *int64        `json:"record_count,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ImportRun is one attempt at importing a file for an extract. Extracts are
// the idempotency record; import runs are the audit trail of attempts,
// including retries after failure.
type ImportRun struct {
	ID          string     `json:"id"`
	ExtractID   int64      `json:"extract_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RowsWritten int64      `json:"rows_written"`
	Error       string     `json:"error,omitempty"`
}

// Import run statuses.
const (
	ImportRunRunning   = "running"
	ImportRunCompleted = "completed"
	ImportRunFailed    = "failed"
)
