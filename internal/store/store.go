// Package store persists extracts, provider snapshots, and provider events.
// Two backends implement the same interface: Postgres (pgx) for production
// and SQLite (modernc.org/sqlite) for local use and tests. Both apply the
// same field-level merge policy on snapshot re-import and the same
// duplicate-suppressed event inserts.
package store

import (
	"context"
	"time"

	"github.com/sells-group/quality-cli/internal/model"
)

// SnapshotVolatileColumns are the only snapshot columns refreshed when a
// re-import hits an existing (extract_id, ccn) row. Everything else keeps
// its originally-inserted value: a re-import may fix superficial labels but
// must not rewrite historical measurements.
var SnapshotVolatileColumns = []string{"provider_name", "overall_rating", "ownership_type"}

// snapshotColumns is the full insert column list for provider_snapshots,
// shared by both backends so the row layout cannot drift between them.
var snapshotColumns = []string{
	"extract_id", "ccn", "state",
	"provider_name", "address", "city", "zip_code",
	"ownership_type",
	"overall_rating", "health_inspection_rating", "qm_rating", "staffing_rating",
	"certified_beds", "average_residents", "occupancy_pct",
	"abuse_icon", "special_focus_status", "ccrc_flag", "processing_date",
}

// snapshotRow flattens a snapshot into positional args matching
// snapshotColumns. Optional text fields become NULL when empty; date columns
// go through dateConv because the two backends render dates differently.
func snapshotRow(s *model.ProviderSnapshot, dateConv func(*time.Time) any) []any {
	return []any{
		s.ExtractID, s.CCN, s.State,
		nullStr(s.ProviderName), nullStr(s.Address), nullStr(s.City), nullStr(s.ZipCode),
		nullStr(s.OwnershipType),
		s.OverallRating, s.HealthInspectionRating, s.QMRating, s.StaffingRating,
		s.CertifiedBeds, s.AverageResidents, s.OccupancyPct,
		s.AbuseIcon, nullStr(s.SpecialFocusStatus), s.CCRCFlag, dateConv(s.ProcessingDate),
	}
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// DiffJoin selects the set-algebra shape of a change detector.
type DiffJoin string

const (
	// DiffChanged inner-joins the two snapshot partitions and emits one event
	// per provider whose compare column differs, excluding rows where either
	// side is NULL.
	DiffChanged DiffJoin = "changed"
	// DiffAdded anti-joins current against previous: providers present now
	// but absent before.
	DiffAdded DiffJoin = "added"
	// DiffRemoved is the mirror anti-join: present before, absent now.
	DiffRemoved DiffJoin = "removed"
)

// DiffSpec parameterizes one change detector. Adding a new event kind means
// adding a spec, not a new query.
type DiffSpec struct {
	EventType     model.EventType
	Join          DiffJoin
	CompareColumn string // required for DiffChanged; must be in diffColumns
	Numeric       bool   // emit change_magnitude = current - previous
	LabelColumn   string // descriptive value for presence events; defaults to provider_name
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	EventType model.EventType
	Limit     int
}

// StateCount is one row of the top-states summary aggregation.
type StateCount struct {
	State     string `json:"state"`
	Providers int64  `json:"providers"`
}

// Store defines the persistence interface for the quality pipeline.
type Store interface {
	// Extract lifecycle
	GetOrCreateExtract(ctx context.Context, periodDate time.Time, sourceFile string) (*model.Extract, error)
	GetExtract(ctx context.Context, id int64) (*model.Extract, error)
	SetExtractStatus(ctx context.Context, id int64, status model.ExtractStatus, recordCount *int64) error
	ListExtracts(ctx context.Context) ([]model.Extract, error)

	// Import run audit trail
	StartImportRun(ctx context.Context, extractID int64) (string, error)
	CompleteImportRun(ctx context.Context, runID string, rowsWritten int64) error
	FailImportRun(ctx context.Context, runID string, errMsg string) error
	ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error)

	// Snapshots
	UpsertSnapshots(ctx context.Context, batch []model.ProviderSnapshot) (int64, error)
	CountSnapshots(ctx context.Context, extractID int64) (int64, error)

	// Events
	InsertChangeEvents(ctx context.Context, spec DiffSpec, currentID, previousID int64, eventDate time.Time) (int64, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]model.ProviderEvent, error)

	// Summary aggregations
	CountExtractsByStatus(ctx context.Context) (map[model.ExtractStatus]int64, error)
	LatestCompletedExtract(ctx context.Context) (*model.Extract, error)
	CountEventsByType(ctx context.Context) (map[model.EventType]int64, error)
	TopStates(ctx context.Context, extractID int64, limit int) ([]StateCount, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
