package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/quality-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Date-typed columns
// are stored as "2006-01-02" text so lexicographic order matches date order;
// timestamps are stored as DATETIME and round-trip through the driver.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteDateLayout = "2006-01-02"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas apply per connection; a single shared connection keeps them in
	// force and serializes concurrent writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extracts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	period_date  TEXT NOT NULL UNIQUE,
	source_file  TEXT,
	status       TEXT NOT NULL DEFAULT 'pending',
	record_count INTEGER,
	started_at   DATETIME,
	completed_at DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS provider_snapshots (
	extract_id               INTEGER NOT NULL REFERENCES extracts(id) ON DELETE CASCADE,
	ccn                      TEXT NOT NULL,
	state                    TEXT,
	provider_name            TEXT,
	address                  TEXT,
	city                     TEXT,
	zip_code                 TEXT,
	ownership_type           TEXT,
	overall_rating           INTEGER,
	health_inspection_rating INTEGER,
	qm_rating                INTEGER,
	staffing_rating          INTEGER,
	certified_beds           INTEGER,
	average_residents        REAL,
	occupancy_pct            REAL,
	abuse_icon               BOOLEAN,
	special_focus_status     TEXT,
	ccrc_flag                BOOLEAN,
	processing_date          TEXT,
	PRIMARY KEY (extract_id, ccn)
);

CREATE INDEX IF NOT EXISTS idx_provider_snapshots_ccn ON provider_snapshots(ccn);
CREATE INDEX IF NOT EXISTS idx_provider_snapshots_state ON provider_snapshots(state);

CREATE TABLE IF NOT EXISTS provider_events (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	ccn                 TEXT NOT NULL,
	state               TEXT,
	event_type          TEXT NOT NULL,
	event_date          TEXT NOT NULL,
	previous_extract_id INTEGER NOT NULL REFERENCES extracts(id),
	current_extract_id  INTEGER NOT NULL REFERENCES extracts(id),
	previous_value      TEXT,
	new_value           TEXT,
	change_magnitude    REAL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (ccn, event_type, previous_extract_id, current_extract_id)
);

CREATE INDEX IF NOT EXISTS idx_provider_events_type_date ON provider_events(event_type, event_date);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	extract_id   INTEGER NOT NULL REFERENCES extracts(id) ON DELETE CASCADE,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	rows_written INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_import_runs_extract ON import_runs(extract_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteExtractColumns = "id, period_date, source_file, status, record_count, started_at, completed_at, created_at"

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteExtract(row scannable) (*model.Extract, error) {
	var e model.Extract
	var periodDate string
	var sourceFile sql.NullString
	var recordCount sql.NullInt64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&e.ID, &periodDate, &sourceFile, &e.Status, &recordCount, &startedAt, &completedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.PeriodDate, err = time.Parse(sqliteDateLayout, periodDate)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse period date %q", periodDate)
	}
	e.SourceFile = sourceFile.String
	if recordCount.Valid {
		e.RecordCount = &recordCount.Int64
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

func (s *SQLiteStore) GetOrCreateExtract(ctx context.Context, periodDate time.Time, sourceFile string) (*model.Extract, error) {
	date := periodDate.Format(sqliteDateLayout)
	var src any
	if sourceFile != "" {
		src = sourceFile
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO extracts (period_date, source_file, status, created_at)
		 VALUES (?, ?, 'pending', ?)
		 ON CONFLICT (period_date) DO NOTHING`,
		date, src, time.Now().UTC(),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert extract for %s", date)
	}

	ext, err := scanSQLiteExtract(s.db.QueryRowContext(ctx,
		"SELECT "+sqliteExtractColumns+" FROM extracts WHERE period_date = ?", date,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extract for %s", date)
	}
	return ext, nil
}

func (s *SQLiteStore) GetExtract(ctx context.Context, id int64) (*model.Extract, error) {
	ext, err := scanSQLiteExtract(s.db.QueryRowContext(ctx,
		"SELECT "+sqliteExtractColumns+" FROM extracts WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extract %d", id)
	}
	return ext, nil
}

func (s *SQLiteStore) SetExtractStatus(ctx context.Context, id int64, status model.ExtractStatus, recordCount *int64) error {
	if !status.Valid() {
		return eris.Errorf("sqlite: invalid extract status %q", status)
	}

	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch {
	case status == model.ExtractImporting:
		res, err = s.db.ExecContext(ctx,
			`UPDATE extracts SET status = ?, started_at = ?, completed_at = NULL WHERE id = ?`,
			string(status), now, id,
		)
	case status.Terminal():
		res, err = s.db.ExecContext(ctx,
			`UPDATE extracts SET status = ?, completed_at = ?, record_count = COALESCE(?, record_count) WHERE id = ?`,
			string(status), now, recordCount, id,
		)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE extracts SET status = ? WHERE id = ?`, string(status), id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: set extract %d status %s", id, status)
	}
	return checkRowsAffected(res, "extract", fmt.Sprint(id))
}

func (s *SQLiteStore) ListExtracts(ctx context.Context) ([]model.Extract, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteExtractColumns+" FROM extracts ORDER BY period_date DESC",
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extracts")
	}
	defer rows.Close()

	var extracts []model.Extract
	for rows.Next() {
		ext, err := scanSQLiteExtract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extract")
		}
		extracts = append(extracts, *ext)
	}
	return extracts, eris.Wrap(rows.Err(), "sqlite: list extracts iterate")
}

func (s *SQLiteStore) StartImportRun(ctx context.Context, extractID int64) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (id, extract_id, status, started_at) VALUES (?, ?, ?, ?)`,
		id, extractID, model.ImportRunRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start import run for extract %d", extractID)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteImportRun(ctx context.Context, runID string, rowsWritten int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, completed_at = ?, rows_written = ? WHERE id = ?`,
		model.ImportRunCompleted, time.Now().UTC(), rowsWritten, runID,
	)
	return eris.Wrapf(err, "sqlite: complete import run %s", runID)
}

func (s *SQLiteStore) FailImportRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		model.ImportRunFailed, time.Now().UTC(), errMsg, runID,
	)
	return eris.Wrapf(err, "sqlite: fail import run %s", runID)
}

func (s *SQLiteStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, extract_id, status, started_at, completed_at, rows_written, error
		 FROM import_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var r model.ImportRun
		var completedAt sql.NullTime
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.ExtractID, &r.Status, &r.StartedAt, &completedAt, &r.RowsWritten, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import run")
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		r.Error = errStr.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list import runs iterate")
}

// UpsertSnapshots writes one batch in a single multi-row INSERT. On
// (extract_id, ccn) conflict only the volatile descriptive columns are
// refreshed, same as the Postgres backend.
func (s *SQLiteStore) UpsertSnapshots(ctx context.Context, batch []model.ProviderSnapshot) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(snapshotColumns)), ", ") + ")"
	values := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*len(snapshotColumns))
	for i := range batch {
		values = append(values, placeholders)
		args = append(args, snapshotRow(&batch[i], func(t *time.Time) any {
			if t == nil {
				return nil
			}
			return t.Format(sqliteDateLayout)
		})...)
	}

	updates := make([]string, 0, len(SnapshotVolatileColumns))
	for _, col := range SnapshotVolatileColumns {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(
		"INSERT INTO provider_snapshots (%s) VALUES %s ON CONFLICT (extract_id, ccn) DO UPDATE SET %s",
		strings.Join(snapshotColumns, ", "),
		strings.Join(values, ", "),
		strings.Join(updates, ", "),
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert %d snapshots for extract %d", len(batch), batch[0].ExtractID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: upsert rows affected")
}

func (s *SQLiteStore) CountSnapshots(ctx context.Context, extractID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM provider_snapshots WHERE extract_id = ?`, extractID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count snapshots for extract %d", extractID)
	}
	return n, nil
}

func (s *SQLiteStore) InsertChangeEvents(ctx context.Context, spec DiffSpec, currentID, previousID int64, eventDate time.Time) (int64, error) {
	query, err := buildDiffSQL(spec, dialectSQLite)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query,
		diffArgs(spec, eventDate.Format(sqliteDateLayout), currentID, previousID)...,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert %s events for extracts %d->%d", spec.EventType, previousID, currentID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: events rows affected")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.ProviderEvent, error) {
	query := `SELECT id, ccn, state, event_type, event_date, previous_extract_id, current_extract_id,
	                 previous_value, new_value, change_magnitude, created_at
	          FROM provider_events WHERE 1=1`
	var args []any
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	query += ` ORDER BY event_date DESC, id DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.ProviderEvent
	for rows.Next() {
		var e model.ProviderEvent
		var state, prevVal, newVal sql.NullString
		var eventDate string
		var magnitude sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.CCN, &state, &e.EventType, &eventDate,
			&e.PreviousExtractID, &e.CurrentExtractID,
			&prevVal, &newVal, &magnitude, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.EventDate, err = time.Parse(sqliteDateLayout, eventDate)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse event date %q", eventDate)
		}
		e.State = state.String
		if prevVal.Valid {
			e.PreviousValue = &prevVal.String
		}
		if newVal.Valid {
			e.NewValue = &newVal.String
		}
		if magnitude.Valid {
			e.ChangeMagnitude = &magnitude.Float64
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) CountExtractsByStatus(ctx context.Context) (map[model.ExtractStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM extracts GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count extracts by status")
	}
	defer rows.Close()

	counts := make(map[model.ExtractStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extract count")
		}
		counts[model.ExtractStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count extracts iterate")
}

func (s *SQLiteStore) LatestCompletedExtract(ctx context.Context) (*model.Extract, error) {
	ext, err := scanSQLiteExtract(s.db.QueryRowContext(ctx,
		"SELECT "+sqliteExtractColumns+" FROM extracts WHERE status = 'completed' ORDER BY period_date DESC LIMIT 1",
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest completed extract")
	}
	return ext, nil
}

func (s *SQLiteStore) CountEventsByType(ctx context.Context) (map[model.EventType]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM provider_events GROUP BY event_type`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count events by type")
	}
	defer rows.Close()

	counts := make(map[model.EventType]int64)
	for rows.Next() {
		var et string
		var n int64
		if err := rows.Scan(&et, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event count")
		}
		counts[model.EventType(et)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count events iterate")
}

func (s *SQLiteStore) TopStates(ctx context.Context, extractID int64, limit int) ([]StateCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) AS providers FROM provider_snapshots
		 WHERE extract_id = ? GROUP BY state
		 ORDER BY providers DESC, state ASC LIMIT ?`,
		extractID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: top states for extract %d", extractID)
	}
	defer rows.Close()

	var out []StateCount
	for rows.Next() {
		var sc StateCount
		if err := rows.Scan(&sc.State, &sc.Providers); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top states iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
