package store

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quality-cli/internal/db"
	"github.com/sells-group/quality-cli/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies all pending SQL migrations in lexicographic order, tracked
// in a schema_migrations table. An advisory lock serializes concurrent runs.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock(7209521)"); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock(7209521)"); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := make(map[string]bool)
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: query applied migrations")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate migrations")
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		log.Info("applying migration", zap.String("file", name))
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename) VALUES ($1)", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}

	return nil
}

const pgExtractColumns = "id, period_date, source_file, status, record_count, started_at, completed_at, created_at"

func (s *PostgresStore) scanExtract(row pgx.Row) (*model.Extract, error) {
	var e model.Extract
	var sourceFile *string
	if err := row.Scan(&e.ID, &e.PeriodDate, &sourceFile, &e.Status, &e.RecordCount, &e.StartedAt, &e.CompletedAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	if sourceFile != nil {
		e.SourceFile = *sourceFile
	}
	return &e, nil
}

// GetOrCreateExtract returns the extract for periodDate, inserting a pending
// row first if none exists. Safe under concurrent callers: the insert is
// conflict-suppressed on the unique period_date, and the subsequent select
// sees whichever row won.
func (s *PostgresStore) GetOrCreateExtract(ctx context.Context, periodDate time.Time, sourceFile string) (*model.Extract, error) {
	var src *string
	if sourceFile != "" {
		src = &sourceFile
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO extracts (period_date, source_file, status)
		 VALUES ($1, $2, 'pending')
		 ON CONFLICT (period_date) DO NOTHING`,
		periodDate, src,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert extract for %s", periodDate.Format("2006-01-02"))
	}

	ext, err := s.scanExtract(s.pool.QueryRow(ctx,
		"SELECT "+pgExtractColumns+" FROM extracts WHERE period_date = $1",
		periodDate,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extract for %s", periodDate.Format("2006-01-02"))
	}
	return ext, nil
}

func (s *PostgresStore) GetExtract(ctx context.Context, id int64) (*model.Extract, error) {
	ext, err := s.scanExtract(s.pool.QueryRow(ctx,
		"SELECT "+pgExtractColumns+" FROM extracts WHERE id = $1", id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extract %d", id)
	}
	return ext, nil
}

// SetExtractStatus transitions an extract's status. Entering importing stamps
// started_at; entering a terminal status stamps completed_at and, when
// provided, the final record count.
func (s *PostgresStore) SetExtractStatus(ctx context.Context, id int64, status model.ExtractStatus, recordCount *int64) error {
	if !status.Valid() {
		return eris.Errorf("postgres: invalid extract status %q", status)
	}

	var sql string
	args := []any{string(status), id}
	switch {
	case status == model.ExtractImporting:
		sql = `UPDATE extracts SET status = $1, started_at = now(), completed_at = NULL WHERE id = $2`
	case status.Terminal():
		sql = `UPDATE extracts SET status = $1, completed_at = now(), record_count = COALESCE($3, record_count) WHERE id = $2`
		args = append(args, recordCount)
	default:
		sql = `UPDATE extracts SET status = $1 WHERE id = $2`
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: set extract %d status %s", id, status)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: extract %d not found", id)
	}
	return nil
}

func (s *PostgresStore) ListExtracts(ctx context.Context) ([]model.Extract, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+pgExtractColumns+" FROM extracts ORDER BY period_date DESC",
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extracts")
	}
	defer rows.Close()

	var extracts []model.Extract
	for rows.Next() {
		ext, err := s.scanExtract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extract")
		}
		extracts = append(extracts, *ext)
	}
	return extracts, rows.Err()
}

func (s *PostgresStore) StartImportRun(ctx context.Context, extractID int64) (string, error) {
	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, extract_id, status, started_at)
		 VALUES ($1, $2, 'running', now())`,
		id, extractID,
	); err != nil {
		return "", eris.Wrapf(err, "postgres: start import run for extract %d", extractID)
	}
	return id, nil
}

func (s *PostgresStore) CompleteImportRun(ctx context.Context, runID string, rowsWritten int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = 'completed', completed_at = now(), rows_written = $1 WHERE id = $2`,
		rowsWritten, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete import run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailImportRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = 'failed', completed_at = now(), error = $1 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail import run %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, extract_id, status, started_at, completed_at, rows_written, error
		 FROM import_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var r model.ImportRun
		var errStr *string
		if err := rows.Scan(&r.ID, &r.ExtractID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.RowsWritten, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import run")
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpsertSnapshots writes one batch of snapshot rows via the bulk upsert
// helper. On (extract_id, ccn) conflict only the volatile descriptive
// columns are refreshed.
func (s *PostgresStore) UpsertSnapshots(ctx context.Context, batch []model.ProviderSnapshot) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(batch))
	for i := range batch {
		rows = append(rows, snapshotRow(&batch[i], func(t *time.Time) any {
			if t == nil {
				return nil
			}
			return *t
		}))
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "provider_snapshots",
		Columns:      snapshotColumns,
		ConflictKeys: []string{"extract_id", "ccn"},
		UpdateCols:   SnapshotVolatileColumns,
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert %d snapshots for extract %d", len(batch), batch[0].ExtractID)
	}
	return n, nil
}

func (s *PostgresStore) CountSnapshots(ctx context.Context, extractID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM provider_snapshots WHERE extract_id = $1", extractID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count snapshots for extract %d", extractID)
	}
	return n, nil
}

// InsertChangeEvents runs one detector's INSERT ... SELECT and returns the
// number of events actually inserted. Conflicts on the natural event key are
// silently suppressed, which makes re-runs no-ops.
func (s *PostgresStore) InsertChangeEvents(ctx context.Context, spec DiffSpec, currentID, previousID int64, eventDate time.Time) (int64, error) {
	sql, err := buildDiffSQL(spec, dialectPostgres)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, sql, diffArgs(spec, eventDate, currentID, previousID)...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert %s events for extracts %d->%d", spec.EventType, previousID, currentID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.ProviderEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	sql := `SELECT id, ccn, state, event_type, event_date, previous_extract_id, current_extract_id,
	               previous_value, new_value, change_magnitude, created_at
	        FROM provider_events`
	args := []any{}
	if filter.EventType != "" {
		sql += " WHERE event_type = $1"
		args = append(args, string(filter.EventType))
	}
	sql += " ORDER BY event_date DESC, id DESC"
	if filter.EventType != "" {
		sql += " LIMIT $2"
	} else {
		sql += " LIMIT $1"
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.ProviderEvent
	for rows.Next() {
		var e model.ProviderEvent
		var state *string
		if err := rows.Scan(&e.ID, &e.CCN, &state, &e.EventType, &e.EventDate,
			&e.PreviousExtractID, &e.CurrentExtractID,
			&e.PreviousValue, &e.NewValue, &e.ChangeMagnitude, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if state != nil {
			e.State = *state
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CountExtractsByStatus(ctx context.Context) (map[model.ExtractStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT status, COUNT(*) FROM extracts GROUP BY status",
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count extracts by status")
	}
	defer rows.Close()

	counts := make(map[model.ExtractStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extract count")
		}
		counts[model.ExtractStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) LatestCompletedExtract(ctx context.Context) (*model.Extract, error) {
	ext, err := s.scanExtract(s.pool.QueryRow(ctx,
		"SELECT "+pgExtractColumns+" FROM extracts WHERE status = 'completed' ORDER BY period_date DESC LIMIT 1",
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest completed extract")
	}
	return ext, nil
}

func (s *PostgresStore) CountEventsByType(ctx context.Context) (map[model.EventType]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT event_type, COUNT(*) FROM provider_events GROUP BY event_type",
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count events by type")
	}
	defer rows.Close()

	counts := make(map[model.EventType]int64)
	for rows.Next() {
		var et string
		var n int64
		if err := rows.Scan(&et, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event count")
		}
		counts[model.EventType(et)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) TopStates(ctx context.Context, extractID int64, limit int) ([]StateCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) AS providers FROM provider_snapshots
		 WHERE extract_id = $1 GROUP BY state
		 ORDER BY providers DESC, state ASC LIMIT $2`,
		extractID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: top states for extract %d", extractID)
	}
	defer rows.Close()

	var out []StateCount
	for rows.Next() {
		var sc StateCount
		if err := rows.Scan(&sc.State, &sc.Providers); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
