package ingest

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quality-cli/internal/model"
	"github.com/sells-group/quality-cli/internal/store"
)

const defaultBatchSize = 500

// Importer loads one extract file into the snapshot store.
type Importer struct {
	store     store.Store
	mapper    *Mapper
	batchSize int
	log       *zap.Logger
}

// NewImporter creates an Importer. A non-positive batchSize falls back to
// the default of 500 rows per statement.
func NewImporter(st store.Store, mapper *Mapper, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Importer{
		store:     st,
		mapper:    mapper,
		batchSize: batchSize,
		log:       zap.L().With(zap.String("component", "ingest.importer")),
	}
}

// Result summarizes one import invocation.
type Result struct {
	ExtractID   int64
	RowsWritten int64
	RowsDropped int64
	Skipped     bool
}

// Run imports the file at path into the extract for periodDate. An extract
// already in completed status is skipped without re-reading the file. Any
// failure mid-import transitions the extract to failed before the error is
// returned, so the period stays retryable.
func (im *Importer) Run(ctx context.Context, path string, periodDate time.Time) (*Result, error) {
	period := periodDate.Format("2006-01-02")

	ext, err := im.store.GetOrCreateExtract(ctx, periodDate, filepath.Base(path))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: resolve extract for period %s", period)
	}

	log := im.log.With(zap.Int64("extract_id", ext.ID), zap.String("period", period))

	if ext.Status == model.ExtractCompleted {
		log.Info("extract already completed, skipping import")
		return &Result{ExtractID: ext.ID, Skipped: true}, nil
	}

	runID, err := im.store.StartImportRun(ctx, ext.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: start import run for extract %d", ext.ID)
	}
	if err := im.store.SetExtractStatus(ctx, ext.ID, model.ExtractImporting, nil); err != nil {
		return nil, im.fail(ctx, ext.ID, runID, err)
	}

	log.Info("starting import", zap.String("file", path), zap.String("run_id", runID))

	result, err := im.load(ctx, ext.ID, path)
	if err != nil {
		return nil, im.fail(ctx, ext.ID, runID, err)
	}

	if err := im.store.SetExtractStatus(ctx, ext.ID, model.ExtractCompleted, &result.RowsWritten); err != nil {
		return nil, im.fail(ctx, ext.ID, runID, err)
	}
	if err := im.store.CompleteImportRun(ctx, runID, result.RowsWritten); err != nil {
		return nil, eris.Wrapf(err, "ingest: complete import run %s", runID)
	}

	log.Info("import complete",
		zap.Int64("rows_written", result.RowsWritten),
		zap.Int64("rows_dropped", result.RowsDropped))
	return result, nil
}

// load streams, coerces, and writes the file's rows in batches. Each batch
// commits independently; a failure in batch N leaves batches 1..N-1 durable.
func (im *Importer) load(ctx context.Context, extractID int64, path string) (*Result, error) {
	src, err := OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	bound := im.mapper.Bind(src.Header())
	result := &Result{ExtractID: extractID}
	batch := make([]model.ProviderSnapshot, 0, im.batchSize)
	batchIndex := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := im.store.UpsertSnapshots(ctx, batch); err != nil {
			return eris.Wrapf(err, "ingest: write batch %d of extract %d", batchIndex, extractID)
		}
		result.RowsWritten += int64(len(batch))
		batchIndex++
		batch = batch[:0]
		return nil
	}

	for {
		record, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read row from %s", path)
		}

		snap, ok := bound.Map(record)
		if !ok {
			result.RowsDropped++
			continue
		}
		snap.ExtractID = extractID

		batch = append(batch, snap)
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return result, nil
}

// fail transitions the extract and run to failed, best effort, and returns
// the original error wrapped. The transition uses a detached context so a
// cancelled run still leaves the extract in a retryable state.
func (im *Importer) fail(ctx context.Context, extractID int64, runID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := im.store.SetExtractStatus(ctx, extractID, model.ExtractFailed, nil); err != nil {
		im.log.Warn("failed to mark extract failed",
			zap.Int64("extract_id", extractID), zap.Error(err))
	}
	if err := im.store.FailImportRun(ctx, runID, cause.Error()); err != nil {
		im.log.Warn("failed to mark import run failed",
			zap.String("run_id", runID), zap.Error(err))
	}
	return eris.Wrapf(cause, "ingest: import extract %d", extractID)
}
