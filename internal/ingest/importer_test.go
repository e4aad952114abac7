package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quality-cli/internal/model"
	"github.com/sells-group/quality-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestImporter(t *testing.T, st store.Store, batchSize int) *Importer {
	t.Helper()
	m, err := NewMapper()
	require.NoError(t, err)
	return NewImporter(st, m, batchSize)
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testHeader = "CMS Certification Number (CCN),Provider Name,State,Overall Rating\n"

var testPeriod = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func TestImporter_Run(t *testing.T) {
	st := newTestStore(t)
	im := newTestImporter(t, st, 2) // small batches to exercise flushing
	ctx := context.Background()

	path := writeCSV(t, testHeader+
		"015009,BURNS NURSING HOME,AL,3\n"+
		"015010,COOSA VALLEY,AL,5\n"+
		"015012,CLOSED MANOR,GA,-\n")

	result, err := im.Run(ctx, path, testPeriod)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, int64(3), result.RowsWritten)
	assert.Zero(t, result.RowsDropped)

	ext, err := st.GetExtract(ctx, result.ExtractID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractCompleted, ext.Status)
	assert.Equal(t, "extract.csv", ext.SourceFile)
	require.NotNil(t, ext.RecordCount)
	assert.Equal(t, int64(3), *ext.RecordCount)
	assert.NotNil(t, ext.StartedAt)
	assert.NotNil(t, ext.CompletedAt)

	count, err := st.CountSnapshots(ctx, result.ExtractID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	runs, err := st.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ImportRunCompleted, runs[0].Status)
	assert.Equal(t, int64(3), runs[0].RowsWritten)
}

func TestImporter_SkipsCompletedExtract(t *testing.T) {
	st := newTestStore(t)
	im := newTestImporter(t, st, 0)
	ctx := context.Background()

	path := writeCSV(t, testHeader+"015009,BURNS NURSING HOME,AL,3\n")

	first, err := im.Run(ctx, path, testPeriod)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	// Second run must not touch the file or the snapshot table, even if the
	// file no longer exists.
	require.NoError(t, os.Remove(path))

	second, err := im.Run(ctx, path, testPeriod)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.ExtractID, second.ExtractID)

	count, err := st.CountSnapshots(ctx, first.ExtractID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	runs, err := st.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1) // skip does not open a new run
}

func TestImporter_DropsRowsMissingNaturalKey(t *testing.T) {
	st := newTestStore(t)
	im := newTestImporter(t, st, 0)
	ctx := context.Background()

	path := writeCSV(t, testHeader+
		"015009,BURNS NURSING HOME,AL,3\n"+
		",NO KEY HOME,AL,4\n"+
		"-,PLACEHOLDER KEY,GA,2\n")

	result, err := im.Run(ctx, path, testPeriod)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowsWritten)
	assert.Equal(t, int64(2), result.RowsDropped)
}

func TestImporter_MissingFileMarksExtractFailed(t *testing.T) {
	st := newTestStore(t)
	im := newTestImporter(t, st, 0)
	ctx := context.Background()

	_, err := im.Run(ctx, filepath.Join(t.TempDir(), "nope.csv"), testPeriod)
	require.Error(t, err)

	extracts, err := st.ListExtracts(ctx)
	require.NoError(t, err)
	require.Len(t, extracts, 1)
	assert.Equal(t, model.ExtractFailed, extracts[0].Status)

	runs, err := st.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ImportRunFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestImporter_FailedExtractIsRetryable(t *testing.T) {
	st := newTestStore(t)
	im := newTestImporter(t, st, 0)
	ctx := context.Background()

	badPath := filepath.Join(t.TempDir(), "nope.csv")
	_, err := im.Run(ctx, badPath, testPeriod)
	require.Error(t, err)

	path := writeCSV(t, testHeader+"015009,BURNS NURSING HOME,AL,3\n")
	result, err := im.Run(ctx, path, testPeriod)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, int64(1), result.RowsWritten)

	ext, err := st.GetExtract(ctx, result.ExtractID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractCompleted, ext.Status)
}
