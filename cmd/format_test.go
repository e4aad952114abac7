package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/quality-cli/internal/diff"
	"github.com/sells-group/quality-cli/internal/model"
	"github.com/sells-group/quality-cli/internal/report"
	"github.com/sells-group/quality-cli/internal/store"
)

func TestFormatExtracts(t *testing.T) {
	completed := time.Date(2026, 8, 2, 9, 15, 0, 0, time.UTC)
	n := int64(14823)

	var buf bytes.Buffer
	formatExtracts(&buf, []model.Extract{
		{
			ID:          2,
			PeriodDate:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			SourceFile:  "NH_ProviderInfo_Aug2026.csv",
			Status:      model.ExtractCompleted,
			RecordCount: &n,
			CompletedAt: &completed,
		},
		{
			ID:         3,
			PeriodDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			Status:     model.ExtractPending,
		},
	})

	output := buf.String()
	assert.Contains(t, output, "2026-08-01")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "14823")
	assert.Contains(t, output, "NH_ProviderInfo_Aug2026.csv")
	assert.Contains(t, output, "pending")
}

func TestFormatImportRuns(t *testing.T) {
	started := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Minute)

	var buf bytes.Buffer
	formatImportRuns(&buf, []model.ImportRun{
		{
			ID:          "0d9a7a2e-3f1c-4e2a-9a59-0b9b1a6cf001",
			ExtractID:   2,
			Status:      model.ImportRunCompleted,
			StartedAt:   started,
			CompletedAt: &completed,
			RowsWritten: 14823,
		},
		{
			ID:        "7f3b2c1d-8e4a-4b6f-a2c3-d4e5f6a7b002",
			ExtractID: 3,
			Status:    model.ImportRunRunning,
			StartedAt: started,
		},
	})

	output := buf.String()
	assert.Contains(t, output, "3m0s")
	assert.Contains(t, output, "14823")
	assert.Contains(t, output, "running")
}

func TestFormatDiffResult(t *testing.T) {
	var buf bytes.Buffer
	formatDiffResult(&buf, &diff.Result{
		Counts: []diff.DetectorCount{
			{Name: "rating change", EventType: model.EventRatingChange, Inserted: 12},
			{Name: "new provider", EventType: model.EventNewEntity, Inserted: 3},
		},
		Total: 15,
	})

	output := buf.String()
	assert.Contains(t, output, "RATING_CHANGE")
	assert.Contains(t, output, "12")
	assert.Contains(t, output, "total")
	assert.Contains(t, output, "15")
}

func TestFormatSummary(t *testing.T) {
	n := int64(14823)
	var buf bytes.Buffer
	formatSummary(&buf, &report.Summary{
		ExtractsByStatus: map[model.ExtractStatus]int64{
			model.ExtractCompleted: 6,
			model.ExtractFailed:    1,
		},
		LatestExtract: &model.Extract{
			ID:          6,
			PeriodDate:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			Status:      model.ExtractCompleted,
			RecordCount: &n,
		},
		SnapshotCount: 14823,
		EventsByType: map[model.EventType]int64{
			model.EventRatingChange: 200,
			model.EventNewEntity:    12,
		},
		TopStates: []store.StateCount{
			{State: "TX", Providers: 1200},
			{State: "CA", Providers: 1100},
		},
	})

	output := buf.String()
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "2026-08-01")
	assert.Contains(t, output, "RATING_CHANGE")
	assert.Contains(t, output, "TX")
	assert.Contains(t, output, "1200")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a very ...", truncate("a very long string", 10))
}
