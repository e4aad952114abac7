// Package report builds read-only operational summaries over the ingest
// tables.
package report

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/quality-cli/internal/model"
	"github.com/sells-group/quality-cli/internal/store"
)

const topStateLimit = 10

// Summary is an aggregate view of the pipeline's state. LatestExtract,
// SnapshotCount, and TopStates are zero-valued when nothing has completed
// yet.
type Summary struct {
	ExtractsByStatus map[model.ExtractStatus]int64
	LatestExtract    *model.Extract
	SnapshotCount    int64
	EventsByType     map[model.EventType]int64
	TopStates        []store.StateCount
}

// Collector reads summary aggregates from the store.
type Collector struct {
	store store.Store
}

func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

func (c *Collector) Collect(ctx context.Context) (*Summary, error) {
	s := &Summary{}
	var err error

	if s.ExtractsByStatus, err = c.store.CountExtractsByStatus(ctx); err != nil {
		return nil, eris.Wrap(err, "report: extract counts")
	}
	if s.EventsByType, err = c.store.CountEventsByType(ctx); err != nil {
		return nil, eris.Wrap(err, "report: event counts")
	}

	if s.LatestExtract, err = c.store.LatestCompletedExtract(ctx); err != nil {
		return nil, eris.Wrap(err, "report: latest extract")
	}
	if s.LatestExtract == nil {
		return s, nil
	}

	if s.SnapshotCount, err = c.store.CountSnapshots(ctx, s.LatestExtract.ID); err != nil {
		return nil, eris.Wrap(err, "report: snapshot count")
	}
	if s.TopStates, err = c.store.TopStates(ctx, s.LatestExtract.ID, topStateLimit); err != nil {
		return nil, eris.Wrap(err, "report: top states")
	}
	return s, nil
}
