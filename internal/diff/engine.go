// Package diff detects changes between two completed extracts and records
// them as provider events. Detection is a fixed registry of parameterized
// detectors; adding an event kind means adding a registry entry, not a new
// query.
package diff

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quality-cli/internal/model"
	"github.com/sells-group/quality-cli/internal/store"
)

// Detector pairs a human-readable name with the spec the store executes.
type Detector struct {
	Name string
	Spec store.DiffSpec
}

// Detectors returns the fixed detector registry. Detectors are independent
// and write disjoint event types, so they can run in any order.
func Detectors() []Detector {
	return []Detector{
		{
			Name: "rating change",
			Spec: store.DiffSpec{
				EventType:     model.EventRatingChange,
				Join:          store.DiffChanged,
				CompareColumn: "overall_rating",
				Numeric:       true,
			},
		},
		{
			Name: "new provider",
			Spec: store.DiffSpec{
				EventType: model.EventNewEntity,
				Join:      store.DiffAdded,
			},
		},
		{
			Name: "removed provider",
			Spec: store.DiffSpec{
				EventType: model.EventEntityRemoved,
				Join:      store.DiffRemoved,
			},
		},
		{
			Name: "ownership change",
			Spec: store.DiffSpec{
				EventType:     model.EventAttributeChange,
				Join:          store.DiffChanged,
				CompareColumn: "ownership_type",
			},
		},
	}
}

// DetectorCount is one detector's inserted-event count.
type DetectorCount struct {
	Name      string
	EventType model.EventType
	Inserted  int64
}

// Result summarizes one diff run.
type Result struct {
	Counts []DetectorCount
	Total  int64
}

// Engine runs the detector registry against a pair of extracts.
type Engine struct {
	store store.Store
	log   *zap.Logger
}

func NewEngine(st store.Store) *Engine {
	return &Engine{
		store: st,
		log:   zap.L().With(zap.String("component", "diff.engine")),
	}
}

// Run validates that both extracts exist and are completed, then executes
// every detector concurrently. Re-running for the same pair inserts nothing
// new; counts reflect only newly inserted events.
func (e *Engine) Run(ctx context.Context, currentID, previousID int64, eventDate time.Time) (*Result, error) {
	if currentID == previousID {
		return nil, eris.Errorf("diff: current and previous extract are both %d", currentID)
	}
	if err := e.requireCompleted(ctx, currentID, "current"); err != nil {
		return nil, err
	}
	if err := e.requireCompleted(ctx, previousID, "previous"); err != nil {
		return nil, err
	}

	detectors := Detectors()
	counts := make([]DetectorCount, len(detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range detectors {
		g.Go(func() error {
			n, err := e.store.InsertChangeEvents(gctx, d.Spec, currentID, previousID, eventDate)
			if err != nil {
				return eris.Wrapf(err, "diff: %s detector", d.Name)
			}
			counts[i] = DetectorCount{Name: d.Name, EventType: d.Spec.EventType, Inserted: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Counts: counts}
	for _, c := range counts {
		result.Total += c.Inserted
	}

	e.log.Info("diff complete",
		zap.Int64("current_extract_id", currentID),
		zap.Int64("previous_extract_id", previousID),
		zap.Int64("events_inserted", result.Total))
	return result, nil
}

func (e *Engine) requireCompleted(ctx context.Context, id int64, role string) error {
	ext, err := e.store.GetExtract(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "diff: load %s extract %d", role, id)
	}
	if ext == nil {
		return eris.Errorf("diff: %s extract %d does not exist", role, id)
	}
	if ext.Status != model.ExtractCompleted {
		return eris.Errorf("diff: %s extract %d is %s, not completed", role, id, ext.Status)
	}
	return nil
}
