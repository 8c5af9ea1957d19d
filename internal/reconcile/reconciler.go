// Package reconcile merges the hot store into the cold archive once
// per UTC calendar day.
package reconcile

import (
	"context"
	"time"

	"obscatalog/internal/coldstore"
	"obscatalog/internal/errs"
	"obscatalog/internal/logger"
	"obscatalog/internal/merge"
	"obscatalog/internal/metrics"
	"obscatalog/pkg/models"
)

// HotScanner enumerates every live hot record.
type HotScanner interface {
	ScanAll(ctx context.Context, fn func(models.HotRecord) error) error
}

// Result summarizes one reconciliation attempt.
type Result struct {
	Ran        bool          `json:"ran"`
	Skipped    bool          `json:"skipped"`
	Day        string        `json:"day"`
	HotRecords int           `json:"hot_records"`
	Entities   int           `json:"entities"`
	Duration   time.Duration `json:"duration"`
}

// Reconciler folds the full hot-store state into the archive snapshot.
type Reconciler struct {
	hot     HotScanner
	archive coldstore.Archive
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Reconciler.
func New(hot HotScanner, archive coldstore.Archive, m *metrics.Metrics) *Reconciler {
	return &Reconciler{hot: hot, archive: archive, metrics: m, now: time.Now}
}

// Reconcile runs the daily merge, or returns a no-op result when
// today's marker already exists. The whole day is all-or-nothing: any
// failure leaves the marker unwritten so the next invocation redoes
// the full pass from durable inputs.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	started := r.now()
	day := coldstore.DayKey(started)
	res := Result{Day: day}

	done, err := r.archive.HasMarker(ctx, day)
	if err != nil {
		return res, err
	}
	if done {
		logger.Infof("Reconciliation for %s already completed, skipping", day)
		res.Skipped = true
		if r.metrics != nil {
			r.metrics.ReconcileSkips.Inc()
		}
		return res, nil
	}

	hot := make(map[string]models.HotRecord)
	err = r.hot.ScanAll(ctx, func(rec models.HotRecord) error {
		hot[rec.Entity.Key()] = rec
		return ctx.Err()
	})
	if err != nil {
		return res, err
	}
	res.HotRecords = len(hot)

	prev, err := r.archive.LoadSnapshot(ctx)
	if err != nil {
		return res, err
	}

	next := merge.ReconcileSnapshot(prev, hot, r.now().UTC())
	res.Entities = len(next)

	if err := r.archive.SaveSnapshot(ctx, next); err != nil {
		if r.metrics != nil && errs.CodeOf(err) == errs.CodeReconcileConflict {
			r.metrics.ReconcileConflicts.Inc()
		}
		return res, err
	}

	// The marker is written only after the snapshot is safely
	// published; a failure here just means tomorrow's run repeats an
	// idempotent write.
	if err := r.archive.WriteMarker(ctx, day); err != nil {
		return res, err
	}

	res.Ran = true
	res.Duration = r.now().Sub(started)
	if r.metrics != nil {
		r.metrics.ReconcileRuns.Inc()
	}
	logger.Infof("Reconciled %d hot records into %d archive entities for %s", res.HotRecords, res.Entities, day)
	return res, nil
}
