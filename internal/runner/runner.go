// Package runner orchestrates one export run: extract observables,
// merge them into the hot store across a worker pool, then attempt the
// daily archive reconciliation.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"obscatalog/internal/errs"
	"obscatalog/internal/extract"
	"obscatalog/internal/logger"
	"obscatalog/internal/metrics"
	"obscatalog/internal/reconcile"
	"obscatalog/pkg/models"
)

// Export format selectors.
const (
	FormatAll  = "all"
	FormatHot  = "hot"
	FormatCold = "cold"
)

// Source produces the current extraction batch.
type Source interface {
	Fetch(ctx context.Context) (extract.Result, error)
}

// HotMerger upserts one observable into the short-retention store.
type HotMerger interface {
	Merge(ctx context.Context, obs models.Observable) (models.HotRecord, error)
}

// Reconciler attempts the daily archive merge.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Result, error)
}

// Options configures a run.
type Options struct {
	Workers int
	Format  string
	DryRun  bool
}

// RunResult is the machine-readable summary of one run.
type RunResult struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Format    string    `json:"format"`
	DryRun    bool      `json:"dry_run,omitempty"`

	RowsRead             int `json:"rows_read"`
	ObservablesExtracted int `json:"observables_extracted"`
	RowsSkipped          int `json:"rows_skipped"`

	HotMergesOK    int      `json:"hot_merges_ok"`
	HotMergeFailed int      `json:"hot_merges_failed"`
	FailedEntities []string `json:"failed_entities,omitempty"`

	Reconciliation reconcile.Result `json:"reconciliation"`

	DurationSeconds float64 `json:"duration_seconds"`
	Success         bool    `json:"success"`
	FatalError      string  `json:"fatal_error,omitempty"`
}

// Runner is the single entry point for a batch invocation.
type Runner struct {
	source     Source
	hot        HotMerger
	reconciler Reconciler
	metrics    *metrics.Metrics
	opts       Options
	now        func() time.Time
}

// New creates a Runner.
func New(source Source, hot HotMerger, reconciler Reconciler, m *metrics.Metrics, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Format == "" {
		opts.Format = FormatAll
	}
	return &Runner{
		source:     source,
		hot:        hot,
		reconciler: reconciler,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
	}
}

// Run executes one export. Fatal conditions (upstream unreachable,
// systemic storage failure) abort and are reported in the result;
// per-entity merge failures are counted and never stop the batch.
func (r *Runner) Run(ctx context.Context) RunResult {
	started := r.now()
	res := RunResult{
		RunID:     uuid.NewString(),
		StartedAt: started.UTC(),
		Format:    r.opts.Format,
		DryRun:    r.opts.DryRun,
	}
	defer func() {
		res.DurationSeconds = r.now().Sub(started).Seconds()
		if r.metrics != nil {
			r.metrics.RunDuration.Observe(res.DurationSeconds)
		}
	}()

	if r.opts.Format != FormatCold {
		batch, err := r.source.Fetch(ctx)
		if err != nil {
			res.FatalError = err.Error()
			logger.Errorf("Extraction failed: %v", err)
			return res
		}
		res.RowsRead = batch.RowsRead
		res.ObservablesExtracted = len(batch.Observables)
		res.RowsSkipped = batch.Skipped
		if r.metrics != nil {
			r.metrics.ObservablesExtracted.Add(float64(len(batch.Observables)))
			r.metrics.RowsSkipped.Add(float64(batch.Skipped))
		}
		logger.Infof("Extracted %d observables from %d rows (%d skipped)", len(batch.Observables), batch.RowsRead, batch.Skipped)

		if !r.opts.DryRun {
			if err := r.mergeBatch(ctx, batch.Observables, &res); err != nil {
				res.FatalError = err.Error()
				return res
			}
		}
	}

	if r.opts.Format != FormatHot && !r.opts.DryRun {
		recRes, err := r.reconciler.Reconcile(ctx)
		res.Reconciliation = recRes
		if err != nil {
			res.FatalError = err.Error()
			logger.Errorf("Reconciliation failed: %v", err)
			return res
		}
	}

	res.Success = true
	return res
}

// mergeBatch fans the batch out over the worker pool. Entities are
// independent, so ordering between them does not matter; the per-entity
// CAS inside the hot store covers overlapping runs.
func (r *Runner) mergeBatch(ctx context.Context, batch []models.Observable, res *RunResult) error {
	if len(batch) == 0 {
		return nil
	}

	workCh := make(chan models.Observable)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obs := range workCh {
				_, err := r.hot.Merge(ctx, obs)
				mu.Lock()
				if err != nil {
					res.HotMergeFailed++
					res.FailedEntities = append(res.FailedEntities, obs.Entity.Key())
					logger.Errorf("Hot merge failed for %s: %v", obs.Entity.Key(), err)
					if r.metrics != nil {
						r.metrics.HotMergesFailed.Inc()
					}
				} else {
					res.HotMergesOK++
					if r.metrics != nil {
						r.metrics.HotMergesOK.Inc()
					}
				}
				mu.Unlock()
			}
		}()
	}

	// Cooperative cancellation point between entities.
feed:
	for _, obs := range batch {
		select {
		case <-ctx.Done():
			break feed
		case workCh <- obs:
		}
	}
	close(workCh)
	wg.Wait()

	sort.Strings(res.FailedEntities)

	if err := ctx.Err(); err != nil {
		return err
	}
	if res.HotMergesOK == 0 && res.HotMergeFailed > 0 {
		return errs.StorageUnavailable(
			fmt.Sprintf("all %d hot merges failed", res.HotMergeFailed), nil)
	}
	return nil
}
