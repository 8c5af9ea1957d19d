package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"obscatalog/internal/errs"
	"obscatalog/internal/extract"
	"obscatalog/internal/reconcile"
	"obscatalog/pkg/models"
)

type fakeSource struct {
	result extract.Result
	err    error
}

func (f *fakeSource) Fetch(ctx context.Context) (extract.Result, error) {
	return f.result, f.err
}

type fakeMerger struct {
	mu      sync.Mutex
	merged  []string
	failFor map[string]bool
	failAll bool
}

func (f *fakeMerger) Merge(ctx context.Context, obs models.Observable) (models.HotRecord, error) {
	key := obs.Entity.Key()
	if f.failAll || f.failFor[key] {
		return models.HotRecord{}, errs.StorageUnavailable("put "+key, errors.New("timeout"))
	}
	f.mu.Lock()
	f.merged = append(f.merged, key)
	f.mu.Unlock()
	return models.HotRecord{Entity: obs.Entity, HitCount: obs.HitCount}, nil
}

type fakeReconciler struct {
	result reconcile.Result
	err    error
	calls  int
}

func (f *fakeReconciler) Reconcile(ctx context.Context) (reconcile.Result, error) {
	f.calls++
	return f.result, f.err
}

func ipObs(i byte) models.Observable {
	return models.Observable{
		Entity:    models.EntityID{Type: models.IndicatorIP, Value: "10.0.0." + string('0'+i)},
		FirstSeen: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:  time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC),
		HitCount:  1,
	}
}

func batchOf(n int) extract.Result {
	res := extract.Result{RowsRead: n}
	for i := 0; i < n; i++ {
		res.Observables = append(res.Observables, ipObs(byte(i)))
	}
	return res
}

func TestRunHappyPath(t *testing.T) {
	source := &fakeSource{result: batchOf(3)}
	merger := &fakeMerger{}
	rec := &fakeReconciler{result: reconcile.Result{Ran: true, Day: "2024-06-01"}}

	res := New(source, merger, rec, nil, Options{Workers: 2}).Run(context.Background())
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	if res.HotMergesOK != 3 || res.HotMergeFailed != 0 {
		t.Fatalf("merge counts: %+v", res)
	}
	if !res.Reconciliation.Ran {
		t.Fatalf("reconciliation did not run")
	}
	if res.RunID == "" {
		t.Fatalf("run id missing")
	}
}

func TestRunPartialFailureIsolation(t *testing.T) {
	batch := batchOf(10)
	failed := batch.Observables[4].Entity.Key()
	source := &fakeSource{result: batch}
	merger := &fakeMerger{failFor: map[string]bool{failed: true}}
	rec := &fakeReconciler{}

	res := New(source, merger, rec, nil, Options{Workers: 4}).Run(context.Background())
	if !res.Success {
		t.Fatalf("partial failure must not abort the run: %+v", res)
	}
	if res.HotMergesOK != 9 || res.HotMergeFailed != 1 {
		t.Fatalf("expected 9 ok / 1 failed, got %d/%d", res.HotMergesOK, res.HotMergeFailed)
	}
	if len(res.FailedEntities) != 1 || res.FailedEntities[0] != failed {
		t.Fatalf("failed entities = %v", res.FailedEntities)
	}
}

func TestRunPromotesTotalMergeFailure(t *testing.T) {
	source := &fakeSource{result: batchOf(5)}
	merger := &fakeMerger{failAll: true}
	rec := &fakeReconciler{}

	res := New(source, merger, rec, nil, Options{}).Run(context.Background())
	if res.Success {
		t.Fatalf("systemic storage failure must abort the run")
	}
	if !strings.Contains(res.FatalError, errs.CodeStorageUnavailable) {
		t.Fatalf("fatal error = %q", res.FatalError)
	}
	if rec.calls != 0 {
		t.Fatalf("reconciliation should not run after a fatal merge failure")
	}
}

func TestRunFatalOnSourceUnavailable(t *testing.T) {
	source := &fakeSource{err: errs.SourceUnavailable("login rejected", nil)}
	res := New(source, &fakeMerger{}, &fakeReconciler{}, nil, Options{}).Run(context.Background())
	if res.Success || res.FatalError == "" {
		t.Fatalf("expected fatal result: %+v", res)
	}
}

func TestRunFormatSelectors(t *testing.T) {
	source := &fakeSource{result: batchOf(2)}
	merger := &fakeMerger{}
	rec := &fakeReconciler{}

	res := New(source, merger, rec, nil, Options{Format: FormatHot}).Run(context.Background())
	if !res.Success || rec.calls != 0 {
		t.Fatalf("hot-only run must skip reconciliation: %+v calls=%d", res, rec.calls)
	}

	merger2 := &fakeMerger{}
	res = New(source, merger2, rec, nil, Options{Format: FormatCold}).Run(context.Background())
	if !res.Success || rec.calls != 1 {
		t.Fatalf("cold-only run must reconcile: calls=%d", rec.calls)
	}
	if len(merger2.merged) != 0 || res.ObservablesExtracted != 0 {
		t.Fatalf("cold-only run must not extract or merge: %+v", res)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	source := &fakeSource{result: batchOf(4)}
	merger := &fakeMerger{}
	rec := &fakeReconciler{}

	res := New(source, merger, rec, nil, Options{DryRun: true}).Run(context.Background())
	if !res.Success {
		t.Fatalf("dry run failed: %+v", res)
	}
	if res.ObservablesExtracted != 4 {
		t.Fatalf("dry run should still extract: %+v", res)
	}
	if len(merger.merged) != 0 || rec.calls != 0 {
		t.Fatalf("dry run must not touch stores: merged=%v reconciles=%d", merger.merged, rec.calls)
	}
}

func TestRunCancellationBetweenEntities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{result: batchOf(8)}
	merger := &fakeMerger{}
	res := New(source, merger, &fakeReconciler{}, nil, Options{Workers: 1}).Run(ctx)
	if res.Success {
		t.Fatalf("cancelled run must not report success")
	}
}
