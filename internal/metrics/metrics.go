// Package metrics exposes Prometheus instrumentation for the export
// run. The batch is short-lived, so the endpoint mainly serves scrape
// targets in long-poll deployments; counts are also mirrored into the
// run summary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"obscatalog/internal/logger"
)

// Metrics holds the exporter's Prometheus collectors.
type Metrics struct {
	ObservablesExtracted prometheus.Counter
	RowsSkipped          prometheus.Counter
	HotMergesOK          prometheus.Counter
	HotMergesFailed      prometheus.Counter
	ReconcileRuns        prometheus.Counter
	ReconcileSkips       prometheus.Counter
	ReconcileConflicts   prometheus.Counter
	RunDuration          prometheus.Histogram

	registry *prometheus.Registry
}

// New registers the exporter collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ObservablesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_observables_extracted_total",
			Help: "Observables produced by the extractor after folding.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_rows_skipped_total",
			Help: "Upstream rows dropped as unclassifiable.",
		}),
		HotMergesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_hot_merges_total",
			Help: "Hot-store merges that succeeded.",
		}),
		HotMergesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_hot_merge_failures_total",
			Help: "Hot-store merges that failed.",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_reconcile_runs_total",
			Help: "Daily reconciliations performed.",
		}),
		ReconcileSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_reconcile_skips_total",
			Help: "Reconciliations skipped because today's marker exists.",
		}),
		ReconcileConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obscatalog_reconcile_conflicts_total",
			Help: "Snapshot publishes lost to a concurrent writer.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "obscatalog_run_duration_seconds",
			Help:    "End-to-end export run duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.ObservablesExtracted,
		m.RowsSkipped,
		m.HotMergesOK,
		m.HotMergesFailed,
		m.ReconcileRuns,
		m.ReconcileSkips,
		m.ReconcileConflicts,
		m.RunDuration,
	)
	return m
}

// Serve exposes /metrics on addr in the background. Errors are logged,
// not fatal; metrics are an observability aid, never a run dependency.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Errorf("Metrics listener on %s stopped: %v", addr, err)
		}
	}()
}
