package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "grid_patch"

// Metrics holds the Prometheus counters, histograms, and gauges for the patch service.
type Metrics struct {
	Patches       *prometheus.CounterVec // labels: outcome={ok,not_found,format_error,...}
	PatchDuration prometheus.Histogram
	LockWait      prometheus.Histogram

	// Chunk-index metrics.
	IndexChunkFetches *prometheus.CounterVec // labels: result={ok,missing,error}
	IndexCache        *prometheus.CounterVec // labels: result={hit,miss}
	IndexLoaded       prometheus.Gauge

	PatchEvents *prometheus.CounterVec // labels: outcome={published,error}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patches_total",
			Help:      "Single-cell patch attempts by outcome.",
		}, []string{"outcome"}),
		PatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "patch_duration_seconds",
			Help:      "Duration of a chunk read-modify-write cycle, lock wait included.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-chunk lock.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		IndexChunkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_chunk_fetches_total",
			Help:      "Chunk-index chunk fetches by result.",
		}, []string{"result"}),
		IndexCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_cache_total",
			Help:      "Chunk-index cache lookups by result.",
		}, []string{"result"}),
		IndexLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_loaded",
			Help:      "1 once the chunk-index coordinate axes are loaded, 0 otherwise.",
		}),
		PatchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_events_total",
			Help:      "Patch events handed to the event sink by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.Patches,
		m.PatchDuration,
		m.LockWait,
		m.IndexChunkFetches,
		m.IndexCache,
		m.IndexLoaded,
		m.PatchEvents,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		Patches:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "patches_total"}, []string{"outcome"}),
		PatchDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "patch_duration_seconds"}),
		LockWait:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "lock_wait_seconds"}),
		IndexChunkFetches: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "index_chunk_fetches_total"}, []string{"result"}),
		IndexCache:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "index_cache_total"}, []string{"result"}),
		IndexLoaded:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "index_loaded"}),
		PatchEvents:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "patch_events_total"}, []string{"outcome"}),
	}
}
