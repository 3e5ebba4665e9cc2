// Package metrics holds the Prometheus collectors shared by the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded on BackbonesProcessed.
const (
	OutcomeExpanded  = "expanded"
	OutcomeDead      = "dead"
	OutcomeResult    = "result"
	OutcomeDropped   = "dropped"
	OutcomeMalformed = "malformed"
	OutcomeAbandoned = "abandoned"
	OutcomeRetry     = "retry"
)

// Registry owns a private prometheus registry so tests and embedded
// engines never collide on the global one.
type Registry struct {
	registry *prometheus.Registry

	BackbonesProcessed *prometheus.CounterVec
	ResultsWritten     prometheus.Counter
	Seeds              prometheus.Counter
	HostLookups        *prometheus.CounterVec
	ExpansionDuration  prometheus.Histogram
	WorkerConcurrency  prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	f := promauto.With(r.registry)

	r.BackbonesProcessed = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grandiso_backbones_processed_total",
			Help: "Backbones taken off the queue, by outcome",
		},
		[]string{"outcome"},
	)
	r.ResultsWritten = f.NewCounter(
		prometheus.CounterOpts{
			Name: "grandiso_results_written_total",
			Help: "Complete mappings written to the result store",
		},
	)
	r.Seeds = f.NewCounter(
		prometheus.CounterOpts{
			Name: "grandiso_seeds_total",
			Help: "Seed backbones pushed by the preprocessor",
		},
	)
	r.HostLookups = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grandiso_host_lookups_total",
			Help: "Host graph calls, by operation",
		},
		[]string{"op"},
	)
	r.ExpansionDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grandiso_expansion_duration_seconds",
			Help:    "Time spent expanding one backbone",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
	r.WorkerConcurrency = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "grandiso_worker_concurrency",
			Help: "Current target number of worker pull loops",
		},
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Lookup returns a hook suitable for graph.Observed.
func (r *Registry) Lookup(op string) {
	r.HostLookups.WithLabelValues(op).Inc()
}
