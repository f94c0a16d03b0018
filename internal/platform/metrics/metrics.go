// Package metrics exposes the Prometheus collectors of the social service.
//
// A nil *Recorder is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bliss"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder owns a registry and the service collectors registered on it.
type Recorder struct {
	registry       *prometheus.Registry
	graphOps       *prometheus.CounterVec
	graphDuration  *prometheus.HistogramVec
	presenceWrites *prometheus.CounterVec
	subscriptions  *prometheus.GaugeVec
	reconcileDrift prometheus.Counter
	fetchChunks    prometheus.Counter
}

// New builds a recorder with Go and process collectors included.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		graphOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "operations_total",
			Help:      "Social graph operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		graphDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "operation_duration_seconds",
			Help:      "Latency of social graph operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		presenceWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "writes_total",
			Help:      "Presence writes by state and outcome. Failed writes are swallowed.",
		}, []string{"state", "outcome"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "open_subscriptions",
			Help:      "Live subscriptions currently open, by kind.",
		}, []string{"kind"}),
		reconcileDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "reconcile_adjustments_total",
			Help:      "Counters corrected by reconciliation.",
		}),
		fetchChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "fetch_chunks_total",
			Help:      "Chunked profile lookups issued against the store.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.graphOps,
		r.graphDuration,
		r.presenceWrites,
		r.subscriptions,
		r.reconcileDrift,
		r.fetchChunks,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// GraphOp records one graph operation.
func (r *Recorder) GraphOp(op string, started time.Time, err error) {
	if r == nil {
		return
	}
	r.graphOps.WithLabelValues(op, outcome(err)).Inc()
	if !started.IsZero() {
		r.graphDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	}
}

// PresenceWrite records one heartbeat write.
func (r *Recorder) PresenceWrite(online bool, err error) {
	if r == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	r.presenceWrites.WithLabelValues(state, outcome(err)).Inc()
}

// SubscriptionOpened increments the open subscription gauge for kind and
// returns the matching decrement.
func (r *Recorder) SubscriptionOpened(kind string) func() {
	if r == nil {
		return func() {}
	}
	gauge := r.subscriptions.WithLabelValues(kind)
	gauge.Inc()
	return gauge.Dec
}

// ReconcileAdjusted counts corrected counters.
func (r *Recorder) ReconcileAdjusted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.reconcileDrift.Add(float64(n))
}

// FetchChunk counts one chunked lookup.
func (r *Recorder) FetchChunk() {
	if r == nil {
		return
	}
	r.fetchChunks.Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
