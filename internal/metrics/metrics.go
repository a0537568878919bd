package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "episode_tracker"

// Recorder owns the process metrics. A nil Recorder records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	sourceCalls     *prometheus.CounterVec
	sourceLatency   *prometheus.HistogramVec
	aggregations    *prometheus.CounterVec
	resolvedEpisode *prometheus.HistogramVec
	queuedEvents    prometheus.Gauge
}

func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: registry,
		sourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_operations_total",
			Help:      "Source handler calls by outcome.",
		}, []string{"source", "operation", "outcome"}),
		sourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_operation_seconds",
			Help:      "Source handler call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "operation"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_total",
			Help:      "Aggregator calls by operation and whether anything was found.",
		}, []string{"operation", "outcome"}),
		resolvedEpisode: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_results",
			Help:      "Entries returned per aggregation.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"operation"}),
		queuedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_pending",
			Help:      "Acknowledgment-bearing events waiting across all connections.",
		}),
	}
	registry.MustRegister(r.sourceCalls, r.sourceLatency, r.aggregations, r.resolvedEpisode, r.queuedEvents)

	return r
}

func (r *Recorder) ObserveSourceOperation(source string, operation string, present bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.sourceCalls.WithLabelValues(source, operation, outcome(present)).Inc()
	r.sourceLatency.WithLabelValues(source, operation).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveAggregation(operation string, results int) {
	if r == nil {
		return
	}
	r.aggregations.WithLabelValues(operation, outcome(results > 0)).Inc()
	r.resolvedEpisode.WithLabelValues(operation).Observe(float64(results))
}

// AddQueued tracks queue depth changes; delta is +1 on enqueue and -1 on dequeue.
func (r *Recorder) AddQueued(delta int) {
	if r == nil {
		return
	}
	r.queuedEvents.Add(float64(delta))
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func outcome(present bool) string {
	if present {
		return "found"
	}
	return "absent"
}
