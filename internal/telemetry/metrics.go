// Package telemetry provides Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docask"

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	AsksTotal          *prometheus.CounterVec
	ChunksDispatched   prometheus.Counter
	ChunksDropped      prometheus.Counter
	FitIterations      prometheus.Histogram
	CompletionCalls    *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	IngestJobs         *prometheus.CounterVec
	IngestQueueLength  prometheus.Gauge
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		AsksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Questions answered, by delivery mode and outcome.",
		}, []string{"mode", "outcome"}),

		ChunksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dispatched_total",
			Help:      "Document chunks sent to the completion service.",
		}),

		ChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Document chunks beyond the per-question limit.",
		}),

		FitIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "budget_fit_iterations",
			Help:      "Segmentation passes needed to fit the token budget.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
		}),

		CompletionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_calls_total",
			Help:      "Completion service calls, by pipeline stage and outcome.",
		}, []string{"stage", "outcome"}),

		CompletionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion service call duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"stage"}),

		IngestJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_jobs_total",
			Help:      "Finished ingest jobs, by final status.",
		}, []string{"status"}),

		IngestQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_length",
			Help:      "Ingest jobs waiting for a worker.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_hits_total",
			Help:      "Document cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_misses_total",
			Help:      "Document cache misses.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.AsksTotal,
		m.ChunksDispatched,
		m.ChunksDropped,
		m.FitIterations,
		m.CompletionCalls,
		m.CompletionDuration,
		m.IngestJobs,
		m.IngestQueueLength,
		m.CacheHits,
		m.CacheMisses,
	)

	return m
}

// ObserveCall records one completion call.
func (m *Metrics) ObserveCall(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionCalls.WithLabelValues(stage, outcome).Inc()
	m.CompletionDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveAsk records a finished question.
func (m *Metrics) ObserveAsk(mode, outcome string, dispatched, dropped, iterations int) {
	if m == nil {
		return
	}
	m.AsksTotal.WithLabelValues(mode, outcome).Inc()
	m.ChunksDispatched.Add(float64(dispatched))
	m.ChunksDropped.Add(float64(dropped))
	if iterations > 0 {
		m.FitIterations.Observe(float64(iterations))
	}
}

// ObserveRequest records a finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveIngest records a finished ingest job.
func (m *Metrics) ObserveIngest(status string) {
	if m == nil {
		return
	}
	m.IngestJobs.WithLabelValues(status).Inc()
}

// SetIngestQueue reports the current ingest backlog.
func (m *Metrics) SetIngestQueue(n int) {
	if m == nil {
		return
	}
	m.IngestQueueLength.Set(float64(n))
}

// ObserveCache records a document cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
