// Package metrics owns the Prometheus collectors of the service. Every
// method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/docuiq/internal/models"
)

type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	ingestResults *prometheus.CounterVec
	askResults    *prometheus.CounterVec
	queueTasks    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuiq_status_transitions_total",
			Help: "Applied content item status transitions.",
		}, []string{"from", "to"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docuiq_ingest_stage_seconds",
			Help:    "Time spent in each ingest stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		ingestResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuiq_ingest_results_total",
			Help: "Finished pipeline runs by final status and error code.",
		}, []string{"status", "error_code"}),
		askResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuiq_ask_requests_total",
			Help: "Ask requests by outcome.",
		}, []string{"outcome"}),
		queueTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docuiq_queue_tasks_total",
			Help: "Queue task executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.stageDuration, m.ingestResults, m.askResults, m.queueTasks,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTransition(from, to models.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveStage records how long a stage that started at start took.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IngestFinished(status models.Status, errorCode string) {
	if m == nil {
		return
	}
	m.ingestResults.WithLabelValues(string(status), errorCode).Inc()
}

func (m *Metrics) AskServed(outcome string) {
	if m == nil {
		return
	}
	m.askResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TaskDone(kind, outcome string) {
	if m == nil {
		return
	}
	m.queueTasks.WithLabelValues(kind, outcome).Inc()
}
