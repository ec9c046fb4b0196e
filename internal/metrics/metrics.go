// Package metrics exposes catalogjobsd's job/batch counters as Prometheus
// metrics, grounded in shared/pkg/bandwidth/monitor.go's use of
// prometheus.CounterVec/GaugeVec registered to a private registry and
// served through promhttp — restated here for job/batch counts instead of
// HTTP bandwidth, since this daemon has no HTTP surface of its own to
// instrument (spec.md §1 Non-goals).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus collectors, registered to a
// private registry (not the global default) so multiple Metrics
// instances — one per test — never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobsActive     prometheus.Gauge
	batchesTotal   *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	jobDuration    prometheus.Histogram
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogjobs_jobs_total",
			Help: "Total jobs by terminal status",
		}, []string{"status"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogjobs_jobs_active",
			Help: "Jobs currently running",
		}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogjobs_batches_total",
			Help: "Total batches by terminal status",
		}, []string{"status"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogjobs_items_processed_total",
			Help: "Total work items processed by outcome",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogjobs_job_duration_seconds",
			Help:    "Wall-clock duration of a job run from dispatch to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(m.jobsTotal, m.jobsActive, m.batchesTotal, m.itemsProcessed, m.jobDuration)
	return m
}

// JobStarted records a job transitioning to running.
func (m *Metrics) JobStarted() {
	m.jobsActive.Inc()
}

// JobEnded records a job reaching a terminal status and its wall-clock
// duration in seconds.
func (m *Metrics) JobEnded(status string, durationSeconds float64) {
	m.jobsActive.Dec()
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.Observe(durationSeconds)
}

// BatchEnded records a batch reaching a terminal status.
func (m *Metrics) BatchEnded(status string) {
	m.batchesTotal.WithLabelValues(status).Inc()
}

// ItemProcessed records one work item's outcome ("success" or "error").
func (m *Metrics) ItemProcessed(result string) {
	m.itemsProcessed.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler serving this instance's metrics in
// the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
