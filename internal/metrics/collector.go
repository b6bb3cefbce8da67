// Package metrics collects and exports Prometheus metrics for the audit
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the service's Prometheus instruments.
type Collector struct {
	// Report metrics
	ReportsBuilt        prometheus.Counter
	ReportBuildDuration prometheus.Histogram

	// Queue metrics
	EventsEnqueued   *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	OfflineEntered   prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewCollector creates and registers the service metrics.
func NewCollector() *Collector {
	return &Collector{
		ReportsBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audit_reports_built_total",
			Help: "Total number of audit reports reconciled",
		}),
		ReportBuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_report_build_duration_seconds",
			Help:    "Time spent reconciling a single audit report",
			Buckets: prometheus.DefBuckets,
		}),
		EventsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_events_enqueued_total",
			Help: "Events accepted into the submission queue",
		}, []string{"type"}),
		EventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_queue_events_dispatched_total",
			Help: "Dispatch attempts by outcome",
		}, []string{"outcome"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Events currently pending in the submission queue",
		}),
		OfflineEntered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audit_queue_offline_transitions_total",
			Help: "Times the queue entered offline mode",
		}),
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
