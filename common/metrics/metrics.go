package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics contains HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// QueueMetrics contains webhook queue metrics
type QueueMetrics struct {
	Enqueued       prometheus.Counter
	EnqueueFailed  prometheus.Counter
	FallbackUsed   prometheus.Counter
	Processed      prometheus.Counter
	Failed         prometheus.Counter
	MainQueueDepth prometheus.Gauge
	DLQDepth       prometheus.Gauge
	ProcessingTime prometheus.Histogram
}

// NotifierMetrics contains notification delivery metrics
type NotifierMetrics struct {
	Sent      prometheus.Counter
	Retries   prometheus.Counter
	Dropped   prometheus.Counter
	QueueSize prometheus.Gauge
}

// SyncMetrics contains order reconciliation metrics
type SyncMetrics struct {
	Runs            *prometheus.CounterVec
	OrdersProcessed prometheus.Counter
	OrdersSkipped   prometheus.Counter
	Duration        prometheus.Histogram
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewQueueMetrics creates queue metrics for a service
func NewQueueMetrics(serviceName string) *QueueMetrics {
	return &QueueMetrics{
		Enqueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_queue_enqueued_total",
				Help: "Total number of webhooks enqueued",
			},
		),
		EnqueueFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_queue_enqueue_failed_total",
				Help: "Total number of failed enqueue attempts",
			},
		),
		FallbackUsed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_queue_fallback_total",
				Help: "Total number of enqueues that fell back to direct delivery",
			},
		),
		Processed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_queue_processed_total",
				Help: "Total number of messages processed successfully",
			},
		),
		Failed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_queue_failed_total",
				Help: "Total number of messages moved to the dead letter queue",
			},
		),
		MainQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_queue_depth",
				Help: "Current depth of the main webhook queue",
			},
		),
		DLQDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_dlq_depth",
				Help: "Current depth of the dead letter queue",
			},
		),
		ProcessingTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_message_processing_seconds",
				Help:    "Message processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// NewNotifierMetrics creates notification metrics for a service
func NewNotifierMetrics(serviceName string) *NotifierMetrics {
	return &NotifierMetrics{
		Sent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_notifications_sent_total",
				Help: "Total number of notifications delivered",
			},
		),
		Retries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_notification_retries_total",
				Help: "Total number of notification send retries",
			},
		),
		Dropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_notifications_dropped_total",
				Help: "Total number of notifications dropped after retries",
			},
		),
		QueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_notification_queue_size",
				Help: "Current number of queued notifications",
			},
		),
	}
}

// NewSyncMetrics creates reconciliation metrics for a service
func NewSyncMetrics(serviceName string) *SyncMetrics {
	return &SyncMetrics{
		Runs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_sync_runs_total",
				Help: "Total number of reconciliation runs",
			},
			[]string{"type", "result"},
		),
		OrdersProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_sync_orders_processed_total",
				Help: "Total number of orders processed by reconciliation",
			},
		),
		OrdersSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_sync_orders_skipped_total",
				Help: "Total number of orders skipped by reconciliation",
			},
		),
		Duration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    serviceName + "_sync_duration_seconds",
				Help:    "Reconciliation run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
