package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CyclesTotal           prometheus.Counter
	CycleDuration         prometheus.Histogram
	RowsProcessedTotal    *prometheus.CounterVec
	MessagesEnqueuedTotal *prometheus.CounterVec
	SendsTotal            *prometheus.CounterVec
	RemindersDroppedTotal *prometheus.CounterVec
	BreakerOpen           *prometheus.GaugeVec
	QueueDepth            prometheus.Gauge
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automation_cycles_total",
				Help: "Total number of completed polling cycles",
			},
		),
		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "automation_cycle_duration_seconds",
				Help:    "Duration of one polling cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RowsProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_rows_processed_total",
				Help: "Order rows examined, by outcome",
			},
			[]string{"result"},
		),
		MessagesEnqueuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_enqueued_total",
				Help: "Message jobs enqueued, by message type",
			},
			[]string{"type"},
		),
		SendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "message_sends_total",
				Help: "Transport send outcomes",
			},
			[]string{"outcome"},
		),
		RemindersDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminders_dropped_total",
				Help: "Delayed jobs discarded before firing",
			},
			[]string{"reason"},
		),
		BreakerOpen: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_open",
				Help: "1 when the operation family's circuit breaker is open",
			},
			[]string{"family"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Current queue depth",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
