package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exposes metrics via a Prometheus registry.
type PrometheusRecorder struct {
	gateAllowed     prometheus.Counter
	gateRejected    *prometheus.CounterVec
	chargeDuration  prometheus.Histogram
	itemsTotal      *prometheus.CounterVec
	rechargeTotal   *prometheus.CounterVec
	usagePublished  *prometheus.CounterVec
	usageProcessed  *prometheus.CounterVec
	usageBatchSize  prometheus.Histogram
	usageQueueDepth prometheus.Gauge
}

// NewPrometheus returns a Recorder registered on the given registerer.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		gateAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_requests_allowed_total",
			Help: "Requests admitted and charged by the credit gate.",
		}),
		gateRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_requests_rejected_total",
			Help: "Requests rejected by the credit gate, by reason.",
		}, []string{"reason"}),
		chargeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gate_charge_duration_seconds",
			Help:    "Round-trip time of the conditioned credit charge.",
			Buckets: prometheus.DefBuckets,
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "items_operations_total",
			Help: "Item mutations, by operation.",
		}, []string{"op"}),
		rechargeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recharge_attempts_total",
			Help: "Recharge attempts, by outcome.",
		}, []string{"status"}),
		usagePublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usage_events_published_total",
			Help: "Usage events published to the stream, by status.",
		}, []string{"status"}),
		usageProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usage_events_processed_total",
			Help: "Usage events processed by the worker, by status.",
		}, []string{"status"}),
		usageBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usage_batch_size",
			Help:    "Usage events per worker batch.",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500},
		}),
		usageQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usage_queue_depth",
			Help: "Approximate length of the usage event stream.",
		}),
	}

	reg.MustRegister(
		r.gateAllowed,
		r.gateRejected,
		r.chargeDuration,
		r.itemsTotal,
		r.rechargeTotal,
		r.usagePublished,
		r.usageProcessed,
		r.usageBatchSize,
		r.usageQueueDepth,
	)

	return r
}

// IncGateAllowed increments the admitted request counter.
func (r *PrometheusRecorder) IncGateAllowed() {
	r.gateAllowed.Inc()
}

// IncGateRejected increments the rejection counter for a reason.
func (r *PrometheusRecorder) IncGateRejected(reason string) {
	r.gateRejected.WithLabelValues(reason).Inc()
}

// ObserveChargeDuration records a charge round-trip duration.
func (r *PrometheusRecorder) ObserveChargeDuration(duration time.Duration) {
	r.chargeDuration.Observe(duration.Seconds())
}

// IncItemCreated increments the item created counter.
func (r *PrometheusRecorder) IncItemCreated() {
	r.itemsTotal.WithLabelValues("create").Inc()
}

// IncItemUpdated increments the item updated counter.
func (r *PrometheusRecorder) IncItemUpdated() {
	r.itemsTotal.WithLabelValues("update").Inc()
}

// IncItemDeleted increments the item deleted counter.
func (r *PrometheusRecorder) IncItemDeleted() {
	r.itemsTotal.WithLabelValues("delete").Inc()
}

// IncRechargeAttempt increments the recharge attempt counter for a status.
func (r *PrometheusRecorder) IncRechargeAttempt(status string) {
	r.rechargeTotal.WithLabelValues(status).Inc()
}

// IncUsageEventPublished increments the usage publish counter for a status.
func (r *PrometheusRecorder) IncUsageEventPublished(status string) {
	r.usagePublished.WithLabelValues(status).Inc()
}

// IncUsageEventProcessed increments the usage processed counter for a status.
func (r *PrometheusRecorder) IncUsageEventProcessed(status string) {
	r.usageProcessed.WithLabelValues(status).Inc()
}

// ObserveUsageBatchSize records the size of a processed batch.
func (r *PrometheusRecorder) ObserveUsageBatchSize(size int) {
	r.usageBatchSize.Observe(float64(size))
}

// SetUsageQueueDepth records the current stream length.
func (r *PrometheusRecorder) SetUsageQueueDepth(depth int64) {
	r.usageQueueDepth.Set(float64(depth))
}
