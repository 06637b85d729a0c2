package relayq

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the delivery lifecycle
// and reliability layers. It is safe for concurrent use; every recorder is
// nil-receiver safe so instrumentation stays optional.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	queueDepth *prometheus.GaugeVec

	dedupTotal *prometheus.CounterVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	persistenceFailures *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, letting embedders isolate or namespace the metric set.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayq_requests_total",
				Help: "Total number of settled delivery requests",
			},
			[]string{"operation", "status"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayq_request_duration_seconds",
				Help:    "Duration from dispatch to settlement in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		requestsInFlight: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "relayq_requests_in_flight",
				Help: "Number of requests currently dispatched or awaiting retry",
			},
		),
		queueDepth: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayq_queue_depth",
				Help: "Pending requests per priority lane",
			},
			[]string{"lane"},
		),
		dedupTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayq_dedup_total",
				Help: "Requests merged into an existing pending or in-flight entry",
			},
			[]string{"scope", "operation"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayq_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"operation", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayq_circuit_breaker_state",
				Help: "Current breaker state per target (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayq_errors_total",
				Help: "Terminal failures by classification code",
			},
			[]string{"code", "operation"},
		),
		persistenceFailures: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayq_persistence_failures_total",
				Help: "Swallowed queue snapshot save/restore failures",
			},
			[]string{"op"},
		),
		registerer: registry,
	}

	return mc
}

// RecordRequest records a settlement with its measured duration.
func (mc *MetricsCollector) RecordRequest(operation, status string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(operation, status).Inc()
	mc.requestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordDispatchStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordDispatchStart() {
	if mc == nil {
		return
	}

	mc.requestsInFlight.Inc()
}

// RecordDispatchEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordDispatchEnd() {
	if mc == nil {
		return
	}

	mc.requestsInFlight.Dec()
}

// RecordQueueDepth sets the per-lane depth gauges.
func (mc *MetricsCollector) RecordQueueDepth(high, normal, low int) {
	if mc == nil {
		return
	}

	mc.queueDepth.WithLabelValues("high").Set(float64(high))
	mc.queueDepth.WithLabelValues("normal").Set(float64(normal))
	mc.queueDepth.WithLabelValues("low").Set(float64(low))
}

// RecordDedup increments the dedup counter. scope is "queue" for pending
// merges and "inflight" for coalesced concurrent submissions.
func (mc *MetricsCollector) RecordDedup(scope, operation string) {
	if mc == nil {
		return
	}

	mc.dedupTotal.WithLabelValues(scope, operation).Inc()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(operation string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the breaker state gauge for a target.
func (mc *MetricsCollector) RecordCircuitBreakerState(target string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(target).Set(stateValue)
}

// RecordError increments the terminal error counter by classification code.
func (mc *MetricsCollector) RecordError(code, operation string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(code, operation).Inc()
}

// RecordPersistenceFailure counts a swallowed snapshot failure.
func (mc *MetricsCollector) RecordPersistenceFailure(op string) {
	if mc == nil {
		return
	}

	mc.persistenceFailures.WithLabelValues(op).Inc()
}
