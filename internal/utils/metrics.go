package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "gator_chat"

// MetricsCollector tracks performance and protocol metrics across the system.
// Each collector owns its registry so several can coexist in tests.
type MetricsCollector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	errors         *prometheus.CounterVec
	operationTimes *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	online         prometheus.Gauge
	typing         *prometheus.CounterVec

	systemStartTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Inbound events and HTTP requests by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Errors reported to originators by code.",
		}, []string{"code"}),
		operationTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of core operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "message_transitions_total",
			Help:      "Persisted message status transitions by target status.",
		}, []string{"status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "online_identities",
			Help:      "Identities currently bound in the presence registry.",
		}),
		typing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "typing_relays_total",
			Help:      "Typing indicators by relay result.",
		}, []string{"result"}),
		systemStartTime: time.Now(),
	}

	mc.registry.MustRegister(
		mc.requests,
		mc.errors,
		mc.operationTimes,
		mc.transitions,
		mc.deliveries,
		mc.online,
		mc.typing,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mc
}

func (mc *MetricsCollector) IncrementRequests(kind string) {
	mc.requests.WithLabelValues(kind).Inc()
}

func (mc *MetricsCollector) IncrementErrors(code string) {
	mc.errors.WithLabelValues(code).Inc()
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operationTimes.WithLabelValues(operationName).Observe(duration.Seconds())
}

func (mc *MetricsCollector) RecordTransition(status string, count int) {
	if count <= 0 {
		return
	}
	mc.transitions.WithLabelValues(status).Add(float64(count))
}

func (mc *MetricsCollector) RecordDelivery(outcome string) {
	mc.deliveries.WithLabelValues(outcome).Inc()
}

func (mc *MetricsCollector) SetOnline(n int) {
	mc.online.Set(float64(n))
}

func (mc *MetricsCollector) RecordTyping(relayed bool) {
	result := "dropped"
	if relayed {
		result = "relayed"
	}
	mc.typing.WithLabelValues(result).Inc()
}

// Uptime reports how long the collector has existed.
func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}

// Handler exposes the collector's registry in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

// Registry is exposed for tests.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Transitions, Deliveries, Requests and Errors expose the counters to tests
// in other packages.
func (mc *MetricsCollector) Transitions() *prometheus.CounterVec { return mc.transitions }

func (mc *MetricsCollector) Deliveries() *prometheus.CounterVec { return mc.deliveries }

func (mc *MetricsCollector) Requests() *prometheus.CounterVec { return mc.requests }

func (mc *MetricsCollector) Errors() *prometheus.CounterVec { return mc.errors }
