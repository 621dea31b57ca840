package launcher

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jrepp/trace-launcher/pkg/ports"
	"github.com/jrepp/trace-launcher/pkg/static"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics receives launcher, port allocation and static serving events.
type Metrics interface {
	ports.Observer
	static.Observer

	// BackendStarted records the time from spawn to readiness (or to giving up).
	BackendStarted(elapsed time.Duration)

	// BackendReady records whether the backend is accepting connections.
	BackendReady(ready bool)

	// BackendExited records how the backend ended.
	BackendExited(reason string)
}

type noopMetrics struct{}

func (noopMetrics) PortAttempt(string)               {}
func (noopMetrics) StaticRequest(int, time.Duration) {}
func (noopMetrics) BackendStarted(time.Duration)     {}
func (noopMetrics) BackendReady(bool)                {}
func (noopMetrics) BackendExited(string)             {}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

// PrometheusMetrics implements Metrics with Prometheus collectors on a
// private registry.
type PrometheusMetrics struct {
	staticRequests *prometheus.CounterVec
	staticDuration prometheus.Histogram

	portAttempts *prometheus.CounterVec

	backendStart prometheus.Histogram
	backendReady prometheus.Gauge
	backendExits *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a Prometheus collector under namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "trace_launcher"
	}

	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
	}

	pm.staticRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "static_requests_total",
			Help:      "Total number of UI file requests by status code",
		},
		[]string{"status"},
	)

	pm.staticDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "static_request_duration_seconds",
			Help:      "Duration of UI file requests",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	pm.portAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_allocation_attempts_total",
			Help:      "Total number of port allocation attempts by result",
		},
		[]string{"result"},
	)

	pm.backendStart = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_start_duration_seconds",
			Help:      "Time from spawning the backend until it accepted connections",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	pm.backendReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_ready",
			Help:      "1 while the backend accepts connections",
		},
	)

	pm.backendExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_exits_total",
			Help:      "Total number of backend exits by reason",
		},
		[]string{"reason"},
	)

	pm.registry.MustRegister(
		pm.staticRequests,
		pm.staticDuration,
		pm.portAttempts,
		pm.backendStart,
		pm.backendReady,
		pm.backendExits,
	)

	return pm
}

// PortAttempt implements ports.Observer.
func (pm *PrometheusMetrics) PortAttempt(result string) {
	pm.portAttempts.WithLabelValues(result).Inc()
}

// StaticRequest implements static.Observer.
func (pm *PrometheusMetrics) StaticRequest(status int, elapsed time.Duration) {
	pm.staticRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	pm.staticDuration.Observe(elapsed.Seconds())
}

// BackendStarted implements Metrics.
func (pm *PrometheusMetrics) BackendStarted(elapsed time.Duration) {
	pm.backendStart.Observe(elapsed.Seconds())
}

// BackendReady implements Metrics.
func (pm *PrometheusMetrics) BackendReady(ready bool) {
	if ready {
		pm.backendReady.Set(1)
		return
	}
	pm.backendReady.Set(0)
}

// BackendExited implements Metrics.
func (pm *PrometheusMetrics) BackendExited(reason string) {
	pm.backendExits.WithLabelValues(reason).Inc()
	pm.backendReady.Set(0)
}

// Registry returns the registry holding all collectors.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
