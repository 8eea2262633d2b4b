// Package metrics provides Prometheus metrics export for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports bridge metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Inbound update metrics
	updatesTotal   prometheus.Counter
	updatesDropped *prometheus.CounterVec
	routedTotal    *prometheus.CounterVec

	// Worker delivery metrics
	sendsTotal *prometheus.CounterVec

	// Response pipeline metrics
	responsesTotal  *prometheus.CounterVec
	responseChunks  prometheus.Counter
	responseLatency prometheus.Histogram

	// Transport and media metrics
	transportErrors *prometheus.CounterVec
	mediaTotal      *prometheus.CounterVec

	workers prometheus.Gauge
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the response latency histogram (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.updatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "updates_total",
			Help:      "Total webhook updates received",
		},
	)

	e.updatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "updates_dropped_total",
			Help:      "Updates dropped before routing",
		},
		[]string{"reason"},
	)

	e.routedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "routed_total",
			Help:      "Messages routed, by route taken",
		},
		[]string{"route"},
	)

	e.sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "worker_sends_total",
			Help:      "Text deliveries into worker sessions",
		},
		[]string{"status"},
	)

	e.responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "responses_total",
			Help:      "Worker responses handled, by outcome",
		},
		[]string{"status"},
	)

	e.responseChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "response_chunks_total",
			Help:      "Chat messages emitted for chunked responses",
		},
	)

	e.responseLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "response_latency_seconds",
			Help:      "Time to deliver a worker response to chat",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "transport_errors_total",
			Help:      "Chat platform API failures, by operation",
		},
		[]string{"op"},
	)

	e.mediaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "media_total",
			Help:      "Media transfers, by direction and outcome",
		},
		[]string{"direction", "status"},
	)

	e.workers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crewmux",
			Subsystem: "bridge",
			Name:      "workers",
			Help:      "Live worker sessions",
		},
	)

	registry.MustRegister(
		e.updatesTotal,
		e.updatesDropped,
		e.routedTotal,
		e.sendsTotal,
		e.responsesTotal,
		e.responseChunks,
		e.responseLatency,
		e.transportErrors,
		e.mediaTotal,
		e.workers,
	)

	return e
}

// RecordUpdate counts one received webhook update.
func (e *Exporter) RecordUpdate() {
	e.updatesTotal.Inc()
}

// RecordDrop counts an update dropped before routing.
func (e *Exporter) RecordDrop(reason string) {
	e.updatesDropped.WithLabelValues(reason).Inc()
}

// RecordRoute counts a routed message.
func (e *Exporter) RecordRoute(route string) {
	e.routedTotal.WithLabelValues(route).Inc()
}

// RecordSend counts one delivery into a worker session.
func (e *Exporter) RecordSend(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.sendsTotal.WithLabelValues(status).Inc()
}

// RecordResponse counts a handled worker response and its delivery latency.
func (e *Exporter) RecordResponse(status string, latency time.Duration) {
	e.responsesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		e.responseLatency.Observe(latency.Seconds())
	}
}

// RecordChunks counts chat messages emitted for one response.
func (e *Exporter) RecordChunks(n int) {
	e.responseChunks.Add(float64(n))
}

// RecordTransportError counts a chat platform API failure.
func (e *Exporter) RecordTransportError(op string) {
	e.transportErrors.WithLabelValues(op).Inc()
}

// RecordMedia counts a media transfer.
func (e *Exporter) RecordMedia(direction string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.mediaTotal.WithLabelValues(direction, status).Inc()
}

// SetWorkers sets the live worker gauge.
func (e *Exporter) SetWorkers(count int) {
	e.workers.Set(float64(count))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
