package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "iot"

// Metrics collects all application metrics.
type Metrics struct {
	// Session metrics
	publishes  *prometheus.CounterVec
	rotations  *prometheus.CounterVec
	backingOff prometheus.Gauge
	backoff    prometheus.Gauge
	queueDepth prometheus.Gauge

	// Relay metrics
	commands       *prometheus.CounterVec
	commandLatency prometheus.Histogram

	// Ingest metrics
	records *prometheus.CounterVec

	// HTTP metrics
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.initSessionMetrics(namespace)
	m.initRelayMetrics(namespace)
	m.initIngestMetrics(namespace)
	m.initHTTPMetrics(namespace)

	m.registry.MustRegister(
		m.publishes,
		m.rotations,
		m.backingOff,
		m.backoff,
		m.queueDepth,
		m.commands,
		m.commandLatency,
		m.records,
		m.requests,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) initSessionMetrics(namespace string) {
	m.publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "publishes_total",
			Help:      "Device publishes by outcome",
		},
		[]string{"result"},
	)

	m.rotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rotations_total",
			Help:      "Token rotations by outcome",
		},
		[]string{"outcome"},
	)

	m.backingOff = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "backing_off",
			Help:      "1 while publishes are delayed by backoff",
		},
	)

	m.backoff = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "backoff_seconds",
			Help:      "Current backoff before jitter",
		},
	)

	m.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "queue_depth",
			Help:      "Publishes scheduled but not yet sent",
		},
	)
}

func (m *Metrics) initRelayMetrics(namespace string) {
	m.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "commands_total",
			Help:      "Commands relayed to the device manager by outcome",
		},
		[]string{"outcome"},
	)

	m.commandLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "command_duration_seconds",
			Help:      "Device manager call latency",
			Buckets:   prometheus.DefBuckets,
		},
	)
}

func (m *Metrics) initIngestMetrics(namespace string) {
	m.records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Telemetry records received by outcome",
		},
		[]string{"result"},
	)
}

func (m *Metrics) initHTTPMetrics(namespace string) {
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// PublishResult counts one publish outcome.
func (m *Metrics) PublishResult(result string) {
	m.publishes.WithLabelValues(result).Inc()
}

// Rotation counts one token rotation attempt.
func (m *Metrics) Rotation(ok bool) {
	m.rotations.WithLabelValues(outcome(ok)).Inc()
}

// Backoff records the current pacing state.
func (m *Metrics) Backoff(backingOff bool, backoff time.Duration) {
	if backingOff {
		m.backingOff.Set(1)
	} else {
		m.backingOff.Set(0)
	}
	m.backoff.Set(backoff.Seconds())
}

// QueueDepth records the number of pending publishes.
func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// CommandRelayed counts one device manager call and its latency.
func (m *Metrics) CommandRelayed(ok bool, elapsed time.Duration) {
	m.commands.WithLabelValues(outcome(ok)).Inc()
	m.commandLatency.Observe(elapsed.Seconds())
}

// RecordIngested counts one telemetry record outcome.
func (m *Metrics) RecordIngested(result string) {
	m.records.WithLabelValues(result).Inc()
}

// RequestObserved counts one HTTP request.
func (m *Metrics) RequestObserved(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
