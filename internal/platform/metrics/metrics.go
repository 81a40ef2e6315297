package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the RTSP server.
// All methods are safe on a nil receiver so callers can disable metrics
// by passing nil.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	sessionsOpenedTotal   prometheus.Counter
	sessionsClosedTotal   prometheus.Counter
	instancesStartedTotal prometheus.Counter
	instancesStoppedTotal prometheus.Counter
	engineErrorsTotal     *prometheus.CounterVec
	activeSessions        prometheus.Gauge
	activeInstances       prometheus.Gauge
	mounts                prometheus.Gauge
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_api_requests_total",
			Help: "Total number of operator HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtsp_api_request_duration_seconds",
			Help:    "Operator HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_sessions_opened_total",
			Help: "Total number of client sessions bound to a pipeline instance",
		}),
		sessionsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_sessions_closed_total",
			Help: "Total number of client sessions closed",
		}),
		instancesStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_instances_started_total",
			Help: "Total number of pipeline instances instantiated by the engine",
		}),
		instancesStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtsp_instances_stopped_total",
			Help: "Total number of pipeline instances torn down",
		}),
		engineErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtsp_engine_errors_total",
			Help: "Total number of engine failures by operation",
		}, []string{"op"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_active_sessions",
			Help: "Number of client sessions currently open",
		}),
		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_active_instances",
			Help: "Number of pipeline instances currently running",
		}),
		mounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtsp_mounts",
			Help: "Number of registered mount points",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.sessionsOpenedTotal,
		m.sessionsClosedTotal,
		m.instancesStartedTotal,
		m.instancesStoppedTotal,
		m.engineErrorsTotal,
		m.activeSessions,
		m.activeInstances,
		m.mounts,
	)

	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one operator request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// IncSessionsOpened increments the opened sessions counter.
func (m *Metrics) IncSessionsOpened() {
	if m != nil {
		m.sessionsOpenedTotal.Inc()
	}
}

// IncSessionsClosed increments the closed sessions counter.
func (m *Metrics) IncSessionsClosed() {
	if m != nil {
		m.sessionsClosedTotal.Inc()
	}
}

// IncInstancesStarted increments the started instances counter.
func (m *Metrics) IncInstancesStarted() {
	if m != nil {
		m.instancesStartedTotal.Inc()
	}
}

// IncInstancesStopped increments the stopped instances counter.
func (m *Metrics) IncInstancesStopped() {
	if m != nil {
		m.instancesStoppedTotal.Inc()
	}
}

// IncEngineErrors increments the engine error counter for op
// ("validate", "instantiate" or "teardown").
func (m *Metrics) IncEngineErrors(op string) {
	if m != nil {
		m.engineErrorsTotal.WithLabelValues(op).Inc()
	}
}

// SetGauges sets the active sessions, active instances and mounts gauges.
func (m *Metrics) SetGauges(sessions, instances, mounts int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(sessions))
	m.activeInstances.Set(float64(instances))
	m.mounts.Set(float64(mounts))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
