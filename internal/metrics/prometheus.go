// Package metrics provides Prometheus metrics for the ad engine
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	WrapperDepth       prometheus.Histogram
	PodSize            prometheus.Histogram
	VASTErrors         *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge

	// Fetch metrics
	FetchesTotal        *prometheus.CounterVec
	FetchLatency        prometheus.Histogram
	FetchCircuitState   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	FetchCircuitChanges *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec

	// Tracking metrics
	PingsTotal *prometheus.CounterVec

	// Playback metrics
	PlaybackTransitions *prometheus.CounterVec
	InteractiveTimeouts *prometheus.CounterVec

	// Security metrics
	AuthFailures prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the Prometheus default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vastplayer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of ad tag resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Time to resolve a tag down to inline ads",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
			},
		),
		WrapperDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wrapper_depth",
				Help:      "Deepest wrapper chain seen per resolution",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 7, 10, 15},
			},
		),
		PodSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pod_size",
				Help:      "Number of playable members per assembled pod",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),
		VASTErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vast_errors_total",
				Help:      "VAST errors reported by code",
			},
			[]string{"code"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Resolution sessions whose chain registry is still live",
			},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of VAST document fetches",
			},
			[]string{"status"},
		),
		FetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_latency_seconds",
				Help:      "VAST document fetch latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
		),
		FetchCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetch_circuit_state",
				Help:      "Fetch circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		FetchCircuitChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_circuit_state_changes_total",
				Help:      "Fetch circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Document cache lookups by result",
			},
			[]string{"result"},
		),

		PingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_pings_total",
				Help:      "Tracking pings sent by event and status",
			},
			[]string{"event", "status"},
		),

		PlaybackTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playback_transitions_total",
				Help:      "Ad playback state transitions",
			},
			[]string{"from", "to"},
		),
		InteractiveTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interactive_timeouts_total",
				Help:      "Interactive ad unit timer expiries by timer",
			},
			[]string{"timer"},
		),

		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Requests rejected for a missing or invalid API key",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.WrapperDepth,
		m.PodSize,
		m.VASTErrors,
		m.ActiveSessions,
		m.FetchesTotal,
		m.FetchLatency,
		m.FetchCircuitState,
		m.FetchCircuitChanges,
		m.CacheLookups,
		m.PingsTotal,
		m.PlaybackTransitions,
		m.InteractiveTimeouts,
		m.AuthFailures,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler serving the given gatherer
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// normalizePath normalizes URL paths to prevent cardinality explosion
func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	switch path {
	case "/api/v1/resolve":
		return "/api/v1/resolve"
	case "/api/v1/schedule":
		return "/api/v1/schedule"
	case "/health", "/healthz":
		return "/health"
	case "/metrics":
		return "/metrics"
	case "", "/":
		return "/"
	}

	if strings.HasPrefix(path, "/api/") {
		return "/api/*"
	}
	return "/other"
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)
		route := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordResolution records one finished tag resolution
func (m *Metrics) RecordResolution(outcome string, duration time.Duration, maxDepth int) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.Observe(duration.Seconds())
	m.WrapperDepth.Observe(float64(maxDepth))
}

// RecordPodSize records the number of members of an assembled pod
func (m *Metrics) RecordPodSize(size int) {
	if m == nil {
		return
	}
	m.PodSize.Observe(float64(size))
}

// RecordVASTError records an error reported with a VAST error code
func (m *Metrics) RecordVASTError(code int) {
	if m == nil {
		return
	}
	m.VASTErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// SetActiveSessions sets the number of live resolution sessions
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordFetch records a document fetch
func (m *Metrics) RecordFetch(status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(status).Inc()
	m.FetchLatency.Observe(latency.Seconds())
}

// RecordCacheLookup records a document cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// SetFetchCircuitState sets the fetch circuit breaker state metric
func (m *Metrics) SetFetchCircuitState(state string) {
	if m == nil {
		return
	}
	var value float64
	switch state {
	case "closed":
		value = 0
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	m.FetchCircuitState.Set(value)
}

// RecordFetchCircuitStateChange records a state change in the fetch circuit breaker
func (m *Metrics) RecordFetchCircuitStateChange(fromState, toState string) {
	if m == nil {
		return
	}
	m.FetchCircuitChanges.WithLabelValues(fromState, toState).Inc()
	m.SetFetchCircuitState(toState)
}

// RecordPing records one tracking ping
func (m *Metrics) RecordPing(event string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.PingsTotal.WithLabelValues(event, status).Inc()
}

// RecordTransition records a playback state transition
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.PlaybackTransitions.WithLabelValues(from, to).Inc()
}

// RecordInteractiveTimeout records an interactive unit timer expiry
func (m *Metrics) RecordInteractiveTimeout(timer string) {
	if m == nil {
		return
	}
	m.InteractiveTimeouts.WithLabelValues(timer).Inc()
}

// IncAuthFailures records a rejected API key
func (m *Metrics) IncAuthFailures() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}
