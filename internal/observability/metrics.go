package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-iam/aegis/internal/platform/resilience"
)

// Metrics collects Prometheus metrics for the resolver.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	checkDuration      *prometheus.HistogramVec
	checksTotal        *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	invalidations      *prometheus.CounterVec
	breakerState       prometheus.Gauge
	breakerTransitions *prometheus.CounterVec
	storeAlerts        prometheus.Counter
}

// NewMetrics initialises the registry and all resolver metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	checkDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aegis_check_duration_seconds",
		Help:    "Permission check latency per resource.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"resource"})
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_checks_total",
		Help: "Permission check decisions by resource and result.",
	}, []string{"resource", "result"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_cache_lookups_total",
		Help: "Cache lookups by tier, resource and outcome.",
	}, []string{"tier", "resource", "outcome"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_cache_invalidations_total",
		Help: "Invalidation messages processed by type.",
	}, []string{"type"})
	breakerState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_store_breaker_state",
		Help: "Permission store breaker state (0 closed, 1 open, 2 half-open).",
	})
	breakerTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_store_breaker_transitions_total",
		Help: "Breaker state transitions.",
	}, []string{"from", "to"})
	storeAlerts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_store_unavailable_total",
		Help: "Checks resolved to deny because the permission store was unreachable.",
	})
	registry.MustRegister(requests, duration, checkDuration, checks, cacheLookups, invalidations, breakerState, breakerTransitions, storeAlerts)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		checkDuration:      checkDuration,
		checksTotal:        checks,
		cacheLookups:       cacheLookups,
		invalidations:      invalidations,
		breakerState:       breakerState,
		breakerTransitions: breakerTransitions,
		storeAlerts:        storeAlerts,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveCheck records one resolved permission check.
func (m *Metrics) ObserveCheck(resource string, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.checksTotal.WithLabelValues(resource, result).Inc()
	m.checkDuration.WithLabelValues(resource).Observe(elapsed.Seconds())
}

// CacheLookup records a hit or miss for the given tier.
func (m *Metrics) CacheLookup(tier, resource string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, resource, outcome).Inc()
}

// Invalidation records a processed invalidation message.
func (m *Metrics) Invalidation(kind string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(kind).Inc()
}

// BreakerTransition records a breaker state change and updates the gauge.
func (m *Metrics) BreakerTransition(from, to resilience.State) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.breakerState.Set(float64(to))
}

// StoreUnavailable records a fail-closed denial for operator alerting.
func (m *Metrics) StoreUnavailable() {
	if m == nil {
		return
	}
	m.storeAlerts.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
