package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Metrics collects the Prometheus metrics exposed by the server.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	voucherWrites   *prometheus.CounterVec
	staleCache      *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_voucher_writes_total",
		Help: "Voucher create, update and delete attempts partitioned by outcome.",
	}, []string{"op", "outcome"})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_cache_invalidation_failures_total",
		Help: "Committed writes whose balance cache version bump failed; cached reads stay stale until their TTL.",
	}, []string{"source"})
	registry.MustRegister(requests, duration, writes, stale)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		voucherWrites:   writes,
		staleCache:      stale,
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency.
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

// ObserveWrite counts a voucher write by outcome.
func (m *Metrics) ObserveWrite(op string, err error) {
	if m == nil {
		return
	}
	m.voucherWrites.WithLabelValues(op, outcome(err)).Inc()
}

// Invalidator is a read cache that can be dropped after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CountInvalidations wraps inner so that every failed invalidation is counted under source.
func (m *Metrics) CountInvalidations(source string, inner Invalidator) Invalidator {
	return countedInvalidator{source: source, inner: inner, metrics: m}
}

type countedInvalidator struct {
	source  string
	inner   Invalidator
	metrics *Metrics
}

func (c countedInvalidator) Invalidate(ctx context.Context) error {
	if c.inner == nil {
		return nil
	}
	err := c.inner.Invalidate(ctx)
	if err != nil && c.metrics != nil {
		c.metrics.staleCache.WithLabelValues(c.source).Inc()
	}
	return err
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
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
