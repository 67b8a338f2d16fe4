// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	splitLevels         *prometheus.CounterVec
	cellsFetched        *prometheus.CounterVec
	fallbackAttempts    *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	jobs                *prometheus.CounterVec
	boundariesLoaded    prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered with
// reg. A nil reg uses the default registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "geofetch"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		splitLevels: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "split_levels_total",
				Help:      "Split levels attempted, by split count and outcome",
			},
			[]string{"split_count", "outcome"},
		),

		cellsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cells_fetched_total",
				Help:      "Raster cells downloaded",
			},
			[]string{"band"},
		),

		fallbackAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_attempts_total",
				Help:      "Parameter fallback attempts, by product and outcome",
			},
			[]string{"product", "outcome"},
		),

		// Exports of large areas take minutes.
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Fetch duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind"},
		),

		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Finished jobs, by kind and status",
			},
			[]string{"kind", "status"},
		),

		boundariesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "boundaries_loaded",
				Help:      "Number of loaded boundaries",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncSplitLevel counts a split level attempt.
func (c *Collector) IncSplitLevel(splitCount int, outcome string) {
	c.splitLevels.WithLabelValues(strconv.Itoa(splitCount), outcome).Inc()
}

// IncCellsFetched counts downloaded cells.
func (c *Collector) IncCellsFetched(band string, count int) {
	c.cellsFetched.WithLabelValues(band).Add(float64(count))
}

// IncFallbackAttempt counts one fallback attempt.
func (c *Collector) IncFallbackAttempt(product string, outcome string) {
	c.fallbackAttempts.WithLabelValues(product, outcome).Inc()
}

// ObserveFetchDuration records a fetch duration.
func (c *Collector) ObserveFetchDuration(kind string, duration time.Duration) {
	c.fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncJobs counts a finished job.
func (c *Collector) IncJobs(kind string, success bool) {
	c.jobs.WithLabelValues(kind, status(success)).Inc()
}

// SetBoundariesLoaded sets the number of loaded boundaries.
func (c *Collector) SetBoundariesLoaded(count int) {
	c.boundariesLoaded.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, status(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and durations. It is meant to be used
// as a mux middleware so requests are labeled by route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routeTemplate(r)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, statusClass(wrapped.statusCode)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// routeTemplate returns the matched route template, keeping job IDs out of
// the label values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusClass converts an HTTP status code to its class.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
