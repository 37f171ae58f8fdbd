// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	conversionsTotal    *prometheus.CounterVec
	conversionDuration  prometheus.Histogram
	stageDuration       *prometheus.HistogramVec
	rowsDumpedTotal     prometheus.Counter
	pageFetchesTotal    *prometheus.CounterVec
	prunesTotal         *prometheus.CounterVec
	scratchFiles        prometheus.Gauge
	scratchBytes        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "efflux"
	}

	return &Collector{
		conversionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of output conversions",
			},
			[]string{"format", "status"},
		),

		conversionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conversion_duration_seconds",
				Help:      "End-to-end conversion request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),

		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		),

		rowsDumpedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dumped_total",
				Help:      "Total rows written to staged datasets",
			},
		),

		pageFetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_fetches_total",
				Help:      "Total row source page fetches",
			},
			[]string{"status"},
		),

		prunesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prunes_total",
				Help:      "Total prune operations",
			},
			[]string{"status"},
		),

		scratchFiles: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scratch_files",
				Help:      "Files currently on the scratch root",
			},
		),

		scratchBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scratch_bytes",
				Help:      "Bytes currently on the scratch root",
			},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
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

// IncConversions increments the per-format conversion counter.
func (c *Collector) IncConversions(format string, success bool) {
	c.conversionsTotal.WithLabelValues(format, statusLabel(success)).Inc()
}

// ObserveConversionDuration records the end-to-end request duration.
func (c *Collector) ObserveConversionDuration(duration time.Duration) {
	c.conversionDuration.Observe(duration.Seconds())
}

// ObserveStageDuration records the duration of one pipeline stage.
func (c *Collector) ObserveStageDuration(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// AddRowsDumped counts rows written to the staged dataset.
func (c *Collector) AddRowsDumped(n int) {
	c.rowsDumpedTotal.Add(float64(n))
}

// IncPageFetches increments the row source page counter.
func (c *Collector) IncPageFetches(success bool) {
	c.pageFetchesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// IncPrunes increments the prune counter.
func (c *Collector) IncPrunes(success bool) {
	c.prunesTotal.WithLabelValues(statusLabel(success)).Inc()
}

// SetScratchUsage sets the scratch root artifact count and byte size.
func (c *Collector) SetScratchUsage(files int, bytes int64) {
	c.scratchFiles.Set(float64(files))
	c.scratchBytes.Set(float64(bytes))
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		c.IncHTTPRequests(r.Method, path, status)
		c.ObserveHTTPDuration(r.Method, path, duration)
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

// normalizePath normalizes the URL path for metrics.
func normalizePath(path string) string {
	// Replace long dynamic segments to keep cardinality bounded
	switch {
	case len(path) > 32:
		return path[:32] + "..."
	default:
		return path
	}
}
