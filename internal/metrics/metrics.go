package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_requests_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Package store metrics
	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "package_publish_total",
			Help: "Total number of publish attempts",
		},
		[]string{"outcome"}, // created/overwritten/ignored/rejected
	)

	publishBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "package_publish_bytes",
			Help:    "Uploaded archive size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "package_downloads_total",
			Help: "Total number of archive downloads",
		},
		[]string{"package"},
	)

	deletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "package_deletes_total",
			Help: "Total number of package version deletions",
		},
	)

	// Search metrics
	searchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search queries",
		},
	)

	// Auth metrics
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of failed credential checks",
		},
		[]string{"key_type"}, // user or ip
	)

	authDelaySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auth_failure_delay_seconds",
			Help:    "Progressive delay applied before failed-auth responses",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"}, // success/failure
	)
)

// Init initializes the metrics
func Init() error {
	// Register metrics
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		publishTotal,
		publishBytes,
		downloadsTotal,
		deletesTotal,
		searchTotal,
		authFailuresTotal,
		authDelaySeconds,
		loginsTotal,
	)

	return nil
}

// HTTPMetricsMiddleware records HTTP metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)

		return err
	}
}

// RecordPublish records a publish attempt and its outcome
func RecordPublish(outcome string, size int) {
	publishTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		publishBytes.Observe(float64(size))
	}
}

// RecordDownload records an archive download
func RecordDownload(packageID string) {
	downloadsTotal.WithLabelValues(packageID).Inc()
}

// RecordDelete records a package version deletion
func RecordDelete() {
	deletesTotal.Inc()
}

// RecordSearch records a search query
func RecordSearch() {
	searchTotal.Inc()
}

// RecordAuthFailure records a failed credential check
func RecordAuthFailure(keyType string) {
	authFailuresTotal.WithLabelValues(keyType).Inc()
}

// RecordAuthDelay records the progressive delay applied to a request
func RecordAuthDelay(d time.Duration) {
	authDelaySeconds.Observe(d.Seconds())
}

// RecordLogin records a login attempt
func RecordLogin(status string) {
	loginsTotal.WithLabelValues(status).Inc()
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
