package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	storageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "operation", "result"},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage backend operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	storageBackendsInitialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_backends_initialized_total",
			Help: "Number of backend instances created by the factory",
		},
		[]string{"backend"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

// RecordStorageOperation counts one backend call. result is "ok" or the
// failure's error code.
func RecordStorageOperation(backend, operation, result string, duration time.Duration) {
	storageOperations.WithLabelValues(backend, operation, result).Inc()
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func RecordBackendInitialized(backend string) {
	storageBackendsInitialized.WithLabelValues(backend).Inc()
}

// HTTPRequestCount is exposed for tests.
func HTTPRequestCount(method, path string, status int) prometheus.Counter {
	return httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status))
}

// StorageOperationCount is exposed for tests.
func StorageOperationCount(backend, operation, result string) prometheus.Counter {
	return storageOperations.WithLabelValues(backend, operation, result)
}

// NormalizePath maps a request path onto one of the server's routes so
// label cardinality stays bounded. Anything unrouted is reported as "other".
func NormalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/files/"):
		return "/files/:key"
	case path == "/health", path == "/metrics":
		return path
	default:
		return "other"
	}
}
