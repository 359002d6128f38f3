package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service passes its readiness probe.",
	})
)

// Domain metrics.
var (
	qrAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qr_generation_attempts_total",
		Help: "Candidate draws performed by the QR identity generator.",
	})

	qrConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qr_generation_conflicts_total",
		Help: "Candidates rejected because the code was already taken.",
	})

	rateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the sliding-window rate limiter.",
		},
		[]string{"pattern"},
	)

	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_scans_total",
			Help: "Public verification page lookups.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		qrAttemptsTotal, qrConflictsTotal, rateLimitRejectionsTotal, scansTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady reflects the readiness probe state in metrics.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// QRAttempt counts one generator draw, and the conflict outcome if any.
func QRAttempt(conflict bool) {
	qrAttemptsTotal.Inc()
	if conflict {
		qrConflictsTotal.Inc()
	}
}

// RateLimitRejected counts a 429 for the given route pattern.
func RateLimitRejected(pattern string) {
	rateLimitRejectionsTotal.WithLabelValues(pattern).Inc()
}

// ScanRecorded counts a verification lookup. Result is "ok" or "unknown_code".
func ScanRecorded(result string) {
	scansTotal.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[1] == "product":
		parts[2] = ":code"
	case len(parts) >= 4 && parts[1] == "v1" && (parts[2] == "products" || parts[2] == "factories" || parts[2] == "users" || parts[2] == "batches"):
		parts[3] = ":id"
	}
	joined := strings.Join(parts, "/")
	if joined == "" {
		return "/"
	}
	return joined
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
