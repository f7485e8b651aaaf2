package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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
)

// Ranked collection metrics
var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranked_operations_total",
			Help: "Ranked collection operations by kind, operation and outcome.",
		},
		[]string{"kind", "op", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranked_operation_duration_seconds",
			Help:    "Latency of ranked collection transactions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "op"},
	)

	dependentsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranked_dependents_moved_total",
			Help: "Dependents re-parented by ownership transfer.",
		},
		[]string{"kind", "collection"},
	)

	dependentsCascaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranked_dependents_cascaded_total",
			Help: "Dependents destroyed together with their owner.",
		},
		[]string{"kind", "collection"},
	)
)

var initOnce sync.Once

// Init registers every collector in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			operationsTotal, operationDuration, dependentsMoved, dependentsCascaded,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records one ranked transaction.
func ObserveOperation(kind, op, outcome string, d time.Duration) {
	operationsTotal.WithLabelValues(kind, op, outcome).Inc()
	operationDuration.WithLabelValues(kind, op).Observe(d.Seconds())
}

func DependentsMoved(kind, collection string, n int) {
	if n > 0 {
		dependentsMoved.WithLabelValues(kind, collection).Add(float64(n))
	}
}

func DependentsCascaded(kind, collection string, n int) {
	if n > 0 {
		dependentsCascaded.WithLabelValues(kind, collection).Add(float64(n))
	}
}

// Instrument measures rate, latency and in-flight requests.
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

// CanonicalPath collapses entity ids so that path labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || (parts[1] != "roles" && parts[1] != "boards") {
		return raw
	}
	switch {
	case len(parts) == 3 && parts[2] == "batch":
		return raw
	case len(parts) == 3:
		return "/v1/" + parts[1] + "/:id"
	case len(parts) == 4 && parts[3] == "move":
		return "/v1/" + parts[1] + "/:id/move"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
