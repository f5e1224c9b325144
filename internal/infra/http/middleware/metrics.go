package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every series this service exports.
const namespace = "leadmarket"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	inFlightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Requests currently being served.",
	})

	fulfillmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_fulfillments_total",
		Help:      "Fulfillment runs by source and outcome.",
	}, []string{"source", "outcome"})

	leadsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_suppressed_total",
		Help:      "Suppression records written by fulfillment and reconciliation.",
	})

	integrationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "integration_errors_total",
		Help:      "Failed calls to external services.",
	}, []string{"service"})
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlightRequests.Inc()
		defer inFlightRequests.Dec()

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// the pattern is only known after routing
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps order ids out of label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func RecordFulfillment(source, outcome string) {
	fulfillmentsTotal.WithLabelValues(source, outcome).Inc()
}

func RecordLeadsSuppressed(n int) {
	if n > 0 {
		leadsSuppressed.Add(float64(n))
	}
}

func RecordIntegrationError(service string) {
	integrationErrors.WithLabelValues(service).Inc()
}
