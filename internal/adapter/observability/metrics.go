package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fairyhunter13/social-inbox/internal/domain"
)

var (
	metricsOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamRequestDuration *prometheus.HistogramVec
	upstreamRequestsTotal   *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	tasksProcessedTotal *prometheus.CounterVec
)

// InitMetrics registers all Prometheus collectors once per process.
func InitMetrics() {
	metricsOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"})
		httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"})

		upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Aggregator request latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"})
		upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Aggregator requests by operation and outcome.",
		}, []string{"operation", "outcome"})

		circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit state per platform (0 closed, 1 half-open, 2 open).",
		}, []string{"circuit"})

		tasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_tasks_processed_total",
			Help: "Outbox tasks processed by code and outcome.",
		}, []string{"code", "outcome"})
	})
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(route, method string, status int, dur time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// ObserveUpstreamRequest records one aggregator call.
func ObserveUpstreamRequest(operation, outcome string, dur time.Duration) {
	if upstreamRequestsTotal == nil {
		return
	}
	upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(operation).Observe(dur.Seconds())
}

// RecordCircuitState exposes the breaker state as a gauge.
func RecordCircuitState(circuit string, state domain.BreakerState) {
	if circuitBreakerState == nil {
		return
	}
	var v float64
	switch state {
	case domain.BreakerHalfOpen:
		v = 1
	case domain.BreakerOpen:
		v = 2
	}
	circuitBreakerState.WithLabelValues(circuit).Set(v)
}

// RecordTaskProcessed counts one outbox task outcome.
func RecordTaskProcessed(code domain.TaskCode, outcome string) {
	if tasksProcessedTotal == nil {
		return
	}
	tasksProcessedTotal.WithLabelValues(string(code), outcome).Inc()
}

// statusWriter captures the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latency per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		ObserveHTTPRequest(r.URL.Path, r.Method, sw.status, time.Since(start))
	})
}
