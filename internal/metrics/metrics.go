// Package metrics exposes Prometheus collectors for the betline crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	betlineRequestsTotal          *prometheus.CounterVec
	betlineRequestDurationSeconds *prometheus.HistogramVec
	betlineRetriesTotal           *prometheus.CounterVec
	betlineDegradedTotal          *prometheus.CounterVec
	betlineCircuitRejectionsTotal prometheus.Counter
	betlineCircuitState           prometheus.Gauge
	betlinePacingDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Circuit state values reported by the circuit state gauge.
const (
	CircuitClosed   = 0
	CircuitOpen     = 1
	CircuitHalfOpen = 2
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		betlineRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betline_requests_total",
				Help: "Total number of upstream attempts, labeled by endpoint and status class.",
			},
			[]string{"endpoint", "status_class"},
		)

		betlineRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "betline_request_duration_seconds",
				Help:    "Histogram of upstream attempt latencies, labeled by endpoint.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		betlineRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betline_retries_total",
				Help: "Total number of retried upstream attempts, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		betlineDegradedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betline_degraded_total",
				Help: "Total number of calls that degraded to an empty or absent result, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		betlineCircuitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "betline_circuit_rejections_total",
				Help: "Total number of attempts rejected by the circuit breaker.",
			},
		)

		betlineCircuitState = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "betline_circuit_state",
				Help: "Current circuit breaker state (0 closed, 1 open, 2 half-open).",
			},
		)

		betlinePacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "betline_pacing_delay_seconds",
				Help:    "Histogram of pacing gate wait durations, labeled by stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass buckets an HTTP status into "2xx".."5xx". Zero means no
// response was received and maps to "transport".
func StatusClass(code int) string {
	if code <= 0 {
		return "transport"
	}
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveRequest records one upstream attempt.
func ObserveRequest(endpoint, statusClass string, duration time.Duration) {
	Init()
	betlineRequestsTotal.WithLabelValues(endpoint, statusClass).Inc()
	betlineRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for endpoint.
func ObserveRetry(endpoint string) {
	Init()
	betlineRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveDegraded increments the degrade counter for endpoint.
func ObserveDegraded(endpoint string) {
	Init()
	betlineDegradedTotal.WithLabelValues(endpoint).Inc()
}

// ObserveCircuitRejection increments the circuit rejection counter.
func ObserveCircuitRejection() {
	Init()
	betlineCircuitRejectionsTotal.Inc()
}

// SetCircuitState records the breaker's current state.
func SetCircuitState(state int) {
	Init()
	betlineCircuitState.Set(float64(state))
}

// ObserveRateLimitDelay records the duration of a pacing wait for stage.
func ObserveRateLimitDelay(stage string, duration time.Duration) {
	Init()
	betlinePacingDelaySeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the served HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
