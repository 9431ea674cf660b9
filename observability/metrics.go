package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics
)

// API returns the lazily-initialised registry recording hub HTTP API activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "randhub",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total hub API requests segmented by route group, route and outcome.",
			}, []string{"group", "route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "randhub",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total hub API errors segmented by route group, route and status code.",
			}, []string{"group", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "randhub",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for hub API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"group", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "randhub",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of hub API requests rejected by rate limits.",
			}, []string{"group", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(group, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(group, route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(group, route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(group, route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied group and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *apiMetrics) RecordThrottle(group, reason string) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(group, reason).Inc()
}
