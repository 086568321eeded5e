// Package metrics holds the Prometheus collectors of the web front end.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fintrack"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	queryResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "results_total",
			Help:      "Query cache outcomes by resource: hit, miss, coalesced, error, timeout.",
		},
		[]string{"resource", "result"},
	)

	backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Duration of calls to the transactions backend.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"operation", "outcome"},
	)

	visitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "visitors",
			Help:      "Visitor sessions held in memory.",
		},
	)

	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Route guard decisions by route kind and state.",
		},
		[]string{"kind", "state"},
	)

	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "messages_total",
			Help:      "Transaction change events published and consumed.",
		},
		[]string{"direction", "outcome"},
	)

	suspicious = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "suspicious_requests_total",
			Help:      "Requests that looked like probes.",
		},
		[]string{"kind"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		queryResults,
		backendDuration,
		visitors,
		guardDecisions,
		events,
		suspicious,
		rateLimited,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request. route is the matched mux
// pattern, never the raw path.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// QueryResult counts a query cache outcome.
func QueryResult(resource, result string) {
	queryResults.WithLabelValues(resource, result).Inc()
}

// ObserveBackend records a backend call.
func ObserveBackend(operation, outcome string, d time.Duration) {
	backendDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// SetVisitors sets the number of live visitor sessions.
func SetVisitors(n int) {
	visitors.Set(float64(n))
}

// GuardDecision counts a route guard outcome.
func GuardDecision(kind, state string) {
	guardDecisions.WithLabelValues(kind, state).Inc()
}

// Event counts a published or consumed change event.
func Event(direction, outcome string) {
	events.WithLabelValues(direction, outcome).Inc()
}

// Suspicious counts a probing request.
func Suspicious(kind string) {
	suspicious.WithLabelValues(kind).Inc()
}

// RateLimited counts a rejected request.
func RateLimited() {
	rateLimited.Inc()
}
