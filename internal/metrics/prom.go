package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "crashguard", Subsystem: "engine", Name: "events_total", Help: "Total crash events processed by the worker."},
	)
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "crashguard", Subsystem: "engine", Name: "events_dropped_total", Help: "Queued events evicted by backpressure before processing."},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "crashguard", Subsystem: "alerts", Name: "dispatched_total", Help: "Alerts dispatched by type and level."},
		[]string{"type", "level"},
	)
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "crashguard", Subsystem: "alerts", Name: "rate_limited_total", Help: "Candidate alerts suppressed by the rate limiter."},
	)
	AggregatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "crashguard", Subsystem: "alerts", Name: "aggregated_total", Help: "Candidate alerts buffered for aggregation."},
	)
	ActivePatterns = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "crashguard", Subsystem: "engine", Name: "active_patterns", Help: "Patterns currently in the active registry."},
	)
	BufferedEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "crashguard", Subsystem: "engine", Name: "buffered_events", Help: "Events in the bounded event buffer."},
	)
)

func init() {
	_ = prometheus.Register(EventsTotal)
	_ = prometheus.Register(EventsDropped)
	_ = prometheus.Register(AlertsTotal)
	_ = prometheus.Register(RateLimitedTotal)
	_ = prometheus.Register(AggregatedTotal)
	_ = prometheus.Register(ActivePatterns)
	_ = prometheus.Register(BufferedEvents)
}

// PromHandler exposes the default registry for the API's /metrics endpoint.
func PromHandler() http.Handler {
	return promhttp.Handler()
}
