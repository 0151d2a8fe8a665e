package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
	realtimeConnections *prometheus.GaugeVec
	realtimeEventsTotal *prometheus.CounterVec
	realtimeFailures    *prometheus.CounterVec
	realtimeBroadcasts  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		realtimeConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of realtime connections currently registered.",
		}, []string{"transport"})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Inbound realtime events received, by event name.",
		}, []string{"event"})

		realtimeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_event_failures_total",
			Help: "Inbound realtime events whose handler failed.",
		}, []string{"event"})

		realtimeBroadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Outbound realtime broadcasts, by scope.",
		}, []string{"scope"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			realtimeConnections,
			realtimeEventsTotal,
			realtimeFailures,
			realtimeBroadcasts,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// RealtimeConnections exposes the active connection gauge.
func RealtimeConnections() *prometheus.GaugeVec {
	RegisterMetrics()
	return realtimeConnections
}

// RealtimeEvents exposes the inbound event counter.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeFailures exposes the failed handler counter.
func RealtimeFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeFailures
}

// RealtimeBroadcasts exposes the broadcast counter.
func RealtimeBroadcasts() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeBroadcasts
}
