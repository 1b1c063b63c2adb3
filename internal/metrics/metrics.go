// Package metrics exposes Prometheus collectors for reservations, the change
// broadcaster and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationAttempts counts sign-up attempts by outcome (ok or the error code).
	ReservationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_attempts_total",
			Help: "Total number of volunteer sign-up attempts",
		},
		[]string{"outcome"},
	)

	// ServiceMutations counts committed service and volunteer mutations.
	ServiceMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_mutations_total",
			Help: "Total number of committed mutations",
		},
		[]string{"operation"},
	)

	// BroadcastEvents counts events delivered by the hub dispatcher.
	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_total",
			Help: "Total number of change events dispatched to observers",
		},
		[]string{"type"},
	)

	// BroadcastDropped counts events dropped because the hub queue was full.
	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Total number of change events dropped on a full queue",
		},
	)

	// ConnectedObservers is the number of websocket observers on this instance.
	ConnectedObservers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_connected_observers",
			Help: "Number of connected websocket observers",
		},
	)

	// ObserverEvictions counts observers disconnected for falling behind.
	ObserverEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_observer_evictions_total",
			Help: "Total number of slow observers disconnected",
		},
	)

	// HTTPRequestDuration tracks request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordReservation records one sign-up attempt.
func RecordReservation(outcome string) {
	ReservationAttempts.WithLabelValues(outcome).Inc()
}

// RecordMutation records one committed mutation.
func RecordMutation(operation string) {
	ServiceMutations.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records the latency of one request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
