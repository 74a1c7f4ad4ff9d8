// Package metrics declares all Prometheus collectors for the realtime core,
// grounded on internal/v1/metrics/metrics.go in RoseWrightdev-Video-Conferencing
// (same promauto/namespace-subsystem-name convention, same CounterVec/GaugeVec/
// HistogramVec split by what each metric represents), extended with C7/C9-C16
// collectors (presence, outbound queue depth, DLQ size, mute cache hit rate,
// broadcast fan-out size).
//
// Naming convention: namespace_subsystem_name
// - namespace: realtimecore (application-level grouping)
// - subsystem: connection, room, event, delivery, circuit_breaker, rate_limit, broker, dlq, mute, cleaner (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of attached connections (C7).
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtimecore",
		Subsystem: "connection",
		Name:      "connections_active",
		Help:      "Current number of attached connections",
	})

	// ActiveRooms tracks the current number of rooms with at least one occupant.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtimecore",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one local occupant",
	})

	// RoomOccupants tracks occupant count per room.
	RoomOccupants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "realtimecore",
		Subsystem: "room",
		Name:      "occupants_count",
		Help:      "Number of occupants in each room",
	}, []string{"room_id"})

	// ConnectionEvents tracks connection lifecycle events (connect/disconnect/reject).
	ConnectionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "connection",
		Name:      "events_total",
		Help:      "Total connection lifecycle events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks end-to-end event processing latency.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "realtimecore",
		Subsystem: "event",
		Name:      "processing_duration_seconds",
		Help:      "Time spent processing a domain event end to end",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// OutboundQueueDepth tracks the per-connection outbound queue depth (C9/C10).
	OutboundQueueDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "realtimecore",
		Subsystem: "delivery",
		Name:      "outbound_queue_depth",
		Help:      "Observed depth of a connection's outbound queue at send time",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	}, []string{"policy"})

	// DroppedFrames tracks frames dropped under backpressure (C9/C10).
	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "delivery",
		Name:      "dropped_frames_total",
		Help:      "Total outbound frames dropped due to a full queue",
	}, []string{"event_type"})

	// BroadcastFanoutSize tracks how many players a broadcast targeted (C10).
	BroadcastFanoutSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "realtimecore",
		Subsystem: "delivery",
		Name:      "broadcast_fanout_size",
		Help:      "Number of players targeted by a single broadcast",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
	}, []string{"scope"})

	// CircuitBreakerState tracks circuit breaker state per named dependency.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "realtimecore",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts how many times a circuit breaker has tripped open.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total transitions of the circuit breaker into the open state",
	}, []string{"service"})

	// RateLimitExceeded tracks requests that exceeded a rate limit (C11).
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"scope", "reason"})

	// RateLimitRequests tracks requests checked against a rate limiter (C11).
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"scope"})

	// BrokerOperationsTotal tracks broker client operations (C2).
	BrokerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "broker",
		Name:      "operations_total",
		Help:      "Total number of broker operations",
	}, []string{"operation", "status"})

	// BrokerOperationDuration tracks broker client operation latency (C2).
	BrokerOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "realtimecore",
		Subsystem: "broker",
		Name:      "operation_duration_seconds",
		Help:      "Duration of broker operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// DLQSize tracks the current number of records held in the dead-letter queue (C5).
	DLQSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "realtimecore",
		Subsystem: "dlq",
		Name:      "records_current",
		Help:      "Current number of records held in the dead-letter queue",
	})

	// DLQWrites tracks dead-letter writes by original subject.
	DLQWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "dlq",
		Name:      "writes_total",
		Help:      "Total records appended to the dead-letter queue",
	}, []string{"subject"})

	// MuteCacheHits and MuteCacheMisses track the mute store's TTL cache (C12).
	MuteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "mute",
		Name:      "cache_hits_total",
		Help:      "Total mute-store cache hits",
	})
	MuteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "mute",
		Name:      "cache_misses_total",
		Help:      "Total mute-store cache misses",
	})

	// CleanerSweeps tracks cleaner sweep runs by outcome (C16).
	CleanerSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "realtimecore",
		Subsystem: "cleaner",
		Name:      "sweeps_total",
		Help:      "Total cleaner sweep passes, by what they reaped",
	}, []string{"reaped"})
)

// IncConnection records a connection attach.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a connection detach.
func DecConnection() {
	ActiveConnections.Dec()
}
