package observability

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
		[]string{"room_id"},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of messages sent via WebSocket",
		},
		[]string{"room_id", "type"},
	)

	// Relay metrics
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_admissions_total",
			Help: "Connection admission decisions by result",
		},
		[]string{"result"}, // admitted, invalid_room, unauthenticated, forbidden
	)

	SessionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_session_errors_total",
			Help: "Recoverable session errors reported to clients, by kind",
		},
		[]string{"kind"},
	)

	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_evictions_total",
			Help: "Sessions forcibly closed, by reason",
		},
		[]string{"reason"}, // removed, blocked, slow_consumer
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_deliveries_dropped_total",
			Help: "Broadcast deliveries dropped because a member queue was full or closed",
		},
	)

	BrokerDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broker_deliveries_total",
			Help: "Messages consumed from the broker, by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordDBStats copies connection pool stats into the DB gauges.
func RecordDBStats(stats sql.DBStats) {
	DBConnectionsOpen.Set(float64(stats.OpenConnections))
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
}
