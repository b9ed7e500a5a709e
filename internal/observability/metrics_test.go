package observability

import (
	"database/sql"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetrics(t *testing.T) {
	t.Run("counter_increments", func(t *testing.T) {
		c := HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")
		before := testutil.ToFloat64(c)

		c.Inc()
		c.Inc()

		assert.Equal(t, before+2, testutil.ToFloat64(c))
	})

	t.Run("histogram_accepts_observations", func(t *testing.T) {
		HTTPRequestDuration.WithLabelValues("GET", "/ws/rooms/{roomID}", "101").Observe(0.05)
		assert.GreaterOrEqual(t, testutil.CollectAndCount(HTTPRequestDuration), 1)
	})
}

func TestWebSocketConnectionsActive(t *testing.T) {
	g := WebSocketConnectionsActive.WithLabelValues("metrics-test-room")
	g.Set(0)

	g.Inc()
	g.Inc()
	g.Dec()

	assert.Equal(t, float64(1), testutil.ToFloat64(g))
}

func TestRelayCounters(t *testing.T) {
	tests := []struct {
		name    string
		counter prometheus.Counter
	}{
		{"admission_admitted", AdmissionsTotal.WithLabelValues("admitted")},
		{"admission_forbidden", AdmissionsTotal.WithLabelValues("forbidden")},
		{"session_error_malformed", SessionErrorsTotal.WithLabelValues("malformed_input")},
		{"eviction_removed", EvictionsTotal.WithLabelValues("removed")},
		{"eviction_slow_consumer", EvictionsTotal.WithLabelValues("slow_consumer")},
		{"broker_ack", BrokerDeliveriesTotal.WithLabelValues("rooms", "ack")},
		{"dropped", DeliveriesDropped},
		{"messages_sent", WebSocketMessagesSent.WithLabelValues("1", "chat_message")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.counter)
			tt.counter.Inc()
			assert.Equal(t, before+1, testutil.ToFloat64(tt.counter))
		})
	}
}

func TestDBGauges(t *testing.T) {
	RecordDBStats(sql.DBStats{OpenConnections: 10, InUse: 4, Idle: 6})

	assert.Equal(t, float64(10), testutil.ToFloat64(DBConnectionsOpen))
	assert.Equal(t, float64(4), testutil.ToFloat64(DBConnectionsInUse))
	assert.Equal(t, float64(6), testutil.ToFloat64(DBConnectionsIdle))

	DBQueryDuration.WithLabelValues("insert", "messages").Observe(0.002)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(DBQueryDuration), 1)
}

func TestMetricsRegisteredWithDefaultRegistry(t *testing.T) {
	collectors := []prometheus.Collector{
		HTTPRequestDuration,
		HTTPRequestsTotal,
		WebSocketConnectionsActive,
		AdmissionsTotal,
		EvictionsTotal,
		DBConnectionsOpen,
	}

	for _, c := range collectors {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already)
	}
}
