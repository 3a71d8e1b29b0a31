package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the call coordinator.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	ActiveParticipants prometheus.Gauge

	Joins         prometheus.Counter
	JoinRaces     prometheus.Counter
	Leaves        prometheus.Counter
	SessionsSwept prometheus.Counter

	RelayAuthorized *prometheus.CounterVec
	RelayRejected   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telecall_active_sessions",
			Help: "Number of currently active call sessions",
		}),
		ActiveParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telecall_active_participants",
			Help: "Number of participants across all active sessions",
		}),
		Joins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telecall_joins_total",
			Help: "Total number of successful visit joins",
		}),
		JoinRaces: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telecall_join_races_total",
			Help: "Joins that hit a session closing underneath them and retried",
		}),
		Leaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telecall_leaves_total",
			Help: "Total number of participant leaves",
		}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telecall_sessions_swept_total",
			Help: "Abandoned empty sessions closed by the periodic sweep",
		}),
		RelayAuthorized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecall_relay_authorized_total",
			Help: "Signaling relays authorized, by message kind",
		}, []string{"kind"}),
		RelayRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecall_relay_rejected_total",
			Help: "Signaling relays rejected, by message kind",
		}, []string{"kind"}),
	}
}
