package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	actions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studioflow_actions_total",
			Help: "Workflow actions by action and outcome (ok or error kind)",
		},
		[]string{"action", "outcome"},
	)
	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studioflow_gateway_calls_total",
			Help: "Payment gateway calls by operation and result",
		},
		[]string{"operation", "result"},
	)
	lockRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studioflow_optimistic_retries_total",
			Help: "Actions re-run after a concurrent modification",
		},
	)
	droppedNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studioflow_notifications_dropped_total",
			Help: "Notifications that could not be delivered, by sink",
		},
		[]string{"sink"},
	)
)

// IncAction records the outcome of a workflow action.
func IncAction(action, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	actions.WithLabelValues(action, outcome).Inc()
}

func IncGatewayCall(operation, result string) {
	gatewayCalls.WithLabelValues(operation, result).Inc()
}

func IncRetry() {
	lockRetries.Inc()
}

func IncDroppedNotification(sink string) {
	droppedNotifications.WithLabelValues(sink).Inc()
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
