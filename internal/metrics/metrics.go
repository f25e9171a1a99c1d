// Package metrics holds the process-wide prometheus collectors, registered on
// the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Arbitration
	EventsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ice_events_submitted_total",
			Help: "Events submitted to arbitration, by outcome",
		},
		[]string{"outcome"},
	)

	EventsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ice_events_expired_total",
			Help: "Events dropped from history after the validity window",
		},
	)

	// Sessions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ice_session_transitions_total",
			Help: "Session liveness transitions, by kind (connected, outdated, disconnected)",
		},
		[]string{"kind"},
	)

	// Transport
	FanOutDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ice_fanout_dropped_total",
			Help: "Broadcast events a connection could not accept within the send timeout",
		},
	)

	// Webhook
	WebhookCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ice_webhook_calls_total",
			Help: "Webhook deliveries, by result (success, failed, rejected)",
		},
		[]string{"result"},
	)

	// Camera
	CameraState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ice_camera_state",
			Help: "Camera adapter state (0 disconnected, 1 connecting, 2 subscribed, 3 polling)",
		},
	)

	CameraRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ice_camera_restarts_total",
			Help: "Camera adapter attempts that ended and were restarted",
		},
	)

	CameraNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ice_camera_notifications_total",
			Help: "Camera notifications pulled, by disposition (forwarded, cleared, ignored)",
		},
		[]string{"disposition"},
	)
)

// Webhook result labels.
const (
	WebhookSuccess  = "success"
	WebhookFailed   = "failed"
	WebhookRejected = "rejected" // breaker open or rate limited
)

// Camera notification dispositions.
const (
	NotificationForwarded = "forwarded"
	NotificationCleared   = "cleared"
	NotificationIgnored   = "ignored"
)

// RegisterGauges exposes live registry and mailbox sizes through GaugeFuncs.
// It must be called at most once per registry.
func RegisterGauges(reg prometheus.Registerer, sessions, alive, connections, history func() float64) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "ice_sessions", Help: "Registered sessions"}, sessions),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "ice_sessions_alive", Help: "Sessions currently alive"}, alive),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "ice_connections", Help: "Bound transport connections"}, connections),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "ice_history_size", Help: "Events in the live history"}, history),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
