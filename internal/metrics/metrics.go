// Package metrics exposes Prometheus instruments for pairing, subscriptions
// and notifications.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvitesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "couples_invites_created_total",
		Help: "Invite codes issued.",
	})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couples_invite_redemptions_total",
		Help: "Invite redemption attempts by outcome.",
	}, []string{"outcome"})

	CodeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "couples_invite_code_collisions_total",
		Help: "Generated codes rejected because a pending invite already used them.",
	})

	InvitesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "couples_invites_reaped_total",
		Help: "Expired pending invites removed by the reaper.",
	})

	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "couples_record_subscriptions",
		Help: "Live couple record subscriptions by feature.",
	}, []string{"feature"})

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "couples_websocket_connections",
		Help: "Open WebSocket connections.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "couples_notifications_total",
		Help: "Notification intents by push delivery result.",
	}, []string{"delivery"})
)
