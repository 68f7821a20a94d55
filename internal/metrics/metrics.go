// Package metrics holds the Prometheus collectors of the messaging core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carnet_chat"

var (
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted, by kind.",
		},
		[]string{"kind"},
	)

	SocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connections",
			Help:      "Socket connections currently registered.",
		},
	)

	SocketEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_total",
			Help:      "Inbound socket events, by event name and outcome.",
		},
		[]string{"event", "outcome"},
	)

	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Events queued to client connections, by event name.",
		},
		[]string{"event"},
	)

	MediaRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_rejected_total",
			Help:      "Uploads refused before a message was created, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(MessagesSent, SocketConnections, SocketEvents, Broadcasts, MediaRejected)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
