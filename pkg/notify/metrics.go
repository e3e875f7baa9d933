package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClientsConnected tracks currently connected websocket clients.
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradereflect_notify_clients_connected",
		Help: "Number of websocket clients currently connected",
	})

	// BroadcastsTotal tracks broadcast messages sent.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradereflect_notify_broadcasts_total",
		Help: "Total number of broadcast messages",
	})
)
