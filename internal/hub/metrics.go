package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "herald"

var (
	connectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "connections_active",
		Help:      "WebSocket clients currently attached.",
	}, []string{"endpoint"})

	framesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "frames_sent_total",
		Help:      "Frames written to WebSocket clients.",
	}, []string{"endpoint"})

	slowConsumerClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "slow_consumer_closes_total",
		Help:      "Connections dropped because their send buffer filled up.",
	}, []string{"endpoint"})
)

func recordConnectionOpened(endpoint string) {
	connectionsActive.WithLabelValues(endpoint).Inc()
}

func recordConnectionClosed(endpoint string) {
	connectionsActive.WithLabelValues(endpoint).Dec()
}

func recordFrameSent(endpoint string) {
	framesSentTotal.WithLabelValues(endpoint).Inc()
}

func recordSlowConsumerClose(endpoint string) {
	slowConsumerClosesTotal.WithLabelValues(endpoint).Inc()
}
