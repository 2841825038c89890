package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "herald"

var (
	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Events consumed by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	eventsDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dead_lettered_total",
			Help:      "Messages parked on the dead-letter topic",
		},
	)

	recordsFannedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "fanout_records_total",
			Help:      "Delivery records enqueued per channel",
		},
		[]string{"channel"},
	)

	lifecyclePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "lifecycle_published_total",
			Help:      "Delivery lifecycle events published by outcome",
		},
		[]string{"outcome"},
	)
)

// recordEventConsumed records the outcome of processing one message.
func recordEventConsumed(topic, outcome string) {
	eventsConsumed.WithLabelValues(topic, outcome).Inc()
}

// recordDeadLettered records a successful dead-letter publish.
func recordDeadLettered() {
	eventsDeadLettered.Inc()
}

// recordFanOut records one enqueued delivery record.
func recordFanOut(channel string) {
	recordsFannedOut.WithLabelValues(channel).Inc()
}

// recordLifecyclePublished records one lifecycle publish attempt.
func recordLifecyclePublished(outcome string) {
	lifecyclePublished.WithLabelValues(outcome).Inc()
}
