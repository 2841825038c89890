package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "herald"

var (
	deliveryQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_size",
			Help:      "Number of delivery records by state",
		},
		[]string{"state"},
	)

	deliveriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "processed_total",
			Help:      "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	deliverySendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Time to send one delivery record",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	deliveriesClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "claimed_total",
			Help:      "Delivery records claimed from the queue (before send attempt)",
		},
	)
)

// recordDeliverySent records a delivery attempt outcome.
func recordDeliverySent(channel, outcome string) {
	deliveriesProcessed.WithLabelValues(channel, outcome).Inc()
}

// recordDeliveryDuration records how long one send took.
func recordDeliveryDuration(channel string, duration time.Duration) {
	deliverySendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// recordQueueClaimed records the number of records claimed in one batch.
func recordQueueClaimed(count int) {
	deliveriesClaimed.Add(float64(count))
}

// RecordQueueStats updates the per-state queue gauges.
func RecordQueueStats(stats *QueueStats) {
	deliveryQueueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	deliveryQueueSize.WithLabelValues("retrying").Set(float64(stats.Retrying))
	deliveryQueueSize.WithLabelValues("success").Set(float64(stats.Success))
	deliveryQueueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
