package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consumer outcomes.
const (
	outcomeReceived     = "received"
	outcomeProcessed    = "processed"
	outcomeFailed       = "failed"
	outcomeDuplicate    = "duplicate"
	outcomeDeadLettered = "dead_lettered"
)

// Producer outcomes.
const (
	outcomePublished = "published"
	outcomeError     = "error"
)

var (
	consumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Kafka messages seen by consumers, by outcome.",
		},
		[]string{"topic", "consumer_group", "outcome"},
	)

	consumerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Handler time per Kafka message including retries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "consumer_group"},
	)

	producerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Kafka publish attempts, by outcome.",
		},
		[]string{"topic", "outcome"},
	)

	producerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Kafka publish latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

// consumed records a consumer outcome. The idempotency guard has no topic
// and passes the event type instead.
func consumed(topic, group, outcome string) {
	consumerMessages.WithLabelValues(topic, group, outcome).Inc()
}

func consumeTook(topic, group string, start time.Time) {
	consumerDuration.WithLabelValues(topic, group).Observe(time.Since(start).Seconds())
}

func produced(topic string, start time.Time, err error) {
	producerDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	outcome := outcomePublished
	if err != nil {
		outcome = outcomeError
	}
	producerMessages.WithLabelValues(topic, outcome).Inc()
}
