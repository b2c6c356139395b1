package outbox

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Sync events published to Kafka, by event type and sync family.",
	}, []string{"event_type", "family"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Sync events that could not be published and went to the DLQ, by event type and sync family.",
	}, []string{"event_type", "family"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Sync events written to outbox_dlq, by topic and sync family.",
	}, []string{"topic", "family"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter)
}

// syncFamily reads the reconciled family (activities, sleep, health) from a
// sync event payload. Payloads without one are counted as "unknown".
func syncFamily(payload []byte) string {
	var body struct {
		Family string `json:"family"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Family == "" {
		return "unknown"
	}
	return body.Family
}

func recordDelivered(messages []Message) {
	for _, msg := range messages {
		deliveredCounter.WithLabelValues(msg.EventType, syncFamily(msg.Payload)).Inc()
	}
}

func recordFailed(messages []Message) {
	for _, msg := range messages {
		failedCounter.WithLabelValues(msg.EventType, syncFamily(msg.Payload)).Inc()
	}
}

func recordDLQ(msg Message) {
	dlqCounter.WithLabelValues(msg.Topic, syncFamily(msg.Payload)).Inc()
}
