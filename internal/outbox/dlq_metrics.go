package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	dlqRequeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "events_requeued_total",
		Help:      "DLQ entries put back into the outbox, by event type and sync family.",
	}, []string{"event_type", "family"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "events_quarantined_total",
		Help:      "DLQ entries quarantined after DLQ_MAX_RETRIES attempts, by event type and sync family.",
	}, []string{"event_type", "family"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "retries_scheduled_total",
		Help:      "Failed requeues rescheduled with backoff, by event type and sync family.",
	}, []string{"event_type", "family"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "device_sync",
		Subsystem: "dlq",
		Name:      "backlog_events",
		Help:      "Sync events waiting in the DLQ that are not quarantined.",
	})
)

func init() {
	prometheus.MustRegister(dlqRequeuedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge)
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.EventType, syncFamily(entry.Payload)).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.EventType, syncFamily(entry.Payload)).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.EventType, syncFamily(entry.Payload)).Inc()
}
