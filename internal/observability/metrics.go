package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "device_sync",
		Subsystem: "reconcile",
		Name:      "sync_duration_seconds",
		Help:      "Duration of reconciliation runs by data family, provider and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"family", "provider", "outcome"})
	syncItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "reconcile",
		Name:      "items_total",
		Help:      "Payload items processed by data family and status.",
	}, []string{"family", "status"})
	cleanupDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "reconcile",
		Name:      "cleanup_deleted_total",
		Help:      "Previously synced records removed by the delete phase.",
	}, []string{"family"})
	syncCommittedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "device_sync",
		Subsystem: "reconcile",
		Name:      "last_sync_committed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed reconciliation per data family.",
	}, []string{"family"})
)

func init() {
	prometheus.MustRegister(syncDuration, syncItems, cleanupDeleted, syncCommittedGauge)
}

// RecordSync observes the duration of one reconciliation run.
func RecordSync(family, provider, outcome string, d time.Duration) {
	syncDuration.WithLabelValues(family, provider, outcome).Observe(d.Seconds())
}

// RecordItems counts processed payload items.
func RecordItems(family, status string, n int) {
	if n <= 0 {
		return
	}
	syncItems.WithLabelValues(family, status).Add(float64(n))
}

// RecordCleanup counts records removed by a delete phase.
func RecordCleanup(family string, n int64) {
	if n <= 0 {
		return
	}
	cleanupDeleted.WithLabelValues(family).Add(float64(n))
}

// RecordSyncCommitted updates the commit watermark gauge.
func RecordSyncCommitted(family string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	syncCommittedGauge.WithLabelValues(family).Set(float64(ts.Unix()))
}
