package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordItemsIgnoresEmptyBatches(t *testing.T) {
	before := testutil.ToFloat64(syncItems.WithLabelValues("sleep", "success"))
	RecordItems("sleep", "success", 0)
	RecordItems("sleep", "success", 3)
	require.Equal(t, before+3, testutil.ToFloat64(syncItems.WithLabelValues("sleep", "success")))
}

func TestRecordCleanup(t *testing.T) {
	before := testutil.ToFloat64(cleanupDeleted.WithLabelValues("activities"))
	RecordCleanup("activities", 4)
	RecordCleanup("activities", -1)
	require.Equal(t, before+4, testutil.ToFloat64(cleanupDeleted.WithLabelValues("activities")))
}

func TestRecordSyncCommitted(t *testing.T) {
	ts := time.Unix(1710000000, 0)
	RecordSyncCommitted("health", ts)
	RecordSyncCommitted("health", time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(syncCommittedGauge.WithLabelValues("health")))
}

func TestRecordSyncObservesHistogram(t *testing.T) {
	before := testutil.CollectAndCount(syncDuration)
	RecordSync("sleep", "observability-test", "success", 250*time.Millisecond)
	require.Equal(t, before+1, testutil.CollectAndCount(syncDuration))
}
