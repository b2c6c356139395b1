package outbox

import (
	"context"
	"io"
	"log"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/events"
)

var dlqColumns = []string{"dlq_id", "user_id", "event_id", "event_type", "topic", "payload", "reason", "aggregate_type", "aggregate_id", "schema_subject", "partition_key", "retry_count"}

func dlqRow(rows *pgxmock.Rows, id int64, retries int) *pgxmock.Rows {
	return rows.AddRow(id, "u1", id*10, events.TypeSyncCompleted, "device_sync_events", []byte(`{"family":"activities"}`), "broker down",
		"device_sync", "evt", "device_sync_events-value", "u1:garmin", retries)
}

func TestBackoffDelay(t *testing.T) {
	m := NewDLQManager(nil, 5, time.Minute, log.New(io.Discard, "", 0))
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{4, 8 * time.Minute},
		{7, time.Hour},
		{40, time.Hour},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, m.backoffDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestRunOnceRequeuesRetriesAndQuarantines(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(dlqColumns)
	dlqRow(rows, 1, 0)
	dlqRow(rows, 2, 1)
	dlqRow(rows, 3, 5)

	requeue := regexp.QuoteMeta(`INSERT INTO outbox (user_id`)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDue)).WithArgs(50).WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectExec(requeue).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM outbox_dlq`)).WithArgs(int64(1)).WillReturnResult(pgxmock.NewResult("DELETE", 1))

	mock.ExpectBegin()
	mock.ExpectExec(requeue).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_dlq`)).
		WithArgs(2*time.Minute, context.DeadlineExceeded.Error(), int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_dlq SET quarantined_at = NOW()`)).
		WithArgs("retry limit reached", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM outbox_dlq`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	labels := []string{events.TypeSyncCompleted, "activities"}
	quarantined := testutil.ToFloat64(dlqQuarantinedCounter.WithLabelValues(labels...))

	m := NewDLQManager(mock, 5, time.Minute, log.New(io.Discard, "", 0))
	requeued, err := m.RunOnce(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Equal(t, quarantined+1, testutil.ToFloat64(dlqQuarantinedCounter.WithLabelValues(labels...)))
	require.Equal(t, 1.0, testutil.ToFloat64(dlqBacklogGauge))
	require.NoError(t, mock.ExpectationsWereMet())
}
