package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/events"
	"example.com/devicesync/internal/persistence/memory"
	"example.com/devicesync/internal/reconcile"
	"example.com/devicesync/internal/synclock"
)

const goodNight = `{
	"entry_date": "2024-03-02",
	"bedtime": "2024-03-01T23:00:00Z",
	"wake_time": "2024-03-02T07:00:00Z",
	"duration_in_seconds": 28800
}`

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newHandler(store *memory.Store) *ReconcileHandler {
	clock := func() time.Time { return time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC) }
	svc := reconcile.NewService(store, reconcile.WithLogger(quietLogger()), reconcile.WithClock(clock))
	return NewReconcileHandler(svc, synclock.New(), quietLogger())
}

func request(t *testing.T, eventType, startDate string, payload string) Message {
	t.Helper()
	body, err := json.Marshal(events.SyncRequested{
		Provider:  "Garmin",
		StartDate: startDate,
		EndDate:   "2024-03-07",
		Payload:   json.RawMessage(payload),
	})
	require.NoError(t, err)
	return Message{Topic: "device_sync_requests", EventType: eventType, UserID: "user-1", Payload: body}
}

func TestReconcileHandlerRedeliveryIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store)
	msg := request(t, events.TypeSyncSleep, "2024-03-01", `{"entries": [`+goodNight+`]}`)

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))

	entries := store.SleepEntries("user-1")
	require.Len(t, entries, 1)
	require.Equal(t, "garmin", entries[0].Source)
	require.Len(t, store.Events(), 2)
}

func TestReconcileHandlerCommitsPartialFailures(t *testing.T) {
	store := memory.NewStore()
	msg := request(t, events.TypeSyncSleep, "2024-03-01", `{"entries": [`+goodNight+`, {"entry_date": "not-a-date"}]}`)

	require.NoError(t, newHandler(store).Handle(context.Background(), msg))
	require.Len(t, store.SleepEntries("user-1"), 1)
}

func TestReconcileHandlerRunsHealthSync(t *testing.T) {
	store := memory.NewStore()
	msg := request(t, events.TypeSyncHealth, "2024-03-01", `{"hydration": [{"date": "2024-03-03", "value": 2, "unit": "l"}]}`)

	require.NoError(t, newHandler(store).Handle(context.Background(), msg))
	water := store.WaterIntake("user-1")
	require.Len(t, water, 1)
	require.InDelta(t, 2000, water[0].Milliliters, 0.001)
}

func TestReconcileHandlerClassifiesFailures(t *testing.T) {
	cases := []struct {
		desc      string
		msg       func(t *testing.T) Message
		fail      string
		permanent bool
	}{
		{
			desc:      "unknown event type",
			msg:       func(t *testing.T) Message { return request(t, "sync.nutrition", "2024-03-01", `{}`) },
			permanent: true,
		},
		{
			desc:      "malformed date range",
			msg:       func(t *testing.T) Message { return request(t, events.TypeSyncSleep, "March", `{}`) },
			permanent: true,
		},
		{
			desc: "malformed request body",
			msg: func(t *testing.T) Message {
				return Message{EventType: events.TypeSyncSleep, Payload: json.RawMessage(`[]`)}
			},
			permanent: true,
		},
		{
			desc:      "store failure",
			msg:       func(t *testing.T) Message { return request(t, events.TypeSyncSleep, "2024-03-01", `{"entries": []}`) },
			fail:      "DeleteSleepEntries",
			permanent: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			store := memory.NewStore()
			if tc.fail != "" {
				store.Fail(tc.fail, errors.New("disk full"))
			}
			err := newHandler(store).Handle(context.Background(), tc.msg(t))
			require.Error(t, err)
			require.Equal(t, tc.permanent, errors.Is(err, ErrPermanent))
		})
	}
}

func TestReconcileHandlerWaitsForScopeLock(t *testing.T) {
	store := memory.NewStore()
	locks := synclock.New()
	svc := reconcile.NewService(store, reconcile.WithLogger(quietLogger()))
	h := NewReconcileHandler(svc, locks, quietLogger())

	unlock, err := locks.Lock(context.Background(), synclock.Key("user-1", "garmin"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.Handle(ctx, request(t, events.TypeSyncSleep, "2024-03-01", `{"entries": []}`))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, store.Events())
}
