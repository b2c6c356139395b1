package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func framed(schemaID int, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], uint32(schemaID))
	copy(value[5:], payload)
	return value
}

func syncMessage(offset int64, eventType string, value []byte) kafka.Message {
	return kafka.Message{
		Topic:     "device_sync_requests",
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Value:     value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "user_id", Value: []byte("user-1")},
			{Key: "schema_subject", Value: []byte("device_sync_requests-value")},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	payload := []byte(`{"user_id":"user-1"}`)
	reader := &stubReader{messages: []kafka.Message{syncMessage(10, "sync.sleep", framed(42, payload))}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "sync.sleep", handler.last.EventType)
	require.Equal(t, "user-1", handler.last.UserID)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
}

func TestProcessorAcceptsUnframedJSON(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{syncMessage(11, "sync.health", []byte(`{"provider":"garmin"}`))}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, handler.calls)
	require.Zero(t, handler.last.SchemaID)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	noHeader := syncMessage(12, "sync.sleep", []byte(`{}`))
	noHeader.Headers = nil
	reader := &stubReader{messages: []kafka.Message{
		noHeader,
		syncMessage(13, "sync.sleep", []byte(`not json`)),
	}}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0))).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, handler.calls)
	require.Equal(t, 2, reader.commitCalls)
}

func TestProcessorCommitDependsOnHandlerError(t *testing.T) {
	cases := []struct {
		desc    string
		err     error
		commits int
	}{
		{"transient failure is retried", errors.New("connection reset"), 0},
		{"permanent failure is committed", fmt.Errorf("%w: bad date", ErrPermanent), 1},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			reader := &stubReader{messages: []kafka.Message{syncMessage(20, "sync.activities", framed(1, []byte(`{}`)))}}
			handler := &stubHandler{err: tc.err}

			err := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0))).Run(context.Background())
			require.ErrorIs(t, err, context.Canceled)
			require.Equal(t, 1, handler.calls)
			require.Equal(t, tc.commits, reader.commitCalls)
		})
	}
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

type stubHandler struct {
	calls int
	err   error
	last  Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	return h.err
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
