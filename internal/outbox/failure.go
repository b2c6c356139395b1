package outbox

import (
	"context"
)

// DLQWriter persists failed events for investigation and replay.
type DLQWriter struct {
	db DB
}

// NewDLQWriter initialises a writer backed by db.
func NewDLQWriter(db DB) *DLQWriter {
	return &DLQWriter{db: db}
}

const insertDLQ = `INSERT INTO outbox_dlq (user_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`

// Write records a failed outbox message in the DLQ alongside the supplied reason.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	_, err := w.db.Exec(ctx, insertDLQ,
		msg.UserID, msg.EventID, msg.EventType, msg.Topic, []byte(msg.Payload), reason,
		msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	)
	return err
}
