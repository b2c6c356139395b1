package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

// DLQManager handles retrying failed outbox messages and quarantining exhausted entries.
type DLQManager struct {
	db         DB
	maxRetries int
	baseDelay  time.Duration
	logger     *log.Logger
}

// NewDLQManager constructs a DLQManager with the provided database and retry configuration.
func NewDLQManager(db DB, maxRetries int, baseDelay time.Duration, logger *log.Logger) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[dlq] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &DLQManager{db: db, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

const selectDue = `SELECT dlq_id, user_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

// RunOnce processes a batch of due DLQ entries in one transaction and returns
// the number of entries re-queued into the outbox.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (requeued int, err error) {
	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	entries, err := dueEntries(ctx, tx, batchSize)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		ok, handleErr := m.handleEntry(ctx, tx, entry)
		if handleErr != nil {
			return 0, fmt.Errorf("dlq entry %d: %w", entry.ID, handleErr)
		}
		if ok {
			requeued++
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	m.updateBacklogGauge(ctx)
	return requeued, nil
}

func dueEntries(ctx context.Context, tx pgx.Tx, batchSize int) ([]dlqEntry, error) {
	rows, err := tx.Query(ctx, selectDue, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []dlqEntry
	for rows.Next() {
		entry, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// handleEntry applies retry or quarantine logic to a single entry. It reports
// whether the entry was re-queued.
func (m *DLQManager) handleEntry(ctx context.Context, tx pgx.Tx, entry dlqEntry) (bool, error) {
	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", entry.ID); err != nil {
			return false, err
		}
		m.logger.Printf("quarantined event %d (%s) after %d retries", entry.EventID, entry.EventType, entry.RetryCount)
		recordDLQQuarantined(entry)
		return false, nil
	}

	if requeueErr := m.requeue(ctx, tx, entry); requeueErr != nil {
		delay := m.backoffDelay(entry.RetryCount + 1)
		if _, err := tx.Exec(ctx,
			`UPDATE outbox_dlq
               SET retry_count = retry_count + 1,
                   last_attempt_at = NOW(),
                   next_retry_at = NOW() + $1::interval,
                   reason = $2
             WHERE dlq_id = $3`,
			delay, requeueErr.Error(), entry.ID,
		); err != nil {
			return false, err
		}
		recordDLQRetry(entry)
		return false, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return false, err
	}
	recordDLQRequeued(entry)
	return true, nil
}

// requeue reinserts the payload into the outbox inside a savepoint so a
// rejected insert leaves the surrounding batch usable.
func (m *DLQManager) requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) (err error) {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}
	if _, lookupErr := Lookup(entry.EventType); lookupErr != nil {
		return lookupErr
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			sp.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err = sp.Exec(ctx, stmt,
		entry.UserID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
	); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// backoffDelay calculates exponential backoff capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

func (m *DLQManager) updateBacklogGauge(ctx context.Context) {
	var count int
	if err := m.db.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Printf("backlog gauge: %v", err)
		}
		return
	}
	dlqBacklogGauge.Set(float64(count))
}

// dlqEntry represents an outbox_dlq row selected for processing.
type dlqEntry struct {
	ID            int64
	UserID        string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

func scanDLQEntry(rows pgx.Rows) (dlqEntry, error) {
	var entry dlqEntry
	if err := rows.Scan(&entry.ID, &entry.UserID, &entry.EventID, &entry.EventType, &entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType, &entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount); err != nil {
		return dlqEntry{}, err
	}
	return entry, nil
}
