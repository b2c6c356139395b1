// Package events defines the event payloads exchanged with other services.
package events

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	TypeSyncCompleted = "device_sync.completed"

	TypeSyncActivities = "sync.activities"
	TypeSyncSleep      = "sync.sleep"
	TypeSyncHealth     = "sync.health"
)

// SyncCompleted is emitted once a reconciliation has committed.
type SyncCompleted struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	Family      string    `json:"family"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completed_at"`
}

// SyncRequested carries one provider batch to be reconciled. The payload
// shape depends on the event_type header of the message.
type SyncRequested struct {
	UserID       string          `json:"user_id"`
	ActingUserID string          `json:"acting_user_id,omitempty"`
	Provider     string          `json:"provider"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	Payload      json.RawMessage `json:"payload"`
}
