package outbox

import (
	"fmt"

	"example.com/devicesync/internal/events"
)

// Route describes where an event type is published and which schema frames it.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
	// PartitionKey derives the Kafka key from the event's user and provider.
	PartitionKey func(userID, provider string) string
}

var catalog = map[string]Route{
	events.TypeSyncCompleted: {
		Topic:         "device_sync_events",
		SchemaSubject: "device_sync_events-value",
		Schema:        syncCompletedSchema,
		PartitionKey: func(userID, provider string) string {
			return fmt.Sprintf("%s:%s", userID, provider)
		},
	},
}

// Lookup returns the route of an event type.
func Lookup(eventType string) (Route, error) {
	route, ok := catalog[eventType]
	if !ok {
		return Route{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	return route, nil
}
