package outbox

const syncCompletedSchema = `{
  "type": "object",
  "title": "DeviceSyncCompleted",
  "properties": {
    "event_id": {"type": "string"},
    "user_id": {"type": "string"},
    "provider": {"type": "string"},
    "family": {"type": "string", "enum": ["activities", "sleep", "health"]},
    "start_date": {"type": "string", "format": "date"},
    "end_date": {"type": "string", "format": "date"},
    "processed": {"type": "integer", "minimum": 0},
    "failed": {"type": "integer", "minimum": 0},
    "completed_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "user_id", "provider", "family", "start_date", "end_date", "processed", "failed", "completed_at"],
  "additionalProperties": false
}`
