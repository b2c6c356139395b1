package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrCleanupFailed wraps a failure of the delete phase. The whole sync is
	// rolled back when it occurs.
	ErrCleanupFailed = errors.New("cleanup of previously synced records failed")
	// ErrInvalidScope is returned when the sync scope itself is unusable.
	ErrInvalidScope = errors.New("invalid sync scope")
)

// ValidationError reports a malformed or incomplete payload item.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome records what happened to one input item or sub-record.
type Outcome struct {
	Type     string `json:"type"`
	Index    int    `json:"index"`
	Date     string `json:"date,omitempty"`
	Status   string `json:"status"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// BatchError is returned, alongside the regular result, when one or more
// items of a batch failed while the rest were committed.
type BatchError struct {
	Message   string    `json:"message"`
	Processed []Outcome `json:"processed"`
	Errors    []Outcome `json:"errors"`
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s (%d processed, %d failed)", e.Message, len(e.Processed), len(e.Errors))
}

// JSON renders the error payload; it never fails for this shape.
func (e *BatchError) JSON() []byte {
	body, _ := json.Marshal(e)
	return body
}

// outcomes accumulates the per-item results of one sync.
type outcomes struct {
	processed []Outcome
	failed    []Outcome
}

func (o *outcomes) success(kind string, index int, date, recordID string) {
	o.processed = append(o.processed, Outcome{Type: kind, Index: index, Date: date, Status: StatusSuccess, RecordID: recordID})
}

func (o *outcomes) failure(kind string, index int, date string, err error) {
	o.failed = append(o.failed, Outcome{Type: kind, Index: index, Date: date, Status: StatusError, Message: err.Error()})
}

func (o *outcomes) batchError(message string) error {
	if len(o.failed) == 0 {
		return nil
	}
	return &BatchError{Message: message, Processed: nonNil(o.processed), Errors: o.failed}
}

func nonNil(list []Outcome) []Outcome {
	if list == nil {
		return []Outcome{}
	}
	return list
}
