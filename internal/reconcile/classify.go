package reconcile

import (
	"bytes"
	"encoding/json"
)

// Pipeline names the processing path an item is routed to.
type Pipeline string

const (
	PipelineWorkoutSession    Pipeline = "workout_session"
	PipelineSimpleActivity    Pipeline = "simple_activity"
	PipelineWorkoutDefinition Pipeline = "workout_definition"
	PipelineUnrecognized      Pipeline = "unrecognized"
)

// Classify routes an item from the activities list. Items with a non-empty
// set list are workout sessions; items with only a summary are simple
// activities. Workout definitions arrive in their own list and are never
// routed through here.
func Classify(item ActivityItem) Pipeline {
	if item.ExerciseSets != nil && len(item.ExerciseSets.ExerciseSets) > 0 {
		return PipelineWorkoutSession
	}
	if item.Activity != nil && nonEmptyArray(item.Activity.SummarizedExerciseSets) {
		return PipelineWorkoutSession
	}
	if item.Activity != nil {
		return PipelineSimpleActivity
	}
	return PipelineUnrecognized
}

func nonEmptyArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) < 2 || trimmed[0] != '[' {
		return false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return false
	}
	return len(items) > 0
}
