package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActivitiesPayload is the activity/workout batch for one sync window. Items
// stay raw so that a malformed item fails on its own.
type ActivitiesPayload struct {
	Activities []json.RawMessage `json:"activities"`
	Workouts   []json.RawMessage `json:"workouts"`
}

// SleepPayload is the sleep batch for one sync window.
type SleepPayload struct {
	Entries []json.RawMessage `json:"entries"`
}

// HealthPayload is the health and wellness batch for one sync window.
type HealthPayload struct {
	Stress    []json.RawMessage `json:"stress"`
	Hydration []json.RawMessage `json:"hydration"`
}

// ActivityItem is one exported activity: a summary plus optional set list,
// metric time series and raw extras kept for the detail blob.
type ActivityItem struct {
	Activity      *ActivitySummary `json:"activity"`
	ExerciseSets  *ExerciseSetList `json:"exercise_sets"`
	Details       *MetricSeries    `json:"details"`
	Splits        json.RawMessage  `json:"splits"`
	HRInTimezones json.RawMessage  `json:"hr_in_timezones"`
}

// ActivitySummary carries session-level figures in vendor units: duration in
// seconds and distance in meters unless DistanceUnit says otherwise.
type ActivitySummary struct {
	ActivityName           string          `json:"activityName"`
	Description            string          `json:"description"`
	StartTimeLocal         string          `json:"startTimeLocal"`
	Calories               *float64        `json:"calories"`
	Duration               *float64        `json:"duration"`
	Distance               *float64        `json:"distance"`
	DistanceUnit           string          `json:"distanceUnit"`
	AverageHeartRate       *float64        `json:"averageHeartRateInBeatsPerMinute"`
	ActivityType           *TypeKey        `json:"activityType"`
	SummarizedExerciseSets json.RawMessage `json:"summarizedExerciseSets"`
}

// TypeKey is the vendor's nested {"typeKey": ...} enum wrapper.
type TypeKey struct {
	TypeKey string `json:"typeKey"`
}

// ExerciseSetList wraps the flat ordered set list of a structured session.
type ExerciseSetList struct {
	ExerciseSets []VendorSet `json:"exerciseSets"`
}

// VendorSet is one entry of the flat set list. Duration is in seconds and
// weight in grams.
type VendorSet struct {
	SetType         string        `json:"setType"`
	Exercises       []SetExercise `json:"exercises"`
	StartTime       string        `json:"startTime"`
	Duration        *float64      `json:"duration"`
	RepetitionCount *float64      `json:"repetitionCount"`
	Weight          *float64      `json:"weight"`
	Notes           string        `json:"notes"`
}

// SetExercise identifies the exercise a set belongs to.
type SetExercise struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// MetricSeries is a schema-less time series: named columns plus rows of
// parallel values.
type MetricSeries struct {
	MetricDescriptors     []MetricDescriptor `json:"metricDescriptors"`
	ActivityDetailMetrics []MetricRow        `json:"activityDetailMetrics"`
}

// MetricDescriptor names one column of a MetricSeries.
type MetricDescriptor struct {
	Key string `json:"key"`
}

// MetricRow holds one sample per column; nil marks a missing value.
type MetricRow struct {
	Metrics []*float64 `json:"metrics"`
}

// WorkoutDefinition is a planned workout: segments of steps, no performance.
type WorkoutDefinition struct {
	WorkoutName     string           `json:"workoutName"`
	Description     string           `json:"description"`
	WorkoutSegments []WorkoutSegment `json:"workoutSegments"`
}

// WorkoutSegment groups the steps of a definition.
type WorkoutSegment struct {
	WorkoutSteps []WorkoutStep `json:"workoutSteps"`
}

// Step kinds of a workout definition.
const (
	StepExecutable  = "ExecutableStepDTO"
	StepRepeatGroup = "RepeatGroupDTO"
)

// WorkoutStep is either an executable step or a repeat group holding nested
// steps.
type WorkoutStep struct {
	Type              string        `json:"type"`
	ExerciseName      string        `json:"exerciseName"`
	Category          string        `json:"category"`
	Description       string        `json:"description"`
	StepType          *StepTypeKey  `json:"stepType"`
	EndConditionValue *float64      `json:"endConditionValue"`
	WeightValue       *float64      `json:"weightValue"`
	WeightUnit        *UnitKey      `json:"weightUnit"`
	WorkoutSteps      []WorkoutStep `json:"workoutSteps"`
}

// StepTypeKey is the vendor's nested step type enum.
type StepTypeKey struct {
	StepTypeKey string `json:"stepTypeKey"`
}

// UnitKey is the vendor's nested unit enum.
type UnitKey struct {
	UnitKey string `json:"unitKey"`
}

// SleepItem is one exported night. Timestamps accept RFC 3339 strings,
// zone-less local strings, or epoch milliseconds.
type SleepItem struct {
	EntryDate         string           `json:"entry_date"`
	Bedtime           Timestamp        `json:"bedtime"`
	WakeTime          Timestamp        `json:"wake_time"`
	DurationInSeconds *float64         `json:"duration_in_seconds"`
	StageEvents       []SleepStageItem `json:"stage_events"`
}

// SleepStageItem is one stage of a night's hypnogram.
type SleepStageItem struct {
	StageType         string    `json:"stage_type"`
	StartTime         Timestamp `json:"start_time"`
	EndTime           Timestamp `json:"end_time"`
	DurationInSeconds *float64  `json:"duration_in_seconds"`
}

// StressItem is one day of stress samples with an optional derived mood.
type StressItem struct {
	Date             string          `json:"date"`
	RawStressData    json.RawMessage `json:"raw_stress_data"`
	DerivedMoodValue *float64        `json:"derived_mood_value"`
	DerivedMoodNotes string          `json:"derived_mood_notes"`
}

// StressSample is one point of raw stress data.
type StressSample struct {
	Time        string   `json:"time"`
	StressLevel *float64 `json:"stress_level"`
}

// HydrationItem is one day of fluid intake. An empty unit means the user's
// preferred volume unit.
type HydrationItem struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// Timestamp is a leniently parsed point in time; the zero value means absent.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", data)
		}
		t.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses the timestamp spellings vendors export. Zone-less
// values are read as UTC wall-clock time.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}
