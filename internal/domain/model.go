// Package domain defines the normalized fitness records produced by device
// syncs and the persistence contract the reconciliation engine writes through.
package domain

import (
	"encoding/json"
	"time"

	"example.com/devicesync/internal/units"
)

// SourceManual marks records entered by hand rather than synced from a device.
const SourceManual = "manual"

// ExerciseDefinition is a catalog entry, unique per (normalized name, owner).
type ExerciseDefinition struct {
	ID        string
	OwnerID   string
	Name      string
	Category  string
	Equipment []string
	Muscles   []string
	Source    string
	IsCustom  bool
	CreatedAt time.Time
}

// WorkoutTemplate is a named, reusable collection of exercises with default sets.
type WorkoutTemplate struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	ExerciseIDs []string
	CreatedAt   time.Time
}

// HasExercise reports whether exerciseID is already part of the template.
func (t WorkoutTemplate) HasExercise(exerciseID string) bool {
	for _, id := range t.ExerciseIDs {
		if id == exerciseID {
			return true
		}
	}
	return false
}

// Set is one ordered unit of work inside an exercise entry or template.
type Set struct {
	SetNumber       int
	SetType         string
	Reps            int
	WeightKg        float64
	DurationSeconds int
	RestSeconds     int
	Notes           string
}

// ExerciseEntry is one performed instance of an exercise on a date.
type ExerciseEntry struct {
	ID              string
	UserID          string
	ExerciseID      string
	PresetEntryID   string
	EntryDate       time.Time
	DurationMinutes float64
	CaloriesBurned  float64
	DistanceKm      *float64
	AvgHeartRate    *int
	Notes           string
	Source          string
	Sets            []Set
	CreatedBy       string
}

// PresetEntry is a template performed on a date; it groups exercise entries.
type PresetEntry struct {
	ID          string
	UserID      string
	TemplateID  string
	Name        string
	Description string
	Notes       string
	EntryDate   time.Time
	Source      string
	CreatedBy   string
}

// Detail types stored alongside synced entries.
const (
	DetailFullActivity = "full_activity_data"
	DetailFullWorkout  = "full_workout_data"
)

// ActivityDetail keeps the raw provider payload next to the normalized rows.
// Exactly one of ExerciseEntryID and PresetEntryID is set.
type ActivityDetail struct {
	ID              string
	UserID          string
	ExerciseEntryID string
	PresetEntryID   string
	Provider        string
	DetailType      string
	Data            json.RawMessage
	CreatedBy       string
}

// StageType names a sleep phase.
type StageType string

const (
	StageDeep  StageType = "deep"
	StageREM   StageType = "rem"
	StageLight StageType = "light"
	StageAwake StageType = "awake"
)

// SleepStageEvent is a timestamped interval tagged with a sleep phase.
type SleepStageEvent struct {
	StageType       StageType
	Start           time.Time
	End             time.Time
	DurationSeconds int
}

// SleepEntry is one night of sleep with its hypnogram and derived score.
type SleepEntry struct {
	ID                string
	UserID            string
	EntryDate         time.Time
	Bedtime           time.Time
	WakeTime          time.Time
	DurationSeconds   int
	TimeAsleepSeconds int
	Score             int
	Source            string
	Stages            []SleepStageEvent
	CreatedBy         string
}

// Preferences holds the unit settings a sync normalizes against.
type Preferences struct {
	WeightUnit   units.WeightUnit
	DistanceUnit units.DistanceUnit
	VolumeUnit   units.VolumeUnit
}

// Normalizer builds the unit normalizer for these preferences.
func (p Preferences) Normalizer() units.Normalizer {
	return units.NewNormalizer(p.WeightUnit, p.DistanceUnit, p.VolumeUnit)
}

// Profile carries the demographic inputs of the sleep score.
type Profile struct {
	DateOfBirth *time.Time
	Sex         string
}

// MeasurementCategory is a user-defined measurement type.
type MeasurementCategory struct {
	ID              string
	UserID          string
	Name            string
	DataType        string
	MeasurementType string
	CreatedBy       string
}

// CustomMeasurement is the per-day value of a custom category.
type CustomMeasurement struct {
	UserID     string
	CategoryID string
	EntryDate  time.Time
	Value      string
	Notes      string
	Source     string
	CreatedBy  string
}

// MoodEntry is the per-day mood value (0-100).
type MoodEntry struct {
	UserID    string
	EntryDate time.Time
	Value     int
	Notes     string
	CreatedBy string
}

// WaterIntake is the per-day hydration total.
type WaterIntake struct {
	UserID      string
	EntryDate   time.Time
	Milliliters float64
	Source      string
	CreatedBy   string
}

// SyncEvent summarizes a committed reconciliation for downstream consumers.
type SyncEvent struct {
	ID          string
	UserID      string
	Provider    string
	Family      string
	Range       DateRange
	Processed   int
	Failed      int
	CompletedAt time.Time
}
