package domain

import (
	"context"
	"errors"
)

var (
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("record conflicts with an existing record")
	// ErrReferenceMissing indicates a write referenced a row that does not exist.
	ErrReferenceMissing = errors.New("referenced record does not exist")
)

// Store opens the transactional scope one sync runs in.
type Store interface {
	// WithinTx runs fn in a single transaction on behalf of userID. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, userID string, fn func(context.Context, Tx) error) error
}

// Tx is the set of persistence operations available inside a transaction.
// Find* methods return nil and no error when nothing matches.
type Tx interface {
	// Savepoint runs fn in a nested transaction; when fn fails only its own
	// writes are rolled back.
	Savepoint(ctx context.Context, fn func(context.Context, Tx) error) error

	// LockScope blocks until no other transaction holds the sync scope of
	// (userID, source). The lock is released when the transaction ends.
	LockScope(ctx context.Context, userID, source string) error

	DeleteExerciseEntries(ctx context.Context, userID, source string, r DateRange) (int64, error)
	DeletePresetEntries(ctx context.Context, userID, source string, r DateRange) (int64, error)
	DeleteSleepEntries(ctx context.Context, userID, source string, r DateRange) (int64, error)

	FindExerciseByName(ctx context.Context, ownerID, name string) (*ExerciseDefinition, error)
	CreateExercise(ctx context.Context, def ExerciseDefinition) error
	FindTemplateByName(ctx context.Context, ownerID, name string) (*WorkoutTemplate, error)
	CreateTemplate(ctx context.Context, tmpl WorkoutTemplate) error
	AddExerciseToTemplate(ctx context.Context, templateID, exerciseID string, sets []Set) error

	CreatePresetEntry(ctx context.Context, entry PresetEntry) error
	CreateExerciseEntry(ctx context.Context, entry ExerciseEntry) error
	CreateActivityDetail(ctx context.Context, detail ActivityDetail) error
	CreateSleepEntry(ctx context.Context, entry SleepEntry) error

	FindMeasurementCategory(ctx context.Context, userID, name string) (*MeasurementCategory, error)
	CreateMeasurementCategory(ctx context.Context, category MeasurementCategory) error
	UpsertCustomMeasurement(ctx context.Context, m CustomMeasurement) error
	UpsertMood(ctx context.Context, mood MoodEntry) error
	UpsertWaterIntake(ctx context.Context, water WaterIntake) error

	Preferences(ctx context.Context, userID string) (Preferences, error)
	Profile(ctx context.Context, userID string) (Profile, error)

	SleepEntriesInRange(ctx context.Context, userID string, r DateRange) ([]SleepEntry, error)

	RecordSyncEvent(ctx context.Context, evt SyncEvent) error
}
