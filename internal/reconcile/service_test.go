package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/persistence/memory"
	"example.com/devicesync/internal/units"
)

const sessionItem = `{
	"activity": {
		"activityName": "Upper Body",
		"startTimeLocal": "2024-03-01 10:00:00",
		"calories": 100,
		"duration": 320,
		"activityType": {"typeKey": "strength_training"}
	},
	"exercise_sets": {"exerciseSets": [
		{"setType": "ACTIVE", "exercises": [{"name": "BENCH_PRESS", "category": "BENCH_PRESS"}], "startTime": "2024-03-01T10:00:00.0", "duration": 30, "repetitionCount": 10, "weight": 60000},
		{"setType": "REST", "exercises": [], "startTime": "2024-03-01T10:00:30.0", "duration": 60},
		{"setType": "ACTIVE", "exercises": [{"name": "BENCH_PRESS"}], "startTime": "2024-03-01T10:01:30.0", "duration": 30, "repetitionCount": 8, "weight": 62500},
		{"setType": "ACTIVE", "exercises": [{"name": "PULL_UP", "category": "PULL_UP"}], "startTime": "2024-03-01T10:03:20.0", "duration": 20, "repetitionCount": 6},
		{"setType": "ACTIVE", "exercises": [{"name": "PULL_UP"}], "startTime": "2024-03-01T10:04:00.0", "duration": 20, "repetitionCount": 6},
		{"setType": "ACTIVE", "exercises": [{"name": "PULL_UP"}], "startTime": "2024-03-01T10:05:00.0", "duration": 20, "repetitionCount": 5}
	]},
	"details": {
		"metricDescriptors": [{"key": "directTimestamp"}, {"key": "directHeartRate"}],
		"activityDetailMetrics": [
			{"metrics": [1709287210000, 100]},
			{"metrics": [1709287300000, 120]},
			{"metrics": [1709287450000, 140]}
		]
	}
}`

const runItem = `{
	"activity": {
		"activityName": "Morning Run",
		"startTimeLocal": "2024-03-01 07:00:00",
		"calories": 300.4,
		"duration": 1800,
		"distance": 5000,
		"averageHeartRateInBeatsPerMinute": 150.6,
		"activityType": {"typeKey": "running"}
	}
}`

const legDay = `{
	"workoutName": "Leg Day",
	"workoutSegments": [{"workoutSteps": [
		{"type": "ExecutableStepDTO", "exerciseName": "BARBELL_SQUAT", "category": "SQUAT", "stepType": {"stepTypeKey": "warmup"}, "endConditionValue": 10, "weightValue": 40, "weightUnit": {"unitKey": "kilogram"}},
		{"type": "RepeatGroupDTO", "workoutSteps": [
			{"type": "ExecutableStepDTO", "exerciseName": "BARBELL_SQUAT", "stepType": {"stepTypeKey": "interval"}, "endConditionValue": 5, "weightValue": 100},
			{"type": "ExecutableStepDTO", "stepType": {"stepTypeKey": "rest"}}
		]}
	]}]
}`

func quietService(store domain.Store) *Service {
	clock := func() time.Time { return time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC) }
	return NewService(store, WithLogger(log.New(io.Discard, "", 0)), WithClock(clock))
}

func marchScope(t *testing.T) Scope {
	t.Helper()
	r, err := domain.NewDateRange("2024-03-01", "2024-03-07")
	require.NoError(t, err)
	return Scope{UserID: "user-1", Provider: "Garmin", Range: r}
}

func raws(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		out[i] = json.RawMessage(item)
	}
	return out
}

func TestReconcileActivitiesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)
	payload := ActivitiesPayload{Activities: raws(sessionItem, runItem)}

	for i := 0; i < 2; i++ {
		res, err := svc.ReconcileActivitiesAndWorkouts(ctx, marchScope(t), payload)
		require.NoError(t, err)
		require.Equal(t, 2, res.ProcessedEntries)
	}

	entries := store.ExerciseEntries("user-1")
	require.Len(t, entries, 3)
	sessionEntries := 0
	sessionSets := 0
	for _, e := range entries {
		require.Equal(t, "garmin", e.Source)
		if e.PresetEntryID != "" {
			sessionEntries++
			sessionSets += len(e.Sets)
		}
	}
	require.Equal(t, 2, sessionEntries)
	require.Equal(t, 5, sessionSets)
	require.Len(t, store.PresetEntries("user-1"), 1)
	require.Len(t, store.ActivityDetails("user-1"), 2)
	require.Len(t, store.Exercises("user-1"), 3)
	require.Len(t, store.Templates("user-1"), 1)
	require.Len(t, store.Events(), 2)
}

func TestReconcileActivitiesSessionDetail(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)

	_, err := svc.ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(sessionItem)})
	require.NoError(t, err)

	byNotes := map[string]domain.ExerciseEntry{}
	for _, e := range store.ExerciseEntries("user-1") {
		byNotes[e.Notes] = e
	}
	bench, ok := byNotes["Garmin Exercise: Bench Press"]
	require.True(t, ok)
	require.Equal(t, 1.0, bench.DurationMinutes)
	require.Equal(t, 50.0, bench.CaloriesBurned)
	require.NotNil(t, bench.AvgHeartRate)
	require.Equal(t, 110, *bench.AvgHeartRate)
	require.Len(t, bench.Sets, 2)
	require.Equal(t, 60, bench.Sets[0].RestSeconds)
	require.Equal(t, 0, bench.Sets[1].RestSeconds)
	require.Equal(t, 60.0, bench.Sets[0].WeightKg)
	require.Equal(t, 62.5, bench.Sets[1].WeightKg)

	pull := byNotes["Garmin Exercise: Pull Up"]
	require.Equal(t, []int{20, 40, 0}, []int{pull.Sets[0].RestSeconds, pull.Sets[1].RestSeconds, pull.Sets[2].RestSeconds})
	require.Equal(t, 140, *pull.AvgHeartRate)

	presets := store.PresetEntries("user-1")
	require.Len(t, presets, 1)
	require.Equal(t, "Upper Body", presets[0].Name)
	require.Equal(t, "Garmin Workout Session: Upper Body", presets[0].Notes)

	tmpl := store.Templates("user-1")[0]
	require.Equal(t, presets[0].TemplateID, tmpl.ID)
	require.Len(t, tmpl.ExerciseIDs, 2)
	require.Len(t, store.TemplateSets(tmpl.ID, bench.ExerciseID), 2)
}

func TestReconcileActivitiesLeavesExistingTemplates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.WithinTx(ctx, "user-1", func(ctx context.Context, tx domain.Tx) error {
		return tx.CreateTemplate(ctx, domain.WorkoutTemplate{ID: "tmpl-1", OwnerID: "user-1", Name: "upper body"})
	}))

	_, err := quietService(store).ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(sessionItem)})
	require.NoError(t, err)

	templates := store.Templates("user-1")
	require.Len(t, templates, 1)
	require.Empty(t, templates[0].ExerciseIDs)
	require.Equal(t, "tmpl-1", store.PresetEntries("user-1")[0].TemplateID)
}

func TestReconcileActivitiesSimpleActivity(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	_, err := quietService(store).ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(runItem)})
	require.NoError(t, err)

	entries := store.ExerciseEntries("user-1")
	require.Len(t, entries, 1)
	run := entries[0]
	require.Equal(t, 30.0, run.DurationMinutes)
	require.Equal(t, 300.0, run.CaloriesBurned)
	require.NotNil(t, run.DistanceKm)
	require.Equal(t, 5.0, *run.DistanceKm)
	require.Equal(t, 151, *run.AvgHeartRate)
	require.Equal(t, "Garmin Activity: Morning Run (running)", run.Notes)

	exercises := store.Exercises("user-1")
	require.Len(t, exercises, 1)
	require.Equal(t, "Running", exercises[0].Name)
	require.Equal(t, "running", exercises[0].Category)
	require.True(t, exercises[0].IsCustom)

	details := store.ActivityDetails("user-1")
	require.Len(t, details, 1)
	var blob map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(details[0].Data, &blob))
	require.JSONEq(t, `{"lapDTOs":[]}`, string(blob["splits"]))
	require.JSONEq(t, `[]`, string(blob["hr_in_timezones"]))
}

func TestReconcileWorkoutDefinition(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SetPreferences("user-1", domain.Preferences{WeightUnit: units.Pounds})

	res, err := quietService(store).ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Workouts: raws(legDay)})
	require.NoError(t, err)
	require.Len(t, res.Processed, 1)
	require.Equal(t, "workout_definition", res.Processed[0].Type)

	templates := store.Templates("user-1")
	require.Len(t, templates, 1)
	require.Equal(t, "Leg Day", templates[0].Name)
	require.Len(t, templates[0].ExerciseIDs, 1)

	exercises := store.Exercises("user-1")
	require.Len(t, exercises, 1)
	require.Equal(t, "Barbell Squat", exercises[0].Name)
	require.Equal(t, "SQUAT", exercises[0].Category)

	sets := store.TemplateSets(templates[0].ID, exercises[0].ID)
	require.Len(t, sets, 2)
	require.Equal(t, "Warm-up Set", sets[0].SetType)
	require.Equal(t, 10, sets[0].Reps)
	require.Equal(t, 40.0, sets[0].WeightKg)
	require.Equal(t, 2, sets[1].SetNumber)
	require.Equal(t, "Working Set", sets[1].SetType)
	require.Equal(t, 45.36, sets[1].WeightKg)
	require.Empty(t, store.ExerciseEntries("user-1"), "definitions record no performance")
}

func TestReconcileActivitiesPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	outside := `{"activity":{"activityName":"Late Run","startTimeLocal":"2024-04-01 07:00:00","duration":600,"activityType":{"typeKey":"running"}}}`
	noStart := `{"activity":{"activityName":"Walk","duration":600}}`

	res, err := quietService(store).ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(runItem, outside, `[1,2]`, noStart)})

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	require.Len(t, batch.Processed, 1)
	require.Len(t, batch.Errors, 3)
	require.Equal(t, 1, batch.Errors[0].Index)
	require.Equal(t, "2024-04-01", batch.Errors[0].Date)
	require.Equal(t, StatusError, batch.Errors[0].Status)
	require.Equal(t, 1, res.ProcessedEntries)

	require.Len(t, store.ExerciseEntries("user-1"), 1)
	require.Len(t, store.Exercises("user-1"), 1, "a failed item's catalog writes roll back")

	events := store.Events()
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].Processed)
	require.Equal(t, 3, events[0].Failed)
}

func TestReconcileActivitiesItemPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.Fail("CreateActivityDetail", errors.New("disk full"))

	_, err := quietService(store).ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(runItem)})

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	require.Contains(t, batch.Errors[0].Message, "disk full")
	require.Empty(t, store.ExerciseEntries("user-1"))
}

func TestReconcileActivitiesCleanupFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)

	_, err := svc.ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(sessionItem, runItem)})
	require.NoError(t, err)

	boom := errors.New("lock timeout")
	store.Fail("DeletePresetEntries", boom)
	_, err = svc.ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{})
	require.ErrorIs(t, err, ErrCleanupFailed)
	require.ErrorIs(t, err, boom)

	require.Len(t, store.ExerciseEntries("user-1"), 3, "the exercise entry delete was rolled back")
	require.Len(t, store.Events(), 1)
}

func TestReconcileActivitiesKeepsOtherScopes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)

	_, err := svc.ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(runItem)})
	require.NoError(t, err)

	other := marchScope(t)
	other.Provider = "fitbit"
	_, err = svc.ReconcileActivitiesAndWorkouts(ctx, other, ActivitiesPayload{Activities: raws(runItem)})
	require.NoError(t, err)

	later := marchScope(t)
	later.Range, err = domain.NewDateRange("2024-03-02", "2024-03-07")
	require.NoError(t, err)
	_, err = svc.ReconcileActivitiesAndWorkouts(ctx, later, ActivitiesPayload{})
	require.NoError(t, err)

	require.Len(t, store.ExerciseEntries("user-1"), 2)
}

func TestScopeValidation(t *testing.T) {
	svc := quietService(memory.NewStore())
	_, err := svc.ReconcileSleepData(context.Background(), Scope{Provider: "garmin", Range: marchScope(t).Range}, nil)
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = svc.ReconcileSleepData(context.Background(), Scope{UserID: "user-1", Provider: " ", Range: marchScope(t).Range}, nil)
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = svc.ReconcileSleepData(context.Background(), Scope{UserID: "user-1", Provider: "garmin"}, nil)
	require.ErrorIs(t, err, ErrInvalidScope)
}

const night = `{
	"entry_date": "2024-03-02",
	"bedtime": "2024-03-01T23:00:00Z",
	"wake_time": "2024-03-02T07:00:00Z",
	"duration_in_seconds": 28800,
	"stage_events": [
		{"stage_type": "deep", "start_time": "2024-03-01T23:00:00Z", "end_time": "2024-03-02T00:36:00Z"},
		{"stage_type": "rem", "start_time": "2024-03-02T00:36:00Z", "end_time": "2024-03-02T02:21:36Z"},
		{"stage_type": "light", "start_time": "2024-03-02T02:21:36Z", "end_time": "2024-03-02T07:00:00Z"}
	]
}`

func TestReconcileSleepDataIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)

	for i := 0; i < 2; i++ {
		res, err := svc.ReconcileSleepData(ctx, marchScope(t), raws(night))
		require.NoError(t, err)
		require.Equal(t, "All Garmin sleep data successfully processed.", res.Message)
		require.Len(t, res.Processed, 1)
		require.Equal(t, "2024-03-02", res.Processed[0].Date)
	}

	entries := store.SleepEntries("user-1")
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Stages, 3)
	require.GreaterOrEqual(t, entries[0].Score, 90)
}

func TestReconcileSleepDataPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	acting := marchScope(t)
	acting.ActingUserID = "coach-7"

	res, err := quietService(store).ReconcileSleepData(ctx, acting, raws(night, `{"entry_date":"2024-03-03"}`))

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	require.Empty(t, res.Message, "no success message next to failures")
	require.Len(t, res.Processed, 1)
	require.Equal(t, "Some Garmin sleep entries could not be processed.", batch.Message)
	require.Len(t, batch.Processed, 1)
	require.Len(t, batch.Errors, 1)
	require.Equal(t, "2024-03-03", batch.Errors[0].Date)

	var body map[string]any
	require.NoError(t, json.Unmarshal(batch.JSON(), &body))
	require.Contains(t, body, "errors")

	entries := store.SleepEntries("user-1")
	require.Len(t, entries, 1)
	require.Equal(t, "coach-7", entries[0].CreatedBy)
}

func TestReconcileSleepDataCleanupFailure(t *testing.T) {
	store := memory.NewStore()
	store.Fail("DeleteSleepEntries", errors.New("deadlock detected"))

	_, err := quietService(store).ReconcileSleepData(context.Background(), marchScope(t), raws(night))
	require.ErrorIs(t, err, ErrCleanupFailed)
	require.Empty(t, store.SleepEntries("user-1"))
	require.Empty(t, store.Events())
}

func TestReconcileHealthAndWellness(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)
	payload := HealthPayload{
		Stress: raws(
			`{"date":"2024-03-01","raw_stress_data":[{"time":"2024-03-01T08:00:00","stress_level":20},{"time":"2024-03-01T09:00:00","stress_level":40},{"time":"2024-03-01T10:00:00","stress_level":-1}]}`,
			`{"date":"2024-03-02","derived_mood_value":70,"derived_mood_notes":"exported"}`,
		),
		Hydration: raws(`{"date":"2024-03-01","value":2,"unit":"l"}`),
	}

	for i := 0; i < 2; i++ {
		res, err := svc.ReconcileHealthAndWellness(ctx, marchScope(t), payload)
		require.NoError(t, err)
		require.Equal(t, "All Garmin health and wellness data successfully processed.", res.Message)
		require.Len(t, res.Processed, 4)
	}

	measurements := store.Measurements("user-1")
	require.Len(t, measurements, 1)
	require.Equal(t, "Source: Garmin", measurements[0].Notes)

	moods := store.Moods("user-1")
	require.Len(t, moods, 2)
	require.Equal(t, 75, moods[0].Value)
	require.Equal(t, "Derived from Garmin Stress: Average 30 (Confident)", moods[0].Notes)
	require.Equal(t, 70, moods[1].Value)
	require.Equal(t, "exported", moods[1].Notes)

	water := store.WaterIntake("user-1")
	require.Len(t, water, 1)
	require.Equal(t, 2000.0, water[0].Milliliters)
}

func TestReconcileHealthUsesPreferredVolumeUnit(t *testing.T) {
	store := memory.NewStore()
	store.SetPreferences("user-1", domain.Preferences{VolumeUnit: units.FluidOunces})

	_, err := quietService(store).ReconcileHealthAndWellness(context.Background(), marchScope(t), HealthPayload{
		Hydration: raws(`{"date":"2024-03-01","value":10}`),
	})
	require.NoError(t, err)
	require.InDelta(t, 295.7, store.WaterIntake("user-1")[0].Milliliters, 0.05)
}

func TestReconcileHealthPartialFailure(t *testing.T) {
	store := memory.NewStore()
	res, err := quietService(store).ReconcileHealthAndWellness(context.Background(), marchScope(t), HealthPayload{
		Stress: raws(
			`{"date":"2024-03-01"}`,
			`{"date":"2024-03-02","derived_mood_value":140}`,
			`{"date":"2024-03-03","derived_mood_value":40}`,
		),
		Hydration: raws(`{"date":"2024-03-01","value":-3}`, `{"date":"2024-03-01","value":1,"unit":"gallon"}`),
	})

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	require.Equal(t, "Some Garmin health and wellness data entries could not be processed.", batch.Message)
	require.Empty(t, res.Message)
	require.Len(t, batch.Processed, 1)
	require.Len(t, batch.Errors, 4)
	require.Len(t, store.Moods("user-1"), 1)
	require.Empty(t, store.WaterIntake("user-1"))
}

func TestItemsDatedOutsideTheRangeAreRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := quietService(store)
	late := `{"activity":{"activityName":"Late Run","startTimeLocal":"2024-04-01 07:00:00","duration":600,"activityType":{"typeKey":"running"}}}`
	lateNight := `{"entry_date":"2024-04-02","bedtime":"2024-04-01T23:00:00Z","wake_time":"2024-04-02T07:00:00Z","duration_in_seconds":28800}`
	lateWater := `{"date":"2024-04-02","value":500,"unit":"ml"}`

	rejected := func(t *testing.T, err error, date string) {
		t.Helper()
		var batch *BatchError
		require.ErrorAs(t, err, &batch)
		require.Empty(t, batch.Processed)
		require.Len(t, batch.Errors, 1)
		require.Equal(t, 0, batch.Errors[0].Index)
		require.Equal(t, date, batch.Errors[0].Date)
		require.Equal(t, StatusError, batch.Errors[0].Status)
		require.Contains(t, batch.Errors[0].Message, "outside the sync range")
	}

	_, err := svc.ReconcileActivitiesAndWorkouts(ctx, marchScope(t), ActivitiesPayload{Activities: raws(late)})
	rejected(t, err, "2024-04-01")
	_, err = svc.ReconcileSleepData(ctx, marchScope(t), raws(lateNight))
	rejected(t, err, "2024-04-02")
	_, err = svc.ReconcileHealthAndWellness(ctx, marchScope(t), HealthPayload{Hydration: raws(lateWater)})
	rejected(t, err, "2024-04-02")

	require.Empty(t, store.ExerciseEntries("user-1"))
	require.Empty(t, store.SleepEntries("user-1"))
	require.Empty(t, store.WaterIntake("user-1"))
}

func TestScopeLockFailureWritesNothing(t *testing.T) {
	store := memory.NewStore()
	boom := errors.New("canceling statement due to lock timeout")
	store.Fail("LockScope", boom)

	_, err := quietService(store).ReconcileSleepData(context.Background(), marchScope(t), raws(night))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrCleanupFailed)
	require.Empty(t, store.SleepEntries("user-1"))
	require.Empty(t, store.Events())
}
