package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/events"
	"example.com/devicesync/internal/outbox"
	"example.com/devicesync/internal/synclock"
	"example.com/devicesync/internal/units"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(context.Context, domain.Tx) error) (err error) {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			nested.Rollback(ctx)
		}
	}()
	if err = fn(ctx, &pgTx{tx: nested}); err != nil {
		return err
	}
	return nested.Commit(ctx)
}

// lockSyncScope serializes syncs of one (user, provider) across processes.
// Transaction-level advisory locks are released at commit or rollback.
const lockSyncScope = `SELECT pg_advisory_xact_lock(hashtext($1))`

func (t *pgTx) LockScope(ctx context.Context, userID, source string) error {
	_, err := t.tx.Exec(ctx, lockSyncScope, synclock.Key(userID, source))
	return err
}

const (
	deleteExerciseEntries = `DELETE FROM exercise_entries WHERE user_id=$1 AND source=$2 AND entry_date BETWEEN $3 AND $4`
	deletePresetEntries   = `DELETE FROM workout_preset_entries WHERE user_id=$1 AND source=$2 AND entry_date BETWEEN $3 AND $4`
	deleteSleepEntries    = `DELETE FROM sleep_entries WHERE user_id=$1 AND source=$2 AND entry_date BETWEEN $3 AND $4`
)

func (t *pgTx) scopedDelete(ctx context.Context, stmt, userID, source string, r domain.DateRange) (int64, error) {
	tag, err := t.tx.Exec(ctx, stmt, userID, source, r.Start, r.End)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteExerciseEntries(ctx context.Context, userID, source string, r domain.DateRange) (int64, error) {
	return t.scopedDelete(ctx, deleteExerciseEntries, userID, source, r)
}

func (t *pgTx) DeletePresetEntries(ctx context.Context, userID, source string, r domain.DateRange) (int64, error) {
	return t.scopedDelete(ctx, deletePresetEntries, userID, source, r)
}

func (t *pgTx) DeleteSleepEntries(ctx context.Context, userID, source string, r domain.DateRange) (int64, error) {
	return t.scopedDelete(ctx, deleteSleepEntries, userID, source, r)
}

const selectExercise = `SELECT id::text, owner_id, name, category, COALESCE(equipment, '{}'), COALESCE(primary_muscles, '{}'), source, is_custom, created_at
        FROM exercises WHERE owner_id=$1 AND name_key=$2`

func (t *pgTx) FindExerciseByName(ctx context.Context, ownerID, name string) (*domain.ExerciseDefinition, error) {
	var def domain.ExerciseDefinition
	err := t.tx.QueryRow(ctx, selectExercise, ownerID, units.LookupKey(name)).Scan(
		&def.ID, &def.OwnerID, &def.Name, &def.Category, &def.Equipment, &def.Muscles, &def.Source, &def.IsCustom, &def.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

func (t *pgTx) CreateExercise(ctx context.Context, def domain.ExerciseDefinition) error {
	const stmt = `INSERT INTO exercises (id, owner_id, name, name_key, category, equipment, primary_muscles, source, is_custom, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := t.tx.Exec(ctx, stmt,
		def.ID, def.OwnerID, def.Name, units.LookupKey(def.Name), def.Category, def.Equipment, def.Muscles, def.Source, def.IsCustom, def.CreatedAt,
	)
	return classify(err)
}

const selectTemplate = `SELECT t.id::text, t.owner_id, t.name, t.description, t.created_at,
            ARRAY(SELECT e.exercise_id::text FROM workout_template_exercises e WHERE e.template_id = t.id ORDER BY e.position)
        FROM workout_templates t WHERE t.owner_id=$1 AND t.name_key=$2`

func (t *pgTx) FindTemplateByName(ctx context.Context, ownerID, name string) (*domain.WorkoutTemplate, error) {
	var tmpl domain.WorkoutTemplate
	err := t.tx.QueryRow(ctx, selectTemplate, ownerID, units.LookupKey(name)).Scan(
		&tmpl.ID, &tmpl.OwnerID, &tmpl.Name, &tmpl.Description, &tmpl.CreatedAt, &tmpl.ExerciseIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tmpl, nil
}

func (t *pgTx) CreateTemplate(ctx context.Context, tmpl domain.WorkoutTemplate) error {
	const stmt = `INSERT INTO workout_templates (id, owner_id, name, name_key, description, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := t.tx.Exec(ctx, stmt, tmpl.ID, tmpl.OwnerID, tmpl.Name, units.LookupKey(tmpl.Name), tmpl.Description, tmpl.CreatedAt)
	return classify(err)
}

// templateSet is the JSON shape of a template's default set.
type templateSet struct {
	SetNumber       int     `json:"set_number"`
	SetType         string  `json:"set_type"`
	Reps            int     `json:"reps"`
	WeightKg        float64 `json:"weight"`
	DurationSeconds int     `json:"duration"`
	RestSeconds     int     `json:"rest_time"`
	Notes           string  `json:"notes,omitempty"`
}

func (t *pgTx) AddExerciseToTemplate(ctx context.Context, templateID, exerciseID string, sets []domain.Set) error {
	records := make([]templateSet, len(sets))
	for i, s := range sets {
		records[i] = templateSet{
			SetNumber:       s.SetNumber,
			SetType:         s.SetType,
			Reps:            s.Reps,
			WeightKg:        s.WeightKg,
			DurationSeconds: s.DurationSeconds,
			RestSeconds:     s.RestSeconds,
			Notes:           s.Notes,
		}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO workout_template_exercises (template_id, exercise_id, position, sets)
        VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM workout_template_exercises WHERE template_id = $1), $3)`
	_, err = t.tx.Exec(ctx, stmt, templateID, exerciseID, body)
	return classify(err)
}

func (t *pgTx) CreatePresetEntry(ctx context.Context, entry domain.PresetEntry) error {
	const stmt = `INSERT INTO workout_preset_entries (id, user_id, template_id, name, description, notes, entry_date, source, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := t.tx.Exec(ctx, stmt,
		entry.ID, entry.UserID, nullIfEmpty(entry.TemplateID), entry.Name, entry.Description, entry.Notes, entry.EntryDate, entry.Source, entry.CreatedBy,
	)
	return classify(err)
}

func (t *pgTx) CreateExerciseEntry(ctx context.Context, entry domain.ExerciseEntry) error {
	const stmt = `INSERT INTO exercise_entries (id, user_id, exercise_id, preset_entry_id, entry_date, duration_minutes, calories_burned, distance_km, avg_heart_rate, notes, source, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := t.tx.Exec(ctx, stmt,
		entry.ID, entry.UserID, entry.ExerciseID, nullIfEmpty(entry.PresetEntryID), entry.EntryDate,
		entry.DurationMinutes, entry.CaloriesBurned, entry.DistanceKm, entry.AvgHeartRate, entry.Notes, entry.Source, entry.CreatedBy,
	)
	if err != nil {
		return classify(err)
	}

	const setStmt = `INSERT INTO exercise_entry_sets (exercise_entry_id, set_number, set_type, reps, weight_kg, duration_seconds, rest_seconds, notes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, s := range entry.Sets {
		if _, err := t.tx.Exec(ctx, setStmt, entry.ID, s.SetNumber, s.SetType, s.Reps, s.WeightKg, s.DurationSeconds, s.RestSeconds, s.Notes); err != nil {
			return fmt.Errorf("insert set %d: %w", s.SetNumber, classify(err))
		}
	}
	return nil
}

func (t *pgTx) CreateActivityDetail(ctx context.Context, detail domain.ActivityDetail) error {
	const stmt = `INSERT INTO activity_details (id, user_id, exercise_entry_id, preset_entry_id, provider, detail_type, data, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := t.tx.Exec(ctx, stmt,
		detail.ID, detail.UserID, nullIfEmpty(detail.ExerciseEntryID), nullIfEmpty(detail.PresetEntryID),
		detail.Provider, detail.DetailType, []byte(detail.Data), detail.CreatedBy,
	)
	return classify(err)
}

func (t *pgTx) CreateSleepEntry(ctx context.Context, entry domain.SleepEntry) error {
	const stmt = `INSERT INTO sleep_entries (id, user_id, entry_date, bedtime, wake_time, duration_seconds, time_asleep_seconds, sleep_score, source, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := t.tx.Exec(ctx, stmt,
		entry.ID, entry.UserID, entry.EntryDate, entry.Bedtime, entry.WakeTime,
		entry.DurationSeconds, entry.TimeAsleepSeconds, entry.Score, entry.Source, entry.CreatedBy,
	)
	if err != nil {
		return classify(err)
	}

	const stageStmt = `INSERT INTO sleep_stage_events (sleep_entry_id, stage_type, start_time, end_time, duration_seconds)
        VALUES ($1,$2,$3,$4,$5)`
	for i, stage := range entry.Stages {
		if _, err := t.tx.Exec(ctx, stageStmt, entry.ID, string(stage.StageType), nullTime(stage.Start), nullTime(stage.End), stage.DurationSeconds); err != nil {
			return fmt.Errorf("insert stage %d: %w", i, classify(err))
		}
	}
	return nil
}

func (t *pgTx) FindMeasurementCategory(ctx context.Context, userID, name string) (*domain.MeasurementCategory, error) {
	const query = `SELECT id::text, user_id, name, data_type, measurement_type, created_by
        FROM custom_categories WHERE user_id=$1 AND name=$2`
	var c domain.MeasurementCategory
	err := t.tx.QueryRow(ctx, query, userID, name).Scan(&c.ID, &c.UserID, &c.Name, &c.DataType, &c.MeasurementType, &c.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) CreateMeasurementCategory(ctx context.Context, c domain.MeasurementCategory) error {
	const stmt = `INSERT INTO custom_categories (id, user_id, name, data_type, measurement_type, created_by)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := t.tx.Exec(ctx, stmt, c.ID, c.UserID, c.Name, c.DataType, c.MeasurementType, c.CreatedBy)
	return classify(err)
}

func (t *pgTx) UpsertCustomMeasurement(ctx context.Context, m domain.CustomMeasurement) error {
	const stmt = `INSERT INTO custom_measurements (category_id, user_id, entry_date, value, notes, source, created_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (category_id, entry_date)
        DO UPDATE SET value = EXCLUDED.value, notes = EXCLUDED.notes, source = EXCLUDED.source, updated_at = NOW()`
	_, err := t.tx.Exec(ctx, stmt, m.CategoryID, m.UserID, m.EntryDate, m.Value, m.Notes, m.Source, m.CreatedBy)
	return classify(err)
}

func (t *pgTx) UpsertMood(ctx context.Context, mood domain.MoodEntry) error {
	const stmt = `INSERT INTO mood_entries (user_id, entry_date, mood_value, notes, created_by)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (user_id, entry_date)
        DO UPDATE SET mood_value = EXCLUDED.mood_value, notes = EXCLUDED.notes, updated_at = NOW()`
	_, err := t.tx.Exec(ctx, stmt, mood.UserID, mood.EntryDate, mood.Value, mood.Notes, mood.CreatedBy)
	return classify(err)
}

func (t *pgTx) UpsertWaterIntake(ctx context.Context, water domain.WaterIntake) error {
	const stmt = `INSERT INTO water_intake (user_id, entry_date, water_ml, source, created_by)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (user_id, entry_date)
        DO UPDATE SET water_ml = EXCLUDED.water_ml, source = EXCLUDED.source, updated_at = NOW()`
	_, err := t.tx.Exec(ctx, stmt, water.UserID, water.EntryDate, water.Milliliters, water.Source, water.CreatedBy)
	return classify(err)
}

// Preferences returns the stored unit preferences; a user without a row gets
// the metric defaults.
func (t *pgTx) Preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	const query = `SELECT weight_unit, distance_unit, volume_unit FROM user_preferences WHERE user_id=$1`
	var weight, distance, volume string
	if err := t.tx.QueryRow(ctx, query, userID).Scan(&weight, &distance, &volume); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Preferences{}, nil
		}
		return domain.Preferences{}, err
	}

	var prefs domain.Preferences
	var err error
	if prefs.WeightUnit, err = units.ParseWeightUnit(weight); err != nil {
		return domain.Preferences{}, fmt.Errorf("stored preference: %w", err)
	}
	if prefs.DistanceUnit, err = units.ParseDistanceUnit(distance); err != nil {
		return domain.Preferences{}, fmt.Errorf("stored preference: %w", err)
	}
	if prefs.VolumeUnit, err = units.ParseVolumeUnit(volume); err != nil {
		return domain.Preferences{}, fmt.Errorf("stored preference: %w", err)
	}
	return prefs, nil
}

func (t *pgTx) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	const query = `SELECT date_of_birth, COALESCE(sex, '') FROM user_profiles WHERE user_id=$1`
	var profile domain.Profile
	if err := t.tx.QueryRow(ctx, query, userID).Scan(&profile.DateOfBirth, &profile.Sex); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, nil
		}
		return domain.Profile{}, err
	}
	return profile, nil
}

func (t *pgTx) SleepEntriesInRange(ctx context.Context, userID string, r domain.DateRange) ([]domain.SleepEntry, error) {
	const query = `SELECT id::text, user_id, entry_date, bedtime, wake_time, duration_seconds, time_asleep_seconds, sleep_score, source, created_by
        FROM sleep_entries WHERE user_id=$1 AND entry_date BETWEEN $2 AND $3
        ORDER BY entry_date, bedtime`

	rows, err := t.tx.Query(ctx, query, userID, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.SleepEntry, 0)
	index := make(map[string]int)
	ids := make([]string, 0)
	for rows.Next() {
		var e domain.SleepEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryDate, &e.Bedtime, &e.WakeTime, &e.DurationSeconds, &e.TimeAsleepSeconds, &e.Score, &e.Source, &e.CreatedBy); err != nil {
			return nil, err
		}
		index[e.ID] = len(entries)
		ids = append(ids, e.ID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return entries, nil
	}

	const stageQuery = `SELECT sleep_entry_id::text, stage_type, start_time, end_time, duration_seconds
        FROM sleep_stage_events WHERE sleep_entry_id::text = ANY($1)
        ORDER BY sleep_entry_id, start_time NULLS LAST, id`

	stageRows, err := t.tx.Query(ctx, stageQuery, ids)
	if err != nil {
		return nil, err
	}
	defer stageRows.Close()

	for stageRows.Next() {
		var entryID, kind string
		var start, end *time.Time
		var stage domain.SleepStageEvent
		if err := stageRows.Scan(&entryID, &kind, &start, &end, &stage.DurationSeconds); err != nil {
			return nil, err
		}
		stage.StageType = domain.StageType(kind)
		if start != nil {
			stage.Start = start.UTC()
		}
		if end != nil {
			stage.End = end.UTC()
		}
		i := index[entryID]
		entries[i].Stages = append(entries[i].Stages, stage)
	}
	return entries, stageRows.Err()
}

// RecordSyncEvent writes a sync-completed event to the outbox in the current
// transaction.
func (t *pgTx) RecordSyncEvent(ctx context.Context, evt domain.SyncEvent) error {
	route, err := outbox.Lookup(events.TypeSyncCompleted)
	if err != nil {
		return err
	}
	body, err := json.Marshal(events.SyncCompleted{
		EventID:     evt.ID,
		UserID:      evt.UserID,
		Provider:    evt.Provider,
		Family:      evt.Family,
		StartDate:   evt.Range.Start.Format(domain.DateLayout),
		EndDate:     evt.Range.End.Format(domain.DateLayout),
		Processed:   evt.Processed,
		Failed:      evt.Failed,
		CompletedAt: evt.CompletedAt,
	})
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = t.tx.Exec(ctx, stmt,
		evt.UserID,
		"device_sync",
		evt.ID,
		events.TypeSyncCompleted,
		route.Topic,
		route.SchemaSubject,
		route.PartitionKey(evt.UserID, evt.Provider),
		body,
		fmt.Sprintf("%s:%s", evt.ID, events.TypeSyncCompleted),
	)
	return classify(err)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ domain.Tx = (*pgTx)(nil)
