package memory

import (
	"context"
	"fmt"

	"example.com/devicesync/internal/domain"
)

type memTx struct {
	store *Store
	state *state
}

func (t *memTx) check(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.store.failure(method)
}

func (t *memTx) Savepoint(ctx context.Context, fn func(context.Context, domain.Tx) error) error {
	if err := t.check(ctx, "Savepoint"); err != nil {
		return err
	}
	nested := &memTx{store: t.store, state: t.state.clone()}
	if err := fn(ctx, nested); err != nil {
		return err
	}
	t.state = nested.state
	return nil
}

// LockScope only honors injected failures: memory transactions already run
// one at a time.
func (t *memTx) LockScope(ctx context.Context, _, _ string) error {
	return t.check(ctx, "LockScope")
}

func (t *memTx) DeleteExerciseEntries(ctx context.Context, userID, source string, r domain.DateRange) (int64, error) {
	if err := t.check(ctx, "DeleteExerciseEntries"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range t.state.entries {
		if e.UserID == userID && e.Source == source && r.Contains(e.EntryDate) {
			t.deleteEntry(id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) deleteEntry(id string) {
	delete(t.state.entries, id)
	for detailID, d := range t.state.details {
		if d.ExerciseEntryID == id {
			delete(t.state.details, detailID)
		}
	}
}

func (t *memTx) DeletePresetEntries(ctx context.Context, userID, source string, r domain.DateRange) (int64, error) {
	if err := t.check(ctx, "DeletePresetEntries"); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range t.state.presets {
		if p.UserID != userID || p.Source != source || !r.Contains(p.EntryDate) {
			continue
		}
		delete(t.state.presets, id)
		for entryID, e := range t.state.entries {
			if e.PresetEntryID == id {
				t.deleteEntry(entryID)
			}
		}
		for detailID, d := range t.state.details {
			if d.PresetEntryID == id {
				delete(t.state.details, detailID)
			}
		}
		n++
	}
	return n, nil
}

func (t *memTx) DeleteSleepEntries(ctx context.Context, userID, source string, r domain.DateRange) (int64, error) {
	if err := t.check(ctx, "DeleteSleepEntries"); err != nil {
		return 0, err
	}
	var n int64
	for id, e := range t.state.sleep {
		if e.UserID == userID && e.Source == source && r.Contains(e.EntryDate) {
			delete(t.state.sleep, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) FindExerciseByName(ctx context.Context, ownerID, name string) (*domain.ExerciseDefinition, error) {
	if err := t.check(ctx, "FindExerciseByName"); err != nil {
		return nil, err
	}
	for _, e := range t.state.exercises {
		if e.OwnerID == ownerID && sameName(e.Name, name) {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateExercise(ctx context.Context, def domain.ExerciseDefinition) error {
	if err := t.check(ctx, "CreateExercise"); err != nil {
		return err
	}
	for _, e := range t.state.exercises {
		if e.ID == def.ID || (e.OwnerID == def.OwnerID && sameName(e.Name, def.Name)) {
			return fmt.Errorf("exercise %q: %w", def.Name, domain.ErrConflict)
		}
	}
	t.state.exercises[def.ID] = def
	return nil
}

func (t *memTx) FindTemplateByName(ctx context.Context, ownerID, name string) (*domain.WorkoutTemplate, error) {
	if err := t.check(ctx, "FindTemplateByName"); err != nil {
		return nil, err
	}
	for _, tmpl := range t.state.templates {
		if tmpl.OwnerID == ownerID && sameName(tmpl.Name, name) {
			found := tmpl
			found.ExerciseIDs = append([]string(nil), tmpl.ExerciseIDs...)
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateTemplate(ctx context.Context, tmpl domain.WorkoutTemplate) error {
	if err := t.check(ctx, "CreateTemplate"); err != nil {
		return err
	}
	for _, existing := range t.state.templates {
		if existing.ID == tmpl.ID || (existing.OwnerID == tmpl.OwnerID && sameName(existing.Name, tmpl.Name)) {
			return fmt.Errorf("template %q: %w", tmpl.Name, domain.ErrConflict)
		}
	}
	tmpl.ExerciseIDs = nil
	t.state.templates[tmpl.ID] = tmpl
	return nil
}

func (t *memTx) AddExerciseToTemplate(ctx context.Context, templateID, exerciseID string, sets []domain.Set) error {
	if err := t.check(ctx, "AddExerciseToTemplate"); err != nil {
		return err
	}
	tmpl, ok := t.state.templates[templateID]
	if !ok {
		return missing("template", templateID)
	}
	if _, ok := t.state.exercises[exerciseID]; !ok {
		return missing("exercise", exerciseID)
	}
	if tmpl.HasExercise(exerciseID) {
		return fmt.Errorf("template %s already holds exercise %s: %w", templateID, exerciseID, domain.ErrConflict)
	}
	tmpl.ExerciseIDs = append(append([]string(nil), tmpl.ExerciseIDs...), exerciseID)
	t.state.templates[templateID] = tmpl
	list := append([]templateExercise(nil), t.state.templateSets[templateID]...)
	t.state.templateSets[templateID] = append(list, templateExercise{exerciseID: exerciseID, sets: append([]domain.Set(nil), sets...)})
	return nil
}

func (t *memTx) CreatePresetEntry(ctx context.Context, entry domain.PresetEntry) error {
	if err := t.check(ctx, "CreatePresetEntry"); err != nil {
		return err
	}
	if entry.TemplateID != "" {
		if _, ok := t.state.templates[entry.TemplateID]; !ok {
			return missing("template", entry.TemplateID)
		}
	}
	if _, ok := t.state.presets[entry.ID]; ok {
		return fmt.Errorf("preset entry %s: %w", entry.ID, domain.ErrConflict)
	}
	t.state.presets[entry.ID] = entry
	return nil
}

func (t *memTx) CreateExerciseEntry(ctx context.Context, entry domain.ExerciseEntry) error {
	if err := t.check(ctx, "CreateExerciseEntry"); err != nil {
		return err
	}
	if _, ok := t.state.exercises[entry.ExerciseID]; !ok {
		return missing("exercise", entry.ExerciseID)
	}
	if entry.PresetEntryID != "" {
		if _, ok := t.state.presets[entry.PresetEntryID]; !ok {
			return missing("preset entry", entry.PresetEntryID)
		}
	}
	if _, ok := t.state.entries[entry.ID]; ok {
		return fmt.Errorf("exercise entry %s: %w", entry.ID, domain.ErrConflict)
	}
	entry.Sets = append([]domain.Set(nil), entry.Sets...)
	t.state.entries[entry.ID] = entry
	return nil
}

func (t *memTx) CreateActivityDetail(ctx context.Context, detail domain.ActivityDetail) error {
	if err := t.check(ctx, "CreateActivityDetail"); err != nil {
		return err
	}
	switch {
	case detail.ExerciseEntryID != "":
		if _, ok := t.state.entries[detail.ExerciseEntryID]; !ok {
			return missing("exercise entry", detail.ExerciseEntryID)
		}
	case detail.PresetEntryID != "":
		if _, ok := t.state.presets[detail.PresetEntryID]; !ok {
			return missing("preset entry", detail.PresetEntryID)
		}
	default:
		return fmt.Errorf("activity detail %s has no owner: %w", detail.ID, domain.ErrReferenceMissing)
	}
	t.state.details[detail.ID] = detail
	return nil
}

func (t *memTx) CreateSleepEntry(ctx context.Context, entry domain.SleepEntry) error {
	if err := t.check(ctx, "CreateSleepEntry"); err != nil {
		return err
	}
	if _, ok := t.state.sleep[entry.ID]; ok {
		return fmt.Errorf("sleep entry %s: %w", entry.ID, domain.ErrConflict)
	}
	entry.Stages = append([]domain.SleepStageEvent(nil), entry.Stages...)
	t.state.sleep[entry.ID] = entry
	return nil
}

func (t *memTx) FindMeasurementCategory(ctx context.Context, userID, name string) (*domain.MeasurementCategory, error) {
	if err := t.check(ctx, "FindMeasurementCategory"); err != nil {
		return nil, err
	}
	for _, c := range t.state.categories {
		if c.UserID == userID && c.Name == name {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateMeasurementCategory(ctx context.Context, category domain.MeasurementCategory) error {
	if err := t.check(ctx, "CreateMeasurementCategory"); err != nil {
		return err
	}
	for _, c := range t.state.categories {
		if c.ID == category.ID || (c.UserID == category.UserID && c.Name == category.Name) {
			return fmt.Errorf("measurement category %q: %w", category.Name, domain.ErrConflict)
		}
	}
	t.state.categories[category.ID] = category
	return nil
}

func (t *memTx) UpsertCustomMeasurement(ctx context.Context, m domain.CustomMeasurement) error {
	if err := t.check(ctx, "UpsertCustomMeasurement"); err != nil {
		return err
	}
	if _, ok := t.state.categories[m.CategoryID]; !ok {
		return missing("measurement category", m.CategoryID)
	}
	t.state.measurements[measurementKey{categoryID: m.CategoryID, date: dateKey(m.EntryDate)}] = m
	return nil
}

func (t *memTx) UpsertMood(ctx context.Context, mood domain.MoodEntry) error {
	if err := t.check(ctx, "UpsertMood"); err != nil {
		return err
	}
	t.state.moods[dayKey{userID: mood.UserID, date: dateKey(mood.EntryDate)}] = mood
	return nil
}

func (t *memTx) UpsertWaterIntake(ctx context.Context, water domain.WaterIntake) error {
	if err := t.check(ctx, "UpsertWaterIntake"); err != nil {
		return err
	}
	t.state.water[dayKey{userID: water.UserID, date: dateKey(water.EntryDate)}] = water
	return nil
}

func (t *memTx) Preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	if err := t.check(ctx, "Preferences"); err != nil {
		return domain.Preferences{}, err
	}
	t.store.settingsMu.RLock()
	defer t.store.settingsMu.RUnlock()
	return t.store.preferences[userID], nil
}

func (t *memTx) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	if err := t.check(ctx, "Profile"); err != nil {
		return domain.Profile{}, err
	}
	t.store.settingsMu.RLock()
	defer t.store.settingsMu.RUnlock()
	return t.store.profiles[userID], nil
}

func (t *memTx) SleepEntriesInRange(ctx context.Context, userID string, r domain.DateRange) ([]domain.SleepEntry, error) {
	if err := t.check(ctx, "SleepEntriesInRange"); err != nil {
		return nil, err
	}
	return sleepEntries(t.state, userID, &r), nil
}

func (t *memTx) RecordSyncEvent(ctx context.Context, evt domain.SyncEvent) error {
	if err := t.check(ctx, "RecordSyncEvent"); err != nil {
		return err
	}
	t.state.events = append(t.state.events, evt)
	return nil
}

var _ domain.Tx = (*memTx)(nil)
