// Package memory is an in-process implementation of domain.Store. Each
// transaction works on a private copy of the state that replaces the shared
// state on commit, which gives the same all-or-nothing and savepoint
// semantics as the Postgres store. It backs local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/units"
)

type dayKey struct {
	userID string
	date   string
}

type measurementKey struct {
	categoryID string
	date       string
}

type templateExercise struct {
	exerciseID string
	sets       []domain.Set
}

type state struct {
	exercises    map[string]domain.ExerciseDefinition
	templates    map[string]domain.WorkoutTemplate
	templateSets map[string][]templateExercise
	presets      map[string]domain.PresetEntry
	entries      map[string]domain.ExerciseEntry
	details      map[string]domain.ActivityDetail
	sleep        map[string]domain.SleepEntry
	categories   map[string]domain.MeasurementCategory
	measurements map[measurementKey]domain.CustomMeasurement
	moods        map[dayKey]domain.MoodEntry
	water        map[dayKey]domain.WaterIntake
	events       []domain.SyncEvent
}

func newState() *state {
	return &state{
		exercises:    map[string]domain.ExerciseDefinition{},
		templates:    map[string]domain.WorkoutTemplate{},
		templateSets: map[string][]templateExercise{},
		presets:      map[string]domain.PresetEntry{},
		entries:      map[string]domain.ExerciseEntry{},
		details:      map[string]domain.ActivityDetail{},
		sleep:        map[string]domain.SleepEntry{},
		categories:   map[string]domain.MeasurementCategory{},
		measurements: map[measurementKey]domain.CustomMeasurement{},
		moods:        map[dayKey]domain.MoodEntry{},
		water:        map[dayKey]domain.WaterIntake{},
	}
}

// clone copies every table. Stored values are never mutated in place, so
// copying the maps is enough to isolate a transaction.
func (s *state) clone() *state {
	return &state{
		exercises:    copyMap(s.exercises),
		templates:    copyMap(s.templates),
		templateSets: copyMap(s.templateSets),
		presets:      copyMap(s.presets),
		entries:      copyMap(s.entries),
		details:      copyMap(s.details),
		sleep:        copyMap(s.sleep),
		categories:   copyMap(s.categories),
		measurements: copyMap(s.measurements),
		moods:        copyMap(s.moods),
		water:        copyMap(s.water),
		events:       append([]domain.SyncEvent(nil), s.events...),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store keeps all records in memory. Transactions are serialized.
type Store struct {
	mu    sync.Mutex
	state *state

	settingsMu  sync.RWMutex
	preferences map[string]domain.Preferences
	profiles    map[string]domain.Profile
	failures    map[string]error
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		state:       newState(),
		preferences: map[string]domain.Preferences{},
		profiles:    map[string]domain.Profile{},
		failures:    map[string]error{},
	}
}

// SetPreferences stores the unit preferences of a user.
func (s *Store) SetPreferences(userID string, prefs domain.Preferences) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.preferences[userID] = prefs
}

// SetProfile stores the demographic profile of a user.
func (s *Store) SetProfile(userID string, profile domain.Profile) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.profiles[userID] = profile
}

// Fail makes every later call of the named Tx method return err. A nil err
// clears the failure.
func (s *Store) Fail(method string, err error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) failure(method string) error {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.failures[method]
}

// WithinTx implements domain.Store.
func (s *Store) WithinTx(ctx context.Context, userID string, fn func(context.Context, domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) snapshot() *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExerciseEntries returns the committed exercise entries of a user ordered by
// date then notes.
func (s *Store) ExerciseEntries(userID string) []domain.ExerciseEntry {
	st := s.snapshot()
	var out []domain.ExerciseEntry
	for _, e := range st.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].Notes < out[j].Notes
	})
	return out
}

// PresetEntries returns the committed preset entries of a user.
func (s *Store) PresetEntries(userID string) []domain.PresetEntry {
	st := s.snapshot()
	var out []domain.PresetEntry
	for _, p := range st.presets {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.Before(out[j].EntryDate) })
	return out
}

// ActivityDetails returns the committed detail blobs of a user.
func (s *Store) ActivityDetails(userID string) []domain.ActivityDetail {
	st := s.snapshot()
	var out []domain.ActivityDetail
	for _, d := range st.details {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out
}

// Exercises returns the committed catalog entries owned by ownerID, by name.
func (s *Store) Exercises(ownerID string) []domain.ExerciseDefinition {
	st := s.snapshot()
	var out []domain.ExerciseDefinition
	for _, e := range st.exercises {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Templates returns the committed templates owned by ownerID, by name.
func (s *Store) Templates(ownerID string) []domain.WorkoutTemplate {
	st := s.snapshot()
	var out []domain.WorkoutTemplate
	for _, t := range st.templates {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TemplateSets returns the default sets stored for one exercise of a template.
func (s *Store) TemplateSets(templateID, exerciseID string) []domain.Set {
	st := s.snapshot()
	for _, te := range st.templateSets[templateID] {
		if te.exerciseID == exerciseID {
			return te.sets
		}
	}
	return nil
}

// SleepEntries returns the committed sleep entries of a user ordered by date.
func (s *Store) SleepEntries(userID string) []domain.SleepEntry {
	st := s.snapshot()
	return sleepEntries(st, userID, nil)
}

// Measurements returns the committed custom measurements of a user.
func (s *Store) Measurements(userID string) []domain.CustomMeasurement {
	st := s.snapshot()
	var out []domain.CustomMeasurement
	for _, m := range st.measurements {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.Before(out[j].EntryDate) })
	return out
}

// Moods returns the committed mood entries of a user ordered by date.
func (s *Store) Moods(userID string) []domain.MoodEntry {
	st := s.snapshot()
	var out []domain.MoodEntry
	for k, m := range st.moods {
		if k.userID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.Before(out[j].EntryDate) })
	return out
}

// WaterIntake returns the committed hydration totals of a user ordered by date.
func (s *Store) WaterIntake(userID string) []domain.WaterIntake {
	st := s.snapshot()
	var out []domain.WaterIntake
	for k, w := range st.water {
		if k.userID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.Before(out[j].EntryDate) })
	return out
}

// Events returns the committed sync events in commit order.
func (s *Store) Events() []domain.SyncEvent {
	st := s.snapshot()
	return append([]domain.SyncEvent(nil), st.events...)
}

// SleepEntriesInRange reads committed sleep entries outside of a sync.
func (s *Store) SleepEntriesInRange(ctx context.Context, userID string, r domain.DateRange) ([]domain.SleepEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := s.snapshot()
	return sleepEntries(st, userID, &r), nil
}

// Profile reads a user's profile outside of a sync.
func (s *Store) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return domain.Profile{}, err
	}
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.profiles[userID], nil
}

func sleepEntries(st *state, userID string, r *domain.DateRange) []domain.SleepEntry {
	var out []domain.SleepEntry
	for _, e := range st.sleep {
		if e.UserID != userID {
			continue
		}
		if r != nil && !r.Contains(e.EntryDate) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].Bedtime.Before(out[j].Bedtime)
	})
	return out
}

func dateKey(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func sameName(a, b string) bool {
	return units.LookupKey(a) == units.LookupKey(b)
}

var _ domain.Store = (*Store)(nil)

func missing(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrReferenceMissing)
}
