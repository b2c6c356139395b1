package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/units"
)

// ActivityResult summarizes an activities-and-workouts sync.
type ActivityResult struct {
	ProcessedEntries int       `json:"processedEntries"`
	Processed        []Outcome `json:"processed"`
}

// ReconcileActivitiesAndWorkouts replaces every exercise entry and preset
// entry previously synced from scope's provider within scope's range with the
// entries derived from payload. Workout definitions create templates and
// catalog entries only. When some items fail the committed result is
// returned together with a *BatchError.
func (s *Service) ReconcileActivitiesAndWorkouts(ctx context.Context, scope Scope, payload ActivitiesPayload) (ActivityResult, error) {
	scope, err := scope.normalized()
	if err != nil {
		return ActivityResult{}, err
	}
	started := s.now()

	var res outcomes
	err = s.store.WithinTx(ctx, scope.UserID, func(ctx context.Context, tx domain.Tx) error {
		res = outcomes{}
		if err := lockScope(ctx, tx, scope); err != nil {
			return err
		}

		entries, err := tx.DeleteExerciseEntries(ctx, scope.UserID, scope.Provider, scope.Range)
		if err != nil {
			return s.cleanupFailed(FamilyActivities, scope, err)
		}
		presets, err := tx.DeletePresetEntries(ctx, scope.UserID, scope.Provider, scope.Range)
		if err != nil {
			return s.cleanupFailed(FamilyActivities, scope, err)
		}
		s.logger.Printf("cleanup removed %d exercise entries and %d preset entries (user=%s, provider=%s, range=%s)",
			entries, presets, scope.UserID, scope.Provider, scope.Range)
		observability.RecordCleanup(FamilyActivities, entries+presets)

		prefs, err := tx.Preferences(ctx, scope.UserID)
		if err != nil {
			return fmt.Errorf("load preferences: %w", err)
		}
		run := activityRun{svc: s, scope: scope, norm: prefs.Normalizer()}

		for i, raw := range payload.Activities {
			kind := "activity"
			s.item(ctx, tx, &res, kind, i, func(ctx context.Context, sp domain.Tx) (string, string, error) {
				return run.activity(ctx, sp, raw)
			})
		}
		for i, raw := range payload.Workouts {
			s.item(ctx, tx, &res, string(PipelineWorkoutDefinition), i, func(ctx context.Context, sp domain.Tx) (string, string, error) {
				return run.definition(ctx, sp, raw)
			})
		}

		return s.recordSync(ctx, tx, scope, FamilyActivities, &res)
	})
	s.observe(FamilyActivities, scope, started, &res, err)
	if err != nil {
		return ActivityResult{}, err
	}

	result := ActivityResult{ProcessedEntries: len(res.processed), Processed: nonNil(res.processed)}
	return result, res.batchError("Some activities and workouts could not be processed.")
}

type activityRun struct {
	svc   *Service
	scope Scope
	norm  units.Normalizer
}

func (r activityRun) resolver(tx domain.Tx) Resolver {
	return NewResolver(tx, r.scope.UserID, r.scope.Provider, r.scope.ActingUserID, r.svc.now)
}

func (r activityRun) activity(ctx context.Context, tx domain.Tx, raw json.RawMessage) (string, string, error) {
	var item ActivityItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", "", invalid("activity", "malformed payload: %v", err)
	}
	switch Classify(item) {
	case PipelineWorkoutSession:
		return r.session(ctx, tx, item, raw)
	case PipelineSimpleActivity:
		return r.simple(ctx, tx, item, raw)
	default:
		return "", "", invalid("activity", "item has neither a set list nor an activity summary")
	}
}

// entryDate takes the calendar date the activity started on, as written by
// the device, and requires it to lie inside the sync range so the next sync
// of that range replaces it.
func (r activityRun) entryDate(a *ActivitySummary) (time.Time, error) {
	if a == nil {
		return time.Time{}, invalid("activity", "activity summary is required")
	}
	if a.StartTimeLocal == "" {
		return time.Time{}, invalid("activity.startTimeLocal", "is required")
	}
	start, err := ParseTimestamp(a.StartTimeLocal)
	if err != nil {
		return time.Time{}, invalid("activity.startTimeLocal", "%v", err)
	}
	date := domain.DateOf(start)
	if !r.scope.Range.Contains(date) {
		return date, invalid("activity.startTimeLocal", "entry date %s is outside the sync range %s", dateString(date), r.scope.Range)
	}
	return date, nil
}

func (r activityRun) session(ctx context.Context, tx domain.Tx, item ActivityItem, raw json.RawMessage) (string, string, error) {
	date, err := r.entryDate(item.Activity)
	if err != nil {
		return dateString(date), "", err
	}
	day := dateString(date)
	act := item.Activity

	var vendorSets []VendorSet
	if item.ExerciseSets != nil {
		vendorSets = item.ExerciseSets.ExerciseSets
	}
	grouping, err := GroupSets(vendorSets)
	if err != nil {
		return day, "", err
	}

	name := units.CollapseSpaces(act.ActivityName)
	if name == "" {
		name = r.scope.providerName() + " Workout Session"
	}
	tmplDescription := act.Description
	if tmplDescription == "" {
		tmplDescription = fmt.Sprintf("Workout session from %s: %s", r.scope.providerName(), name)
	}

	res := r.resolver(tx)
	tmpl, created, err := res.Template(ctx, name, tmplDescription)
	if err != nil {
		return day, "", err
	}

	entryDescription := act.Description
	if entryDescription == "" {
		entryDescription = "Logged session of " + name
	}
	preset := domain.PresetEntry{
		ID:          uuid.NewString(),
		UserID:      r.scope.UserID,
		TemplateID:  tmpl.ID,
		Name:        name,
		Description: entryDescription,
		Notes:       fmt.Sprintf("%s Workout Session: %s", r.scope.providerName(), name),
		EntryDate:   date,
		Source:      r.scope.Provider,
		CreatedBy:   r.scope.ActingUserID,
	}
	if err := tx.CreatePresetEntry(ctx, preset); err != nil {
		return day, "", fmt.Errorf("create preset entry: %w", err)
	}
	if err := tx.CreateActivityDetail(ctx, domain.ActivityDetail{
		ID:            uuid.NewString(),
		UserID:        r.scope.UserID,
		PresetEntryID: preset.ID,
		Provider:      r.scope.Provider,
		DetailType:    domain.DetailFullActivity,
		Data:          raw,
		CreatedBy:     r.scope.ActingUserID,
	}); err != nil {
		return day, "", fmt.Errorf("create activity detail: %w", err)
	}

	active := make([]int, len(grouping.Groups))
	for i, g := range grouping.Groups {
		active[i] = g.ActiveSeconds
	}
	calories := AllocateCalories(valueOf(act.Calories), active)
	heartRate := NewCorrelator(item.Details, MetricHeartRate)

	for i, g := range grouping.Groups {
		exercise, _, err := res.Exercise(ctx, g.Name, g.Category)
		if err != nil {
			return day, "", err
		}

		var avgHR *int
		if g.HasWindow {
			avgHR = heartRate.Average(g.WindowStartMs, g.WindowEndMs)
		}
		entry := domain.ExerciseEntry{
			ID:              uuid.NewString(),
			UserID:          r.scope.UserID,
			ExerciseID:      exercise.ID,
			PresetEntryID:   preset.ID,
			EntryDate:       date,
			DurationMinutes: units.SecondsToMinutes(float64(g.ActiveSeconds)),
			CaloriesBurned:  RoundCalories(calories[i]),
			AvgHeartRate:    avgHR,
			Notes:           fmt.Sprintf("%s Exercise: %s", r.scope.providerName(), g.Name),
			Source:          r.scope.Provider,
			Sets:            g.Sets,
			CreatedBy:       r.scope.ActingUserID,
		}
		if err := tx.CreateExerciseEntry(ctx, entry); err != nil {
			return day, "", fmt.Errorf("create exercise entry for %q: %w", g.Name, err)
		}

		if created && !tmpl.HasExercise(exercise.ID) {
			if err := tx.AddExerciseToTemplate(ctx, tmpl.ID, exercise.ID, g.Sets); err != nil {
				return day, "", fmt.Errorf("add %q to template: %w", g.Name, err)
			}
			tmpl.ExerciseIDs = append(tmpl.ExerciseIDs, exercise.ID)
		}
	}
	return day, preset.ID, nil
}

func (r activityRun) simple(ctx context.Context, tx domain.Tx, item ActivityItem, raw json.RawMessage) (string, string, error) {
	date, err := r.entryDate(item.Activity)
	if err != nil {
		return dateString(date), "", err
	}
	day := dateString(date)
	act := item.Activity

	typeKey := ""
	if act.ActivityType != nil {
		typeKey = act.ActivityType.TypeKey
	}
	name := units.TitleCase(typeKey)
	if name == "" {
		name = r.scope.providerName() + " Activity"
	}

	exercise, _, err := r.resolver(tx).Exercise(ctx, name, typeKey)
	if err != nil {
		return day, "", err
	}

	entry := domain.ExerciseEntry{
		ID:              uuid.NewString(),
		UserID:          r.scope.UserID,
		ExerciseID:      exercise.ID,
		EntryDate:       date,
		DurationMinutes: units.Round(units.SecondsToMinutes(math.Max(0, valueOf(act.Duration))), 2),
		CaloriesBurned:  math.Round(math.Max(0, valueOf(act.Calories))),
		Notes:           fmt.Sprintf("%s Activity: %s (%s)", r.scope.providerName(), act.ActivityName, typeKey),
		Source:          r.scope.Provider,
		CreatedBy:       r.scope.ActingUserID,
	}
	if act.Distance != nil {
		unit := act.DistanceUnit
		if unit == "" {
			unit = string(units.Meters)
		}
		km, err := r.norm.DistanceKm(*act.Distance, unit)
		if err != nil {
			return day, "", invalid("activity.distanceUnit", "%v", err)
		}
		entry.DistanceKm = &km
	}
	if act.AverageHeartRate != nil {
		hr := int(math.Round(*act.AverageHeartRate))
		entry.AvgHeartRate = &hr
	}
	if err := tx.CreateExerciseEntry(ctx, entry); err != nil {
		return day, "", fmt.Errorf("create exercise entry: %w", err)
	}

	detail, err := activityDetailBlob(raw)
	if err != nil {
		return day, "", err
	}
	if err := tx.CreateActivityDetail(ctx, domain.ActivityDetail{
		ID:              uuid.NewString(),
		UserID:          r.scope.UserID,
		ExerciseEntryID: entry.ID,
		Provider:        r.scope.Provider,
		DetailType:      domain.DetailFullActivity,
		Data:            detail,
		CreatedBy:       r.scope.ActingUserID,
	}); err != nil {
		return day, "", fmt.Errorf("create activity detail: %w", err)
	}
	return day, entry.ID, nil
}

var detailDefaults = map[string]json.RawMessage{
	"details":         json.RawMessage(`{"activityDetailMetrics":[],"metricDescriptors":[]}`),
	"splits":          json.RawMessage(`{"lapDTOs":[]}`),
	"hr_in_timezones": json.RawMessage(`[]`),
}

// activityDetailBlob keeps the activity, its time series, splits and heart
// rate zones exactly as exported, substituting empty shapes for absent parts.
func activityDetailBlob(raw json.RawMessage) (json.RawMessage, error) {
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, invalid("activity", "malformed payload: %v", err)
	}
	blob := map[string]json.RawMessage{"activity": parts["activity"]}
	for key, fallback := range detailDefaults {
		if v, ok := parts[key]; ok && !isNull(v) {
			blob[key] = v
		} else {
			blob[key] = fallback
		}
	}
	return json.Marshal(blob)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func valueOf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
