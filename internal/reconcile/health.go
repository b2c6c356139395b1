package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/units"
)

// RawStressCategory is the custom measurement category raw stress samples
// are stored under.
const RawStressCategory = "Raw Stress Data"

type moodBand struct {
	upper int
	value int
	label string
}

// Stress levels run 0-100; each band maps to a mood value and label.
var moodBands = []moodBand{
	{10, 95, "Excited"},
	{25, 85, "Happy"},
	{35, 75, "Confident"},
	{50, 65, "Calm"},
	{60, 55, "Thoughtful"},
	{75, 45, "Neutral"},
	{85, 35, "Worried"},
	{95, 25, "Angry"},
	{100, 15, "Sad/Tired"},
}

// MoodFromStress maps an average stress level to a mood value and label.
// Negative or out-of-range levels yield no mood.
func MoodFromStress(level float64) (value int, label string, ok bool) {
	rounded := int(math.Round(level))
	if rounded < 0 {
		return 0, "", false
	}
	for _, band := range moodBands {
		if rounded <= band.upper {
			return band.value, band.label, true
		}
	}
	return 0, "", false
}

// AverageStress averages the valid (0-100) levels of raw stress samples.
func AverageStress(samples []StressSample) (float64, bool) {
	var sum float64
	var count int
	for _, s := range samples {
		if s.StressLevel == nil || *s.StressLevel < 0 || *s.StressLevel > 100 {
			continue
		}
		sum += *s.StressLevel
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// ReconcileHealthAndWellness upserts per-day stress, mood and hydration
// records. Each record is keyed by day, so repeated syncs overwrite rather
// than accumulate and no delete phase is needed. When some records fail the
// committed result is returned together with a *BatchError.
func (s *Service) ReconcileHealthAndWellness(ctx context.Context, scope Scope, payload HealthPayload) (BatchResult, error) {
	scope, err := scope.normalized()
	if err != nil {
		return BatchResult{}, err
	}
	started := s.now()

	var res outcomes
	err = s.store.WithinTx(ctx, scope.UserID, func(ctx context.Context, tx domain.Tx) error {
		res = outcomes{}
		if err := lockScope(ctx, tx, scope); err != nil {
			return err
		}

		prefs, err := tx.Preferences(ctx, scope.UserID)
		if err != nil {
			return fmt.Errorf("load preferences: %w", err)
		}
		run := healthRun{svc: s, scope: scope, norm: prefs.Normalizer()}

		for i, raw := range payload.Stress {
			run.stress(ctx, tx, &res, i, raw)
		}
		for i, raw := range payload.Hydration {
			s.item(ctx, tx, &res, "hydration", i, func(ctx context.Context, sp domain.Tx) (string, string, error) {
				return run.hydration(ctx, sp, raw)
			})
		}

		return s.recordSync(ctx, tx, scope, FamilyHealth, &res)
	})
	s.observe(FamilyHealth, scope, started, &res, err)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Processed: nonNil(res.processed)}
	if len(res.failed) == 0 {
		result.Message = fmt.Sprintf("All %s health and wellness data successfully processed.", scope.providerName())
	}
	return result, res.batchError(fmt.Sprintf("Some %s health and wellness data entries could not be processed.", scope.providerName()))
}

type healthRun struct {
	svc   *Service
	scope Scope
	norm  units.Normalizer
}

func (r healthRun) day(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", invalid("date", "is required")
	}
	date, err := domain.ParseDate(raw)
	if err != nil {
		return "", invalid("date", "%v", err)
	}
	if !r.scope.Range.Contains(date) {
		return dateString(date), invalid("date", "%s is outside the sync range %s", dateString(date), r.scope.Range)
	}
	return dateString(date), nil
}

// stress stores the raw samples and the mood of one day as two records,
// each with its own outcome.
func (r healthRun) stress(ctx context.Context, tx domain.Tx, res *outcomes, index int, raw json.RawMessage) {
	var item StressItem
	if err := json.Unmarshal(raw, &item); err != nil {
		res.failure("stress", index, "", invalid("stress entry", "malformed payload: %v", err))
		return
	}
	day, err := r.day(item.Date)
	if err != nil {
		res.failure("stress", index, day, err)
		return
	}
	date, _ := domain.ParseDate(day)

	hasRaw := !isNull(item.RawStressData) && !isEmptyArray(item.RawStressData)
	mood, notes, hasMood, moodErr := r.mood(item)
	if !hasRaw && !hasMood && moodErr == nil {
		res.failure("stress", index, day, invalid("stress entry", "carries neither raw samples nor a mood value"))
		return
	}

	if hasRaw {
		r.svc.item(ctx, tx, res, "raw_stress_data", index, func(ctx context.Context, sp domain.Tx) (string, string, error) {
			category, err := r.stressCategory(ctx, sp)
			if err != nil {
				return day, "", err
			}
			err = sp.UpsertCustomMeasurement(ctx, domain.CustomMeasurement{
				UserID:     r.scope.UserID,
				CategoryID: category.ID,
				EntryDate:  date,
				Value:      string(item.RawStressData),
				Notes:      "Source: " + r.scope.providerName(),
				Source:     r.scope.Provider,
				CreatedBy:  r.scope.ActingUserID,
			})
			if err != nil {
				return day, "", fmt.Errorf("upsert raw stress data: %w", err)
			}
			return day, category.ID, nil
		})
	}

	if moodErr != nil {
		res.failure("derived_mood_value", index, day, moodErr)
		return
	}
	if hasMood {
		r.svc.item(ctx, tx, res, "derived_mood_value", index, func(ctx context.Context, sp domain.Tx) (string, string, error) {
			err := sp.UpsertMood(ctx, domain.MoodEntry{
				UserID:    r.scope.UserID,
				EntryDate: date,
				Value:     mood,
				Notes:     notes,
				CreatedBy: r.scope.ActingUserID,
			})
			if err != nil {
				return day, "", fmt.Errorf("upsert mood: %w", err)
			}
			return day, "", nil
		})
	}
}

// mood prefers the exported mood value and otherwise derives one from the
// average of the raw stress samples.
func (r healthRun) mood(item StressItem) (value int, notes string, ok bool, err error) {
	if item.DerivedMoodValue != nil {
		v := int(math.Round(*item.DerivedMoodValue))
		if v < 0 || v > 100 {
			return 0, "", false, invalid("derived_mood_value", "%d is outside 0-100", v)
		}
		return v, item.DerivedMoodNotes, true, nil
	}
	if isNull(item.RawStressData) {
		return 0, "", false, nil
	}
	var samples []StressSample
	if err := json.Unmarshal(item.RawStressData, &samples); err != nil {
		return 0, "", false, nil
	}
	avg, ok := AverageStress(samples)
	if !ok {
		return 0, "", false, nil
	}
	v, label, ok := MoodFromStress(avg)
	if !ok {
		return 0, "", false, nil
	}
	return v, fmt.Sprintf("Derived from %s Stress: Average %.0f (%s)", r.scope.providerName(), avg, label), true, nil
}

func (r healthRun) stressCategory(ctx context.Context, tx domain.Tx) (*domain.MeasurementCategory, error) {
	existing, err := tx.FindMeasurementCategory(ctx, r.scope.UserID, RawStressCategory)
	if err != nil {
		return nil, fmt.Errorf("find measurement category: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	category := domain.MeasurementCategory{
		ID:              uuid.NewString(),
		UserID:          r.scope.UserID,
		Name:            RawStressCategory,
		DataType:        "text",
		MeasurementType: "JSON",
		CreatedBy:       r.scope.ActingUserID,
	}
	if err := tx.CreateMeasurementCategory(ctx, category); err != nil {
		return nil, fmt.Errorf("create measurement category: %w", err)
	}
	return &category, nil
}

func (r healthRun) hydration(ctx context.Context, tx domain.Tx, raw json.RawMessage) (string, string, error) {
	var item HydrationItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", "", invalid("hydration entry", "malformed payload: %v", err)
	}
	day, err := r.day(item.Date)
	if err != nil {
		return day, "", err
	}
	if item.Value == nil {
		return day, "", invalid("value", "is required")
	}
	if *item.Value < 0 {
		return day, "", invalid("value", "must not be negative")
	}
	ml, err := r.norm.VolumeMl(*item.Value, item.Unit)
	if err != nil {
		return day, "", invalid("unit", "%v", err)
	}
	date, _ := domain.ParseDate(day)
	err = tx.UpsertWaterIntake(ctx, domain.WaterIntake{
		UserID:      r.scope.UserID,
		EntryDate:   date,
		Milliliters: ml,
		Source:      r.scope.Provider,
		CreatedBy:   r.scope.ActingUserID,
	})
	if err != nil {
		return day, "", fmt.Errorf("upsert water intake: %w", err)
	}
	return day, "", nil
}

func isEmptyArray(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return false
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")) == ""
}
