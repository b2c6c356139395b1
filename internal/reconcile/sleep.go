package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/sleep"
)

// ReconcileSleepData replaces every sleep entry previously synced from
// scope's provider within scope's range with the given nights. When some
// nights fail the committed result is returned together with a *BatchError.
func (s *Service) ReconcileSleepData(ctx context.Context, scope Scope, entries []json.RawMessage) (BatchResult, error) {
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

		deleted, err := tx.DeleteSleepEntries(ctx, scope.UserID, scope.Provider, scope.Range)
		if err != nil {
			return s.cleanupFailed(FamilySleep, scope, err)
		}
		s.logger.Printf("cleanup removed %d sleep entries (user=%s, provider=%s, range=%s)", deleted, scope.UserID, scope.Provider, scope.Range)
		observability.RecordCleanup(FamilySleep, deleted)

		profile, err := tx.Profile(ctx, scope.UserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}

		for i, raw := range entries {
			s.item(ctx, tx, &res, "sleep_entry", i, func(ctx context.Context, sp domain.Tx) (string, string, error) {
				var item SleepItem
				if err := json.Unmarshal(raw, &item); err != nil {
					return "", "", invalid("sleep entry", "malformed payload: %v", err)
				}
				entry, err := NormalizeSleep(item, scope, profile)
				if err != nil {
					return dateString(entry.EntryDate), "", err
				}
				entry.ID = uuid.NewString()
				if err := sp.CreateSleepEntry(ctx, entry); err != nil {
					return dateString(entry.EntryDate), "", fmt.Errorf("create sleep entry: %w", err)
				}
				return dateString(entry.EntryDate), entry.ID, nil
			})
		}

		return s.recordSync(ctx, tx, scope, FamilySleep, &res)
	})
	s.observe(FamilySleep, scope, started, &res, err)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Processed: nonNil(res.processed)}
	if len(res.failed) == 0 {
		result.Message = fmt.Sprintf("All %s sleep data successfully processed.", scope.providerName())
	}
	return result, res.batchError(fmt.Sprintf("Some %s sleep entries could not be processed.", scope.providerName()))
}

// NormalizeSleep validates one exported night and converts it into a sleep
// entry with its stages and score. A night exported without stages gets a
// single light stage spanning the whole window.
func NormalizeSleep(item SleepItem, scope Scope, profile domain.Profile) (domain.SleepEntry, error) {
	if strings.TrimSpace(item.EntryDate) == "" {
		return domain.SleepEntry{}, invalid("entry_date", "is required")
	}
	date, err := domain.ParseDate(item.EntryDate)
	if err != nil {
		return domain.SleepEntry{}, invalid("entry_date", "%v", err)
	}
	entry := domain.SleepEntry{
		UserID:    scope.UserID,
		EntryDate: date,
		Source:    scope.Provider,
		CreatedBy: scope.ActingUserID,
	}
	if !scope.Range.Contains(date) {
		return entry, invalid("entry_date", "%s is outside the sync range %s", item.EntryDate, scope.Range)
	}
	if item.Bedtime.IsZero() {
		return entry, invalid("bedtime", "is required")
	}
	if item.WakeTime.IsZero() {
		return entry, invalid("wake_time", "is required")
	}
	if item.WakeTime.Before(item.Bedtime.Time) {
		return entry, invalid("wake_time", "precedes bedtime")
	}
	entry.Bedtime = item.Bedtime.UTC()
	entry.WakeTime = item.WakeTime.UTC()

	if item.DurationInSeconds != nil {
		if *item.DurationInSeconds < 0 {
			return entry, invalid("duration_in_seconds", "must not be negative")
		}
		entry.DurationSeconds = int(math.Round(*item.DurationInSeconds))
	} else {
		entry.DurationSeconds = int(entry.WakeTime.Sub(entry.Bedtime) / time.Second)
	}

	stages, err := normalizeStages(item.StageEvents)
	if err != nil {
		return entry, err
	}
	if len(stages) == 0 {
		stages = []domain.SleepStageEvent{{
			StageType:       domain.StageLight,
			Start:           entry.Bedtime,
			End:             entry.WakeTime,
			DurationSeconds: entry.DurationSeconds,
		}}
	}
	entry.Stages = stages

	awake := sleep.Totals(stages).Awake
	entry.TimeAsleepSeconds = max(0, entry.DurationSeconds-awake)

	entry.Score = sleep.Score(sleep.Night{
		DurationSeconds:   entry.DurationSeconds,
		TimeAsleepSeconds: entry.TimeAsleepSeconds,
		Stages:            stages,
	}, sleep.DemographicsOn(profile, date))
	return entry, nil
}

func normalizeStages(items []SleepStageItem) ([]domain.SleepStageEvent, error) {
	out := make([]domain.SleepStageEvent, 0, len(items))
	for i, item := range items {
		kind := domain.StageType(strings.ToLower(strings.TrimSpace(item.StageType)))
		if kind == "" {
			return nil, invalid(fmt.Sprintf("stage_events[%d].stage_type", i), "is required")
		}
		stage := domain.SleepStageEvent{StageType: kind, Start: item.StartTime.UTC(), End: item.EndTime.UTC()}
		switch {
		case item.DurationInSeconds != nil:
			if *item.DurationInSeconds < 0 {
				return nil, invalid(fmt.Sprintf("stage_events[%d].duration_in_seconds", i), "must not be negative")
			}
			stage.DurationSeconds = int(math.Round(*item.DurationInSeconds))
		case !stage.Start.IsZero() && !stage.End.IsZero():
			if stage.End.Before(stage.Start) {
				return nil, invalid(fmt.Sprintf("stage_events[%d].end_time", i), "precedes start_time")
			}
			stage.DurationSeconds = int(stage.End.Sub(stage.Start) / time.Second)
		default:
			return nil, invalid(fmt.Sprintf("stage_events[%d]", i), "needs a duration or a start and end time")
		}
		out = append(out, stage)
	}

	timed := true
	for _, stage := range out {
		timed = timed && !stage.Start.IsZero()
	}
	if timed {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	}
	return out, nil
}
