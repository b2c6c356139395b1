package sleep

import (
	"sort"
	"time"

	"example.com/devicesync/internal/domain"
)

const optimalSleep = 8 * time.Hour

// DailyAnalytics aggregates every stored night that shares an entry date.
type DailyAnalytics struct {
	Date               string             `json:"date"`
	TotalSleepDuration int                `json:"total_sleep_duration"`
	TimeAsleep         int                `json:"time_asleep"`
	SleepScore         int                `json:"sleep_score"`
	EarliestBedtime    *time.Time         `json:"earliest_bedtime,omitempty"`
	LatestWakeTime     *time.Time         `json:"latest_wake_time,omitempty"`
	SleepEfficiency    float64            `json:"sleep_efficiency"`
	SleepDebtHours     float64            `json:"sleep_debt_hours"`
	StagePercentages   map[string]float64 `json:"stage_percentages"`
	AwakePeriods       int                `json:"awake_periods"`
	TotalAwakeDuration int                `json:"total_awake_duration"`
}

// Analyze groups entries by date and derives daily figures. Scores are
// recomputed from the stored stages so every day reflects current scoring.
// When a date holds several entries the score of the last one wins.
func Analyze(entries []domain.SleepEntry, profile domain.Profile) []DailyAnalytics {
	type accumulator struct {
		day    DailyAnalytics
		totals StageTotals
	}

	byDate := make(map[string]*accumulator)
	order := make([]string, 0)

	for _, entry := range entries {
		key := entry.EntryDate.Format(domain.DateLayout)
		acc, ok := byDate[key]
		if !ok {
			acc = &accumulator{day: DailyAnalytics{Date: key}}
			byDate[key] = acc
			order = append(order, key)
		}

		acc.day.TotalSleepDuration += entry.DurationSeconds
		acc.day.TimeAsleep += entry.TimeAsleepSeconds

		bed, wake := entry.Bedtime, entry.WakeTime
		if acc.day.EarliestBedtime == nil || bed.Before(*acc.day.EarliestBedtime) {
			acc.day.EarliestBedtime = &bed
		}
		if acc.day.LatestWakeTime == nil || wake.After(*acc.day.LatestWakeTime) {
			acc.day.LatestWakeTime = &wake
		}

		t := Totals(entry.Stages)
		acc.totals.Deep += t.Deep
		acc.totals.REM += t.REM
		acc.totals.Light += t.Light
		acc.totals.Awake += t.Awake
		acc.totals.Unspecified += t.Unspecified
		acc.totals.AwakePeriods += t.AwakePeriods

		acc.day.SleepScore = Score(Night{
			DurationSeconds:   entry.DurationSeconds,
			TimeAsleepSeconds: entry.TimeAsleepSeconds,
			Stages:            entry.Stages,
		}, DemographicsOn(profile, entry.EntryDate))
	}

	sort.Strings(order)
	out := make([]DailyAnalytics, 0, len(order))
	for _, key := range order {
		acc := byDate[key]
		day := acc.day
		if day.TotalSleepDuration > 0 {
			day.SleepEfficiency = float64(day.TimeAsleep) / float64(day.TotalSleepDuration) * 100
		}
		day.SleepDebtHours = (optimalSleep.Seconds() - float64(day.TotalSleepDuration)) / 3600
		day.AwakePeriods = acc.totals.AwakePeriods
		day.TotalAwakeDuration = acc.totals.Awake
		day.StagePercentages = map[string]float64{}
		if total := acc.totals.Total(); total > 0 {
			day.StagePercentages[string(domain.StageDeep)] = pct(acc.totals.Deep, total)
			day.StagePercentages[string(domain.StageREM)] = pct(acc.totals.REM, total)
			day.StagePercentages[string(domain.StageLight)] = pct(acc.totals.Light, total)
			day.StagePercentages[string(domain.StageAwake)] = pct(acc.totals.Awake, total)
			day.StagePercentages["unspecified"] = pct(acc.totals.Unspecified, total)
		}
		out = append(out, day)
	}
	return out
}

func pct(part, total int) float64 {
	return float64(part) / float64(total) * 100
}
