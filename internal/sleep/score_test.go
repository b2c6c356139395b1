package sleep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/devicesync/internal/domain"
)

var bed = time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)

// stages lays out consecutive stage events starting at bedtime.
func stages(pairs ...any) []domain.SleepStageEvent {
	out := make([]domain.SleepStageEvent, 0, len(pairs)/2)
	cursor := bed
	for i := 0; i+1 < len(pairs); i += 2 {
		kind := pairs[i].(domain.StageType)
		secs := pairs[i+1].(int)
		end := cursor.Add(time.Duration(secs) * time.Second)
		out = append(out, domain.SleepStageEvent{StageType: kind, Start: cursor, End: end, DurationSeconds: secs})
		cursor = end
	}
	return out
}

func TestScoreGoodNight(t *testing.T) {
	duration := 8 * 3600
	asleep := duration * 90 / 100
	n := Night{
		DurationSeconds:   duration,
		TimeAsleepSeconds: asleep,
		Stages: stages(
			domain.StageLight, asleep*58/100,
			domain.StageDeep, asleep*20/100,
			domain.StageREM, asleep*22/100,
		),
	}
	require.GreaterOrEqual(t, Score(n, Demographics{}), 95)
}

func TestScoreBadNight(t *testing.T) {
	duration := 3 * 3600
	asleep := duration * 40 / 100
	awake := duration - asleep

	pairs := make([]any, 0, 40)
	deep := asleep * 55 / 100
	light := asleep - deep
	for i := 0; i < 10; i++ {
		pairs = append(pairs, domain.StageAwake, awake/10)
		if i%2 == 0 {
			pairs = append(pairs, domain.StageDeep, deep/5)
		} else {
			pairs = append(pairs, domain.StageLight, light/5)
		}
	}

	n := Night{DurationSeconds: duration, TimeAsleepSeconds: asleep, Stages: stages(pairs...)}
	totals := Totals(n.Stages)
	require.Equal(t, 10, totals.AwakePeriods)
	require.Equal(t, 0, totals.REM)
	require.LessOrEqual(t, Score(n, Demographics{}), 20)
}

func TestScoreZeroDuration(t *testing.T) {
	require.Equal(t, 0, Score(Night{}, Demographics{}))
	require.Equal(t, 0, Score(Night{DurationSeconds: -5}, Demographics{}))
}

func TestScoreStaysWithinBounds(t *testing.T) {
	n := Night{
		DurationSeconds:   20 * 3600,
		TimeAsleepSeconds: 0,
		Stages:            stages(domain.StageAwake, 20*3600),
	}
	require.Equal(t, 0, Score(n, Demographics{}))
}

func TestDurationComponentUsesNearerBound(t *testing.T) {
	b := BandsFor(Demographics{})
	require.Equal(t, 30.0, durationScore((8 * time.Hour).Seconds(), b))
	// 6h is one hour below the 7h lower bound.
	require.Equal(t, 25.0, durationScore((6 * time.Hour).Seconds(), b))
	// 11h is two hours above the 9h upper bound.
	require.Equal(t, 20.0, durationScore((11 * time.Hour).Seconds(), b))
}

func TestBandsForAge(t *testing.T) {
	older, teen, adult := 70, 15, 30

	b := BandsFor(Demographics{Age: &older})
	require.Equal(t, 7*time.Hour, b.MinDuration)
	require.Equal(t, 8*time.Hour, b.MaxDuration)
	require.Equal(t, 10.0, b.DeepMin)
	require.Equal(t, 20.0, b.DeepMax)

	b = BandsFor(Demographics{Age: &teen})
	require.Equal(t, 8*time.Hour, b.MinDuration)
	require.Equal(t, 10*time.Hour, b.MaxDuration)

	b = BandsFor(Demographics{Age: &adult})
	require.Equal(t, 7*time.Hour, b.MinDuration)
	require.Equal(t, 9*time.Hour, b.MaxDuration)
	require.Equal(t, 15.0, b.DeepMin)
}

func TestAgeOn(t *testing.T) {
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 33, AgeOn(dob, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 34, AgeOn(dob, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)))

	d := DemographicsOn(domain.Profile{DateOfBirth: &dob, Sex: "female"}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, d.Age)
	require.Equal(t, 33, *d.Age)
	require.Equal(t, "female", d.Sex)

	require.Nil(t, DemographicsOn(domain.Profile{}, time.Now()).Age)
}

func TestTotalsAwakePeriodsAreMaximalRuns(t *testing.T) {
	totals := Totals(stages(
		domain.StageAwake, 60,
		domain.StageAwake, 60,
		domain.StageDeep, 600,
		domain.StageAwake, 120,
		domain.StageREM, 600,
		domain.StageType("unmeasurable"), 30,
	))
	require.Equal(t, 2, totals.AwakePeriods)
	require.Equal(t, 240, totals.Awake)
	require.Equal(t, 30, totals.Unspecified)
	require.Equal(t, 1230, totals.Asleep())
}
