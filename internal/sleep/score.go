// Package sleep scores a night of sleep and aggregates stored nights into
// per-day analytics.
package sleep

import (
	"math"
	"time"

	"example.com/devicesync/internal/domain"
)

// Component weights of the composite score.
const (
	durationWeight    = 30.0
	efficiencyWeight  = 25.0
	deepWeight        = 15.0
	remWeight         = 15.0
	disturbanceWeight = 15.0

	targetEfficiency = 85.0
	maxScore         = 100.0
)

// Demographics selects the age-adjusted target bands. Age is nil when the
// user's date of birth is unknown. Sex is carried for future band tuning and
// does not currently change any band.
type Demographics struct {
	Age *int
	Sex string
}

// DemographicsOn derives demographics from a profile as of the given date.
func DemographicsOn(p domain.Profile, at time.Time) Demographics {
	d := Demographics{Sex: p.Sex}
	if p.DateOfBirth != nil {
		age := AgeOn(*p.DateOfBirth, at)
		d.Age = &age
	}
	return d
}

// AgeOn returns the age in whole years of someone born on dob, as of at.
func AgeOn(dob, at time.Time) int {
	age := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		age--
	}
	return age
}

// Bands are the optimal ranges each score component is measured against.
type Bands struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	DeepMin     float64
	DeepMax     float64
	REMMin      float64
	REMMax      float64
}

// BandsFor returns the target bands for the given demographics.
func BandsFor(d Demographics) Bands {
	b := Bands{
		MinDuration: 7 * time.Hour,
		MaxDuration: 9 * time.Hour,
		DeepMin:     15,
		DeepMax:     25,
		REMMin:      20,
		REMMax:      25,
	}
	if d.Age == nil {
		return b
	}
	switch age := *d.Age; {
	case age >= 65:
		b.MaxDuration = 8 * time.Hour
		b.DeepMin, b.DeepMax = 10, 20
	case age >= 14 && age <= 17:
		b.MinDuration, b.MaxDuration = 8*time.Hour, 10*time.Hour
	}
	return b
}

// Night is the input of the score: the sleep window length, time actually
// asleep, and the ordered stage events.
type Night struct {
	DurationSeconds   int
	TimeAsleepSeconds int
	Stages            []domain.SleepStageEvent
}

// StageTotals sums stage durations in seconds.
type StageTotals struct {
	Deep         int
	REM          int
	Light        int
	Awake        int
	Unspecified  int
	AwakePeriods int
}

// Asleep is the total non-awake stage time.
func (t StageTotals) Asleep() int {
	return t.Deep + t.REM + t.Light + t.Unspecified
}

// Total is the sum of every stage.
func (t StageTotals) Total() int {
	return t.Asleep() + t.Awake
}

// Totals sums stage durations and counts awake periods, a period being a
// maximal run of consecutive awake stages.
func Totals(stages []domain.SleepStageEvent) StageTotals {
	var t StageTotals
	inAwake := false
	for _, s := range stages {
		switch s.StageType {
		case domain.StageDeep:
			t.Deep += s.DurationSeconds
		case domain.StageREM:
			t.REM += s.DurationSeconds
		case domain.StageLight:
			t.Light += s.DurationSeconds
		case domain.StageAwake:
			t.Awake += s.DurationSeconds
		default:
			t.Unspecified += s.DurationSeconds
		}

		if s.StageType == domain.StageAwake {
			if !inAwake {
				t.AwakePeriods++
			}
			inAwake = true
		} else {
			inAwake = false
		}
	}
	return t
}

// Score computes the composite quality score in [0, 100]. A night without a
// positive duration scores 0.
func Score(n Night, d Demographics) int {
	if n.DurationSeconds <= 0 {
		return 0
	}
	bands := BandsFor(d)
	totals := Totals(n.Stages)

	score := durationScore(float64(n.DurationSeconds), bands)

	efficiency := float64(n.TimeAsleepSeconds) / float64(n.DurationSeconds) * 100
	if efficiency >= targetEfficiency {
		score += efficiencyWeight
	} else {
		score += math.Max(0, efficiencyWeight-(targetEfficiency-efficiency))
	}

	if base := totals.Asleep(); base > 0 {
		deepPct := float64(totals.Deep) / float64(base) * 100
		remPct := float64(totals.REM) / float64(base) * 100
		score += bandScore(deepPct, bands.DeepMin, bands.DeepMax, deepWeight)
		score += bandScore(remPct, bands.REMMin, bands.REMMax, remWeight)
	}

	deduction := float64(totals.Awake)/60*0.5 + float64(totals.AwakePeriods)*2
	score += math.Max(0, disturbanceWeight-deduction)

	return int(math.Round(math.Max(0, math.Min(score, maxScore))))
}

func durationScore(seconds float64, b Bands) float64 {
	lo, hi := b.MinDuration.Seconds(), b.MaxDuration.Seconds()
	if seconds >= lo && seconds <= hi {
		return durationWeight
	}
	deviation := math.Min(math.Abs(seconds-lo), math.Abs(seconds-hi))
	return math.Max(0, durationWeight-deviation/3600*5)
}

func bandScore(pct, lo, hi, weight float64) float64 {
	if pct >= lo && pct <= hi {
		return weight
	}
	deviation := math.Min(math.Abs(pct-lo), math.Abs(pct-hi))
	return math.Max(0, weight-deviation*0.5)
}
