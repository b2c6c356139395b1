package reconcile

import (
	"math"
	"time"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/units"
)

// Vendor set types.
const (
	SetActive = "ACTIVE"
	SetRest   = "REST"
	SetWarmUp = "WARM_UP"
)

var setTypeNames = map[string]string{
	SetActive: "Working Set",
	SetRest:   "Rest Set",
	SetWarmUp: "Warm-up Set",
}

// SetTypeName maps a vendor set type to its display name. Unknown types are
// recorded as working sets.
func SetTypeName(vendor string) string {
	if name, ok := setTypeNames[vendor]; ok {
		return name
	}
	return setTypeNames[SetActive]
}

// ExerciseGroup is the per-exercise result of grouping a flat set list.
type ExerciseGroup struct {
	Name     string
	Category string
	Sets     []domain.Set
	// ActiveSeconds sums the durations of the group's ACTIVE sets.
	ActiveSeconds int
	// Window spans the group's ACTIVE sets in epoch milliseconds. HasWindow
	// is false when the group has no timed ACTIVE set.
	WindowStartMs int64
	WindowEndMs   int64
	HasWindow     bool
}

// SetGrouping is the output of GroupSets.
type SetGrouping struct {
	Groups             []ExerciseGroup
	TotalActiveSeconds int
}

type activeRef struct {
	group    int
	set      int
	index    int
	startMs  int64
	endMs    int64
	hasStart bool
}

// GroupSets groups an ordered vendor set list by exercise, numbering sets
// within each exercise, and computes rest intervals between ACTIVE sets.
// Sets that name no exercise are not recorded but still take part in the
// rest-time search.
func GroupSets(sets []VendorSet) (SetGrouping, error) {
	var out SetGrouping
	byName := make(map[string]int)
	actives := make([]activeRef, 0, len(sets))
	lastActive := make(map[int]int)

	for i, vs := range sets {
		if len(vs.Exercises) == 0 {
			continue
		}
		name := exerciseName(vs.Exercises[0])
		if name == "" {
			continue
		}

		gi, ok := byName[units.LookupKey(name)]
		if !ok {
			gi = len(out.Groups)
			byName[units.LookupKey(name)] = gi
			out.Groups = append(out.Groups, ExerciseGroup{Name: name, Category: vs.Exercises[0].Category})
		}
		group := &out.Groups[gi]

		durationSecs := roundedSeconds(vs.Duration)
		set := domain.Set{
			SetNumber:       len(group.Sets) + 1,
			SetType:         SetTypeName(vs.SetType),
			Reps:            roundedInt(vs.RepetitionCount),
			DurationSeconds: durationSecs,
			Notes:           vs.Notes,
		}
		if vs.Weight != nil {
			set.WeightKg = units.Round(*vs.Weight*0.001, 2)
		}
		group.Sets = append(group.Sets, set)

		if vs.SetType != SetActive {
			continue
		}

		group.ActiveSeconds += durationSecs
		out.TotalActiveSeconds += durationSecs

		ref := activeRef{group: gi, set: len(group.Sets) - 1, index: i}
		start, err := ParseTimestamp(vs.StartTime)
		if err != nil {
			return SetGrouping{}, invalid("exercise_sets.exerciseSets[].startTime", "%v", err)
		}
		if !start.IsZero() {
			ref.hasStart = true
			ref.startMs = start.UnixMilli()
			ref.endMs = ref.startMs + int64(durationSecs)*1000
			if !group.HasWindow || ref.startMs < group.WindowStartMs {
				group.WindowStartMs = ref.startMs
			}
			if !group.HasWindow || ref.endMs > group.WindowEndMs {
				group.WindowEndMs = ref.endMs
			}
			group.HasWindow = true
		}
		lastActive[gi] = len(actives)
		actives = append(actives, ref)
	}

	assignRestTimes(out.Groups, actives, sets)

	for gi, ai := range lastActive {
		ref := actives[ai]
		out.Groups[gi].Sets[ref.set].RestSeconds = 0
	}
	return out, nil
}

// assignRestTimes walks forward from every ACTIVE set to the next ACTIVE set
// in the original order. A REST set with a positive duration met on the way
// supplies the rest time directly; otherwise the gap between the end of the
// current set and the start of the next one is used, floored at zero.
func assignRestTimes(groups []ExerciseGroup, actives []activeRef, sets []VendorSet) {
	for _, cur := range actives {
		rest := 0
		for j := cur.index + 1; j < len(sets); j++ {
			next := sets[j]
			if next.SetType == SetRest {
				if d := roundedSeconds(next.Duration); d > 0 {
					rest = d
					break
				}
				continue
			}
			if next.SetType != SetActive || len(next.Exercises) == 0 || exerciseName(next.Exercises[0]) == "" {
				continue
			}
			start, err := ParseTimestamp(next.StartTime)
			if err == nil && cur.hasStart && !start.IsZero() {
				gap := float64(start.UnixMilli()-cur.endMs) / float64(time.Second/time.Millisecond)
				rest = int(math.Round(math.Max(0, gap)))
			}
			break
		}
		groups[cur.group].Sets[cur.set].RestSeconds = rest
	}
}

func exerciseName(e SetExercise) string {
	raw := e.Name
	if raw == "" {
		raw = e.Category
	}
	return units.TitleCase(raw)
}

func roundedSeconds(v *float64) int {
	if v == nil || *v <= 0 {
		return 0
	}
	return int(math.Round(*v))
}

func roundedInt(v *float64) int {
	if v == nil || *v < 0 {
		return 0
	}
	return int(math.Round(*v))
}
