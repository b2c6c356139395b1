package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/units"
)

var stepTypeNames = map[string]string{
	"warmup":   "Warm-up Set",
	"rest":     "Rest Set",
	"recovery": "Rest Set",
	"cooldown": "Cool-down Set",
}

// StepSetType maps a definition step type to a set type name. Intervals and
// unknown step types are working sets.
func StepSetType(stepTypeKey string) string {
	if name, ok := stepTypeNames[strings.ToLower(strings.TrimSpace(stepTypeKey))]; ok {
		return name
	}
	return setTypeNames[SetActive]
}

// FlattenSteps lists the steps of a definition in order, expanding repeat
// groups into their nested steps.
func FlattenSteps(def WorkoutDefinition) []WorkoutStep {
	var out []WorkoutStep
	for _, segment := range def.WorkoutSegments {
		for _, step := range segment.WorkoutSteps {
			if step.Type == StepRepeatGroup {
				out = append(out, step.WorkoutSteps...)
				continue
			}
			out = append(out, step)
		}
	}
	return out
}

type plannedExercise struct {
	exerciseID string
	sets       []domain.Set
}

// definition resolves the template and every exercise a planned workout
// names. A template created by this definition is populated with one set per
// executable step; an existing template is left untouched.
func (r activityRun) definition(ctx context.Context, tx domain.Tx, raw json.RawMessage) (string, string, error) {
	var def WorkoutDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return "", "", invalid("workout", "malformed payload: %v", err)
	}

	name := units.CollapseSpaces(def.WorkoutName)
	if name == "" {
		name = r.scope.providerName() + " Workout Definition"
	}
	description := def.Description
	if description == "" {
		description = fmt.Sprintf("Workout definition from %s: %s", r.scope.providerName(), name)
	}

	res := r.resolver(tx)
	tmpl, created, err := res.Template(ctx, name, description)
	if err != nil {
		return "", "", err
	}

	planned := make([]*plannedExercise, 0)
	byID := make(map[string]*plannedExercise)
	for _, step := range FlattenSteps(def) {
		if step.Type != StepExecutable || step.ExerciseName == "" {
			continue
		}
		exercise, _, err := res.Exercise(ctx, units.TitleCase(step.ExerciseName), step.Category)
		if err != nil {
			return "", "", err
		}
		if !created {
			continue
		}

		set, err := r.stepSet(step)
		if err != nil {
			return "", "", err
		}
		p, ok := byID[exercise.ID]
		if !ok {
			p = &plannedExercise{exerciseID: exercise.ID}
			byID[exercise.ID] = p
			planned = append(planned, p)
		}
		set.SetNumber = len(p.sets) + 1
		p.sets = append(p.sets, set)
	}

	for _, p := range planned {
		if err := tx.AddExerciseToTemplate(ctx, tmpl.ID, p.exerciseID, p.sets); err != nil {
			return "", "", fmt.Errorf("add exercise to template %q: %w", name, err)
		}
	}
	return "", tmpl.ID, nil
}

// stepSet builds the default set of a step: reps from the end condition and
// weight in the step's own unit, or the user's preferred unit when the step
// names none.
func (r activityRun) stepSet(step WorkoutStep) (domain.Set, error) {
	set := domain.Set{Notes: step.Description}
	if step.StepType != nil {
		set.SetType = StepSetType(step.StepType.StepTypeKey)
	} else {
		set.SetType = StepSetType("")
	}
	if step.EndConditionValue != nil && *step.EndConditionValue > 0 {
		set.Reps = int(math.Round(*step.EndConditionValue))
	}
	if step.WeightValue != nil && *step.WeightValue > 0 {
		unit := ""
		if step.WeightUnit != nil {
			unit = step.WeightUnit.UnitKey
		}
		kg, err := r.norm.WeightKg(*step.WeightValue, unit)
		if err != nil {
			return domain.Set{}, invalid("workoutSteps[].weightUnit", "%v", err)
		}
		set.WeightKg = kg
	}
	return set, nil
}
