package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/units"
)

const uncategorized = "Uncategorized"

// Resolver looks catalog entities up by name and creates them on a miss.
// Lookups always go to the transaction, so repeated calls within one sync
// never create duplicates and never reuse rows a failed item rolled back.
type Resolver struct {
	tx        domain.Tx
	ownerID   string
	provider  string
	createdBy string
	now       func() time.Time
}

// NewResolver binds a Resolver to a transaction and owner.
func NewResolver(tx domain.Tx, ownerID, provider, createdBy string, now func() time.Time) Resolver {
	if now == nil {
		now = time.Now
	}
	return Resolver{tx: tx, ownerID: ownerID, provider: provider, createdBy: createdBy, now: now}
}

// Exercise returns the owner's exercise called name, creating a custom
// provider-sourced entry when none exists. created reports a creation.
func (r Resolver) Exercise(ctx context.Context, name, category string) (def *domain.ExerciseDefinition, created bool, err error) {
	name = units.CollapseSpaces(name)
	if name == "" {
		return nil, false, invalid("exercise name", "must not be empty")
	}
	existing, err := r.tx.FindExerciseByName(ctx, r.ownerID, name)
	if err != nil {
		return nil, false, fmt.Errorf("find exercise %q: %w", name, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	if category = units.CollapseSpaces(category); category == "" {
		category = uncategorized
	}
	fresh := domain.ExerciseDefinition{
		ID:        uuid.NewString(),
		OwnerID:   r.ownerID,
		Name:      name,
		Category:  category,
		Source:    r.provider,
		IsCustom:  true,
		CreatedAt: r.now().UTC(),
	}
	if err := r.tx.CreateExercise(ctx, fresh); err != nil {
		return nil, false, fmt.Errorf("create exercise %q: %w", name, err)
	}
	return &fresh, true, nil
}

// Template returns the owner's workout template called name, creating an
// empty one when none exists. created reports a creation.
func (r Resolver) Template(ctx context.Context, name, description string) (tmpl *domain.WorkoutTemplate, created bool, err error) {
	name = units.CollapseSpaces(name)
	if name == "" {
		return nil, false, invalid("workout name", "must not be empty")
	}
	existing, err := r.tx.FindTemplateByName(ctx, r.ownerID, name)
	if err != nil {
		return nil, false, fmt.Errorf("find template %q: %w", name, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	fresh := domain.WorkoutTemplate{
		ID:          uuid.NewString(),
		OwnerID:     r.ownerID,
		Name:        name,
		Description: description,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.tx.CreateTemplate(ctx, fresh); err != nil {
		return nil, false, fmt.Errorf("create template %q: %w", name, err)
	}
	return &fresh, true, nil
}
