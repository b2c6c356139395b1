// Package reconcile turns exported device payloads into normalized entries.
// Every sync runs in one transaction: records previously derived from the
// same provider and date range are deleted first, then each item is
// processed in its own savepoint so one bad item cannot abort the rest.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/observability"
	"example.com/devicesync/internal/units"
)

// Data families a sync can cover.
const (
	FamilyActivities = "activities"
	FamilySleep      = "sleep"
	FamilyHealth     = "health"
)

// Scope identifies the records a sync owns: the user whose data is synced,
// the user performing the sync, the provider and the inclusive date range.
type Scope struct {
	UserID       string
	ActingUserID string
	Provider     string
	Range        domain.DateRange
}

func (s Scope) normalized() (Scope, error) {
	s.UserID = strings.TrimSpace(s.UserID)
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.UserID == "" {
		return s, fmt.Errorf("%w: user id is required", ErrInvalidScope)
	}
	if s.Provider == "" {
		return s, fmt.Errorf("%w: provider is required", ErrInvalidScope)
	}
	if s.Range.Start.IsZero() || s.Range.End.IsZero() || s.Range.End.Before(s.Range.Start) {
		return s, fmt.Errorf("%w: date range %s is invalid", ErrInvalidScope, s.Range)
	}
	if s.ActingUserID == "" {
		s.ActingUserID = s.UserID
	}
	return s, nil
}

func (s Scope) providerName() string {
	return units.TitleCase(s.Provider)
}

// Option configures optional behaviour of a Service.
type Option func(*Service)

// WithLogger overrides the logger used to report cleanup and item failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for creation and completion times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs reconciliations against a Store. Callers must serialize syncs
// of the same (user, provider) with overlapping ranges.
type Service struct {
	store  domain.Store
	logger *log.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store domain.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.New(log.Writer(), "[reconcile] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchResult is the success summary of the sleep and health syncs.
type BatchResult struct {
	Message   string    `json:"message"`
	Processed []Outcome `json:"processed"`
}

// item runs fn inside a savepoint and records its outcome.
func (s *Service) item(ctx context.Context, tx domain.Tx, res *outcomes, kind string, index int, fn func(context.Context, domain.Tx) (date, id string, err error)) {
	var date, id string
	err := tx.Savepoint(ctx, func(ctx context.Context, sp domain.Tx) error {
		var err error
		date, id, err = fn(ctx, sp)
		return err
	})
	if err != nil {
		s.logger.Printf("%s item %d failed: %v", kind, index, err)
		res.failure(kind, index, date, err)
		return
	}
	res.success(kind, index, date, id)
}

// lockScope holds the scope's store-level lock for the rest of the
// transaction, so syncs running in other processes wait their turn.
func lockScope(ctx context.Context, tx domain.Tx, scope Scope) error {
	if err := tx.LockScope(ctx, scope.UserID, scope.Provider); err != nil {
		return fmt.Errorf("lock sync scope: %w", err)
	}
	return nil
}

func (s *Service) recordSync(ctx context.Context, tx domain.Tx, scope Scope, family string, res *outcomes) error {
	evt := domain.SyncEvent{
		ID:          uuid.NewString(),
		UserID:      scope.UserID,
		Provider:    scope.Provider,
		Family:      family,
		Range:       scope.Range,
		Processed:   len(res.processed),
		Failed:      len(res.failed),
		CompletedAt: s.now().UTC(),
	}
	if err := tx.RecordSyncEvent(ctx, evt); err != nil {
		return fmt.Errorf("record sync event: %w", err)
	}
	return nil
}

func (s *Service) observe(family string, scope Scope, started time.Time, res *outcomes, err error) {
	outcome := "success"
	switch {
	case err != nil:
		outcome = "failed"
	case len(res.failed) > 0:
		outcome = "partial"
	}
	observability.RecordSync(family, scope.Provider, outcome, s.now().Sub(started))
	if err == nil {
		observability.RecordItems(family, StatusSuccess, len(res.processed))
		observability.RecordItems(family, StatusError, len(res.failed))
		observability.RecordSyncCommitted(family, s.now())
	}
}

func (s *Service) cleanupFailed(family string, scope Scope, err error) error {
	s.logger.Printf("%s cleanup failed (user=%s, provider=%s, range=%s): %v", family, scope.UserID, scope.Provider, scope.Range, err)
	return fmt.Errorf("%w: %w", ErrCleanupFailed, err)
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}
