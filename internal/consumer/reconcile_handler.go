package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/events"
	"example.com/devicesync/internal/reconcile"
	"example.com/devicesync/internal/synclock"
)

// Reconciler is the subset of *reconcile.Service the handler drives.
type Reconciler interface {
	ReconcileActivitiesAndWorkouts(context.Context, reconcile.Scope, reconcile.ActivitiesPayload) (reconcile.ActivityResult, error)
	ReconcileSleepData(context.Context, reconcile.Scope, []json.RawMessage) (reconcile.BatchResult, error)
	ReconcileHealthAndWellness(context.Context, reconcile.Scope, reconcile.HealthPayload) (reconcile.BatchResult, error)
}

// ReconcileHandler applies consumed sync requests. Partially failed batches
// are committed because redelivering them would reproduce the same outcome.
type ReconcileHandler struct {
	svc    Reconciler
	locks  *synclock.Keyed
	logger *log.Logger
}

// NewReconcileHandler constructs a handler. locks may be shared with other
// callers of svc.
func NewReconcileHandler(svc Reconciler, locks *synclock.Keyed, logger *log.Logger) *ReconcileHandler {
	if locks == nil {
		locks = synclock.New()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[consumer] ", log.LstdFlags)
	}
	return &ReconcileHandler{svc: svc, locks: locks, logger: logger}
}

// Handle decodes an events.SyncRequested payload and runs the reconciliation
// named by the message's event type.
func (h *ReconcileHandler) Handle(ctx context.Context, msg Message) error {
	var req events.SyncRequested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("%w: decode sync request: %v", ErrPermanent, err)
	}
	if req.UserID == "" {
		req.UserID = msg.UserID
	}
	r, err := domain.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	scope := reconcile.Scope{UserID: req.UserID, ActingUserID: req.ActingUserID, Provider: req.Provider, Range: r}

	run, err := h.runner(msg.EventType, req.Payload)
	if err != nil {
		return err
	}

	unlock, err := h.locks.Lock(ctx, synclock.Key(scope.UserID, scope.Provider))
	if err != nil {
		return err
	}
	defer unlock()

	err = run(ctx, scope)
	var batchErr *reconcile.BatchError
	var validationErr *reconcile.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &batchErr):
		h.logger.Printf("%s for user=%s provider=%s range=%s: %v", msg.EventType, scope.UserID, scope.Provider, r, batchErr)
		recordPartialSync(msg.EventType)
		return nil
	case errors.Is(err, reconcile.ErrInvalidScope), errors.As(err, &validationErr):
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	default:
		return err
	}
}

type syncRun func(context.Context, reconcile.Scope) error

func (h *ReconcileHandler) runner(eventType string, payload json.RawMessage) (syncRun, error) {
	switch eventType {
	case events.TypeSyncActivities:
		var body reconcile.ActivitiesPayload
		if err := decodePayload(payload, &body); err != nil {
			return nil, err
		}
		return func(ctx context.Context, scope reconcile.Scope) error {
			_, err := h.svc.ReconcileActivitiesAndWorkouts(ctx, scope, body)
			return err
		}, nil
	case events.TypeSyncSleep:
		var body reconcile.SleepPayload
		if err := decodePayload(payload, &body); err != nil {
			return nil, err
		}
		return func(ctx context.Context, scope reconcile.Scope) error {
			_, err := h.svc.ReconcileSleepData(ctx, scope, body.Entries)
			return err
		}, nil
	case events.TypeSyncHealth:
		var body reconcile.HealthPayload
		if err := decodePayload(payload, &body); err != nil {
			return nil, err
		}
		return func(ctx context.Context, scope reconcile.Scope) error {
			_, err := h.svc.ReconcileHealthAndWellness(ctx, scope, body)
			return err
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported event type %q", ErrPermanent, eventType)
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
	}
	return nil
}
