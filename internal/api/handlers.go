// Package api exposes HTTP handlers for device syncs and sleep analytics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"example.com/devicesync/internal/auth"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/reconcile"
	"example.com/devicesync/internal/sleep"
	"example.com/devicesync/internal/synclock"
)

const maxBodyBytes = 32 << 20

// Syncer runs reconciliations; *reconcile.Service implements it.
type Syncer interface {
	ReconcileActivitiesAndWorkouts(context.Context, reconcile.Scope, reconcile.ActivitiesPayload) (reconcile.ActivityResult, error)
	ReconcileSleepData(context.Context, reconcile.Scope, []json.RawMessage) (reconcile.BatchResult, error)
	ReconcileHealthAndWellness(context.Context, reconcile.Scope, reconcile.HealthPayload) (reconcile.BatchResult, error)
}

// SleepReader loads stored sleep data for analytics.
type SleepReader interface {
	SleepEntriesInRange(ctx context.Context, userID string, r domain.DateRange) ([]domain.SleepEntry, error)
	Profile(ctx context.Context, userID string) (domain.Profile, error)
}

// Handler coordinates HTTP requests with the reconciliation service.
type Handler struct {
	syncer Syncer
	sleep  SleepReader
	locks  *synclock.Keyed
}

// NewHandler builds a Handler. locks serializes syncs per (user, provider)
// and may be shared with other entry points.
func NewHandler(syncer Syncer, reader SleepReader, locks *synclock.Keyed) *Handler {
	if locks == nil {
		locks = synclock.New()
	}
	return &Handler{syncer: syncer, sleep: reader, locks: locks}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sync/{provider}/activities", h.syncActivities)
	mux.HandleFunc("POST /v1/sync/{provider}/sleep", h.syncSleep)
	mux.HandleFunc("POST /v1/sync/{provider}/health", h.syncHealth)
	mux.HandleFunc("GET /v1/sleep/analytics", h.sleepAnalytics)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// syncWindow is the part of every sync request naming its scope.
type syncWindow struct {
	UserID    string `json:"user_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// SyncActivitiesRequest is the payload for POST /v1/sync/{provider}/activities.
type SyncActivitiesRequest struct {
	syncWindow
	reconcile.ActivitiesPayload
}

// SyncSleepRequest is the payload for POST /v1/sync/{provider}/sleep.
type SyncSleepRequest struct {
	syncWindow
	reconcile.SleepPayload
}

// SyncHealthRequest is the payload for POST /v1/sync/{provider}/health.
type SyncHealthRequest struct {
	syncWindow
	reconcile.HealthPayload
}

// SyncActivitiesResponse describes a fully successful activities sync.
type SyncActivitiesResponse struct {
	ProcessedEntries int                 `json:"processed_entries"`
	Processed        []reconcile.Outcome `json:"processed"`
}

func (h *Handler) syncActivities(w http.ResponseWriter, r *http.Request) {
	var req SyncActivitiesRequest
	scope, ok := h.prepareSync(w, r, &req, &req.syncWindow)
	if !ok {
		return
	}
	h.runSync(w, r, scope, func(ctx context.Context) (any, error) {
		res, err := h.syncer.ReconcileActivitiesAndWorkouts(ctx, scope, req.ActivitiesPayload)
		return SyncActivitiesResponse{ProcessedEntries: res.ProcessedEntries, Processed: res.Processed}, err
	})
}

func (h *Handler) syncSleep(w http.ResponseWriter, r *http.Request) {
	var req SyncSleepRequest
	scope, ok := h.prepareSync(w, r, &req, &req.syncWindow)
	if !ok {
		return
	}
	h.runSync(w, r, scope, func(ctx context.Context) (any, error) {
		return h.syncer.ReconcileSleepData(ctx, scope, req.Entries)
	})
}

func (h *Handler) syncHealth(w http.ResponseWriter, r *http.Request) {
	var req SyncHealthRequest
	scope, ok := h.prepareSync(w, r, &req, &req.syncWindow)
	if !ok {
		return
	}
	h.runSync(w, r, scope, func(ctx context.Context) (any, error) {
		return h.syncer.ReconcileHealthAndWellness(ctx, scope, req.HealthPayload)
	})
}

// prepareSync authorizes the caller, decodes body into dst and builds the
// sync scope. It writes the error response and returns false on failure.
func (h *Handler) prepareSync(w http.ResponseWriter, r *http.Request, dst any, window *syncWindow) (reconcile.Scope, bool) {
	claims, ok := requireScope(w, r, auth.ScopeSyncWrite)
	if !ok {
		return reconcile.Scope{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return reconcile.Scope{}, false
	}

	userID, ok := targetUser(w, claims, window.UserID)
	if !ok {
		return reconcile.Scope{}, false
	}
	dates, err := domain.NewDateRange(window.StartDate, window.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return reconcile.Scope{}, false
	}

	return reconcile.Scope{
		UserID:       userID,
		ActingUserID: claims.Subject,
		Provider:     r.PathValue("provider"),
		Range:        dates,
	}, true
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, scope reconcile.Scope, run func(context.Context) (any, error)) {
	unlock, err := h.locks.Lock(r.Context(), synclock.Key(scope.UserID, scope.Provider))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "sync aborted while waiting for a concurrent sync")
		return
	}
	defer unlock()

	result, err := run(r.Context())
	var batchErr *reconcile.BatchError
	var validationErr *reconcile.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.As(err, &batchErr):
		writeJSON(w, http.StatusMultiStatus, batchErr)
	case errors.Is(err, reconcile.ErrInvalidScope), errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, reconcile.ErrCleanupFailed):
		writeError(w, http.StatusInternalServerError, "cleanup_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func (h *Handler) sleepAnalytics(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeSleepRead)
	if !ok {
		return
	}

	query := r.URL.Query()
	userID, ok := targetUser(w, claims, query.Get("user_id"))
	if !ok {
		return
	}
	dates, err := domain.NewDateRange(query.Get("start_date"), query.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	entries, err := h.sleep.SleepEntriesInRange(r.Context(), userID, dates)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	profile, err := h.sleep.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sleep.Analyze(entries, profile))
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// targetUser resolves whose data a request touches. Acting for another user
// requires the delegate scope.
func targetUser(w http.ResponseWriter, claims *auth.Claims, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == claims.Subject {
		return claims.Subject, true
	}
	if !claims.HasScope(auth.ScopeSyncDelegate) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+auth.ScopeSyncDelegate+" required to act for another user")
		return "", false
	}
	return requested, true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
