// Package handlers contains the HTTP handlers for the TicketWatch API. Each
// handler depends on small local interfaces so tests can inject fakes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketwatch/internal/core"
	"ticketwatch/internal/types"
)

// AlertReader loads a single alert state.
type AlertReader interface {
	GetStateByID(ctx context.Context, id string) (*types.AlertState, error)
}

// AlertLifecycle applies user-initiated lifecycle events.
type AlertLifecycle interface {
	Pause(ctx context.Context, alertID string) (*types.AlertState, error)
	Resume(ctx context.Context, alertID string) (*types.AlertState, error)
	Dismiss(ctx context.Context, alertID string) (*types.AlertState, error)
	Delete(ctx context.Context, alertID string) error
}

// HistoryLister reads alert history within a window.
type HistoryLister interface {
	List(ctx context.Context, q types.HistoryQuery) ([]types.AlertHistoryEntry, error)
}

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 1000
)

// AlertHandler serves alert lookup, lifecycle and history endpoints.
type AlertHandler struct {
	reader    AlertReader
	lifecycle AlertLifecycle
	history   HistoryLister
	clock     types.Clock
	logger    *slog.Logger
}

// NewAlertHandler creates an AlertHandler. A nil clock uses types.RealClock.
func NewAlertHandler(reader AlertReader, lifecycle AlertLifecycle, history HistoryLister, clock types.Clock, l *slog.Logger) *AlertHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &AlertHandler{
		reader:    reader,
		lifecycle: lifecycle,
		history:   history,
		clock:     clock,
		logger:    l,
	}
}

// RegisterRoutes mounts the alert routes.
func (h *AlertHandler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/dismiss", h.Dismiss)
		r.Get("/history", h.History)
	})
}

// Get handles GET /v1/alerts/{id}.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(w, r)
	if !ok {
		return
	}
	state, err := h.reader.GetStateByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: state})
}

// Pause handles POST /v1/alerts/{id}/pause.
func (h *AlertHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", h.lifecycle.Pause)
}

// Resume handles POST /v1/alerts/{id}/resume.
func (h *AlertHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", h.lifecycle.Resume)
}

// Dismiss handles POST /v1/alerts/{id}/dismiss. A triggered alert returns to
// active; an active or paused alert is retired.
func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "dismiss", h.lifecycle.Dismiss)
}

func (h *AlertHandler) transition(w http.ResponseWriter, r *http.Request, action string,
	fn func(context.Context, string) (*types.AlertState, error)) {
	id, ok := alertIDParam(w, r)
	if !ok {
		return
	}

	state, err := fn(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "alert transition rejected",
			"alert_id", id,
			"action", action,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "alert transitioned",
		"alert_id", id,
		"action", action,
		"status", state.Status,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: state})
}

// Delete handles DELETE /v1/alerts/{id}.
func (h *AlertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "alert deleted", "alert_id", id)
	core.NoContent(w)
}

// History handles GET /v1/alerts/{id}/history?from=&to=&limit=. The window
// defaults to the last 30 days and is capped at 366 days.
func (h *AlertHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(w, r)
	if !ok {
		return
	}

	q := types.DefaultHistoryQuery(id, h.clock.Now())
	from, to, err := parseWindow(r, q.From, q.To)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	q.From, q.To = from, to

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 1000",
				err,
			))
			return
		}
		q.Limit = n
	} else {
		q.Limit = defaultHistoryLimit
	}

	// Confirms the alert exists so an unknown ID is a 404, not an empty list.
	if _, err := h.reader.GetStateByID(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	entries, err := h.history.List(r.Context(), q)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.AlertHistoryEntry{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: entries,
		Meta: &core.ResponseMeta{Count: len(entries), From: &q.From, To: &q.To},
	})
}

func alertIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "alert ID is required", nil))
		return "", false
	}
	return id, true
}

// parseWindow reads RFC 3339 from/to query parameters over the given
// defaults and validates the result.
func parseWindow(r *http.Request, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	from, to := defFrom, defTo
	query := r.URL.Query()

	if raw := query.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, types.NewAppError(types.ErrCodeValidationTimeWindow, "to must be an RFC 3339 timestamp", err)
		}
		to = t.UTC()
		if query.Get("from") == "" {
			from = to.Add(-types.HistoryDefaultWindow)
		}
	}
	if raw := query.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, types.NewAppError(types.ErrCodeValidationTimeWindow, "from must be an RFC 3339 timestamp", err)
		}
		from = t.UTC()
	}

	if err := types.ValidateTimeWindow(from, to); err != nil {
		return from, to, err
	}
	return from, to, nil
}
