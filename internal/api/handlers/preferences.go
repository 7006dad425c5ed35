package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketwatch/internal/core"
	"ticketwatch/internal/types"
)

// InsightsService computes price insights for a preference.
type InsightsService interface {
	ForPreference(ctx context.Context, preferenceID string, from, to time.Time) (*types.PriceInsights, error)
}

// PreferenceAlertLister lists the alerts tracked for a preference.
type PreferenceAlertLister interface {
	ListByPreference(ctx context.Context, preferenceID string, limit int) ([]types.AlertState, error)
}

const preferenceAlertsLimit = 200

// PreferenceHandler serves read-only views keyed by preference.
type PreferenceHandler struct {
	insights InsightsService
	alerts   PreferenceAlertLister
	clock    types.Clock
	logger   *slog.Logger
}

// NewPreferenceHandler creates a PreferenceHandler.
func NewPreferenceHandler(insights InsightsService, alerts PreferenceAlertLister, clock types.Clock, l *slog.Logger) *PreferenceHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &PreferenceHandler{insights: insights, alerts: alerts, clock: clock, logger: l}
}

// RegisterRoutes mounts the preference routes.
func (h *PreferenceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/preferences/{id}", func(r chi.Router) {
		r.Get("/insights", h.Insights)
		r.Get("/alerts", h.Alerts)
	})
}

// Insights handles GET /v1/preferences/{id}/insights?from=&to=.
func (h *PreferenceHandler) Insights(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "preference ID is required", nil))
		return
	}

	now := h.clock.Now()
	from, to, err := parseWindow(r, now.Add(-types.HistoryDefaultWindow), now)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out, err := h.insights.ForPreference(r.Context(), id, from, to)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// Alerts handles GET /v1/preferences/{id}/alerts.
func (h *PreferenceHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "preference ID is required", nil))
		return
	}

	states, err := h.alerts.ListByPreference(r.Context(), id, preferenceAlertsLimit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if states == nil {
		states = []types.AlertState{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: states,
		Meta: &core.ResponseMeta{Count: len(states)},
	})
}
