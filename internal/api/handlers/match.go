package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/core"
	"ticketwatch/internal/matching"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/types"
)

// MatchPreviewRequest is the body of POST /v1/match/preview.
type MatchPreviewRequest struct {
	Listing       *types.TicketListing   `json:"listing" validate:"required"`
	Preference    *types.PricePreference `json:"preference" validate:"required"`
	PreviousPrice decimal.NullDecimal    `json:"previous_price"`
}

// QuietHoursCheckRequest is the body of POST /v1/quiet-hours/check.
type QuietHoursCheckRequest struct {
	Start    string     `json:"start" validate:"required,hhmm"`
	End      string     `json:"end" validate:"required,hhmm"`
	Timezone string     `json:"timezone" validate:"required,iana_tz"`
	At       *time.Time `json:"at,omitempty"`
}

// QuietHoursCheckResponse reports whether intrusive channels would be held.
type QuietHoursCheckResponse struct {
	InQuietHours bool      `json:"in_quiet_hours"`
	At           time.Time `json:"at"`
}

// MatchHandler exposes the pure matching and routing rules so clients can
// explain why a listing did or did not alert.
type MatchHandler struct {
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(v *core.Validator, clock types.Clock, l *slog.Logger) *MatchHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &MatchHandler{validator: v, clock: clock, logger: l}
}

// RegisterRoutes mounts the preview routes.
func (h *MatchHandler) RegisterRoutes(r chi.Router) {
	r.Post("/match/preview", h.Preview)
	r.Post("/quiet-hours/check", h.QuietHours)
}

// Preview handles POST /v1/match/preview. It returns the per-constraint
// breakdown and, when previous_price is given, the significance of the move.
func (h *MatchHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req MatchPreviewRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := req.Listing.Validate(); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := req.Preference.Validate(); err != nil {
		core.Error(w, r, err)
		return
	}

	res := matching.Match(req.Listing, req.Preference)
	if req.PreviousPrice.Valid {
		sig := matching.Evaluate(req.PreviousPrice, res.EffectivePrice, req.Preference)
		res.Significance = &sig
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

// QuietHours handles POST /v1/quiet-hours/check.
func (h *MatchHandler) QuietHours(w http.ResponseWriter, r *http.Request) {
	var req QuietHoursCheckRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	at := h.clock.Now()
	if req.At != nil {
		at = req.At.UTC()
	}
	in, err := notifcore.InQuietHours(&types.QuietHoursConfig{
		Enabled:  true,
		Start:    req.Start,
		End:      req.End,
		Timezone: req.Timezone,
	}, at)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationQuietHours, "quiet hours could not be evaluated", err))
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: QuietHoursCheckResponse{InQuietHours: in, At: at}})
}
