package core

import (
	"fmt"
	"time"

	"ticketwatch/internal/types"
)

// Router turns an alert trigger into a NotificationDecision.
//
// Decision logic (in order):
//  1. No enabled channel: suppressed with no_channels.
//  2. Hourly/daily frequency and the window since lastNotifiedAt has not
//     elapsed: queued with frequency_cap until lastNotifiedAt + window. The
//     newest queued decision replaces the previous one.
//  3. Quiet hours active in the user's timezone: push and sms are dropped,
//     email is kept. If nothing is left the reason is quiet_hours.
//
// The only state consulted is lastNotifiedAt, so recomputing a decision from
// the same inputs always yields the same result.
type Router struct {
	logger types.Logger
}

// NewRouter creates a Router.
func NewRouter(logger types.Logger) *Router {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Router{logger: logger}
}

// Decide builds the decision for a trigger observed at now.
func (r *Router) Decide(t *types.Transition, pref *types.PricePreference, now time.Time, lastNotifiedAt *time.Time) types.NotificationDecision {
	d := types.NotificationDecision{
		AlertID:      t.AlertID,
		PreferenceID: pref.ID,
		UserID:       pref.UserID,
		Price:        t.Price,
		CreatedAt:    now,
	}
	d.Subject, d.BodySummary = summarize(t, pref)

	enabled := pref.Channels.Enabled()
	if len(enabled) == 0 {
		d.SuppressedReason = types.SuppressedNoChannels
		return d
	}

	if window := FrequencyWindow(pref.Frequency); window > 0 && lastNotifiedAt != nil {
		if elapsed := now.Sub(*lastNotifiedAt); elapsed < window {
			after := lastNotifiedAt.Add(window)
			d.Channels = enabled
			d.DeliverAfter = &after
			d.SuppressedReason = types.SuppressedFrequencyCap
			d.SuppressedChannels = make(map[types.ChannelType]types.SuppressedReason, len(enabled))
			for _, ch := range enabled {
				d.SuppressedChannels[ch] = types.SuppressedFrequencyCap
			}
			return d
		}
	}

	d.Channels = enabled
	r.applyQuietHours(&d, pref, now)
	return d
}

// Release prepares a queued decision for delivery once its frequency window
// has elapsed. Quiet hours are evaluated again at release time.
func (r *Router) Release(d types.NotificationDecision, pref *types.PricePreference, now time.Time) types.NotificationDecision {
	d.DeliverAfter = nil
	d.SuppressedReason = types.SuppressedNone
	d.SuppressedChannels = nil
	d.Channels = pref.Channels.Enabled()
	if len(d.Channels) == 0 {
		d.SuppressedReason = types.SuppressedNoChannels
		return d
	}
	r.applyQuietHours(&d, pref, now)
	return d
}

func (r *Router) applyQuietHours(d *types.NotificationDecision, pref *types.PricePreference, now time.Time) {
	qh := pref.QuietHours
	if qh == nil || !qh.Enabled {
		return
	}
	quiet, err := InQuietHours(qh, now)
	if err != nil {
		// Fail open: a broken config must not swallow notifications.
		r.logger.Error("quiet hours evaluation failed, delivering anyway",
			"error", err.Error(),
			"preference_id", pref.ID,
		)
		return
	}
	if !quiet {
		return
	}

	kept := make([]types.ChannelType, 0, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.IsIntrusive() {
			if d.SuppressedChannels == nil {
				d.SuppressedChannels = make(map[types.ChannelType]types.SuppressedReason)
			}
			d.SuppressedChannels[ch] = types.SuppressedQuietHours
			continue
		}
		kept = append(kept, ch)
	}
	d.Channels = kept
	if len(kept) == 0 {
		d.SuppressedReason = types.SuppressedQuietHours
	}
}

// InQuietHours reports whether now falls inside [start, end) of the window,
// evaluated in the window's timezone (UTC when unset). Windows whose start
// is after their end wrap midnight.
func InQuietHours(qh *types.QuietHoursConfig, now time.Time) (bool, error) {
	tz := qh.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	start, err := types.ParseTimeOfDay(qh.Start)
	if err != nil {
		return false, fmt.Errorf("invalid quiet hours start: %w", err)
	}
	end, err := types.ParseTimeOfDay(qh.End)
	if err != nil {
		return false, fmt.Errorf("invalid quiet hours end: %w", err)
	}
	local := now.In(loc)
	return isInQuietPeriod(local.Hour()*60+local.Minute(), start, end), nil
}

// isInQuietPeriod works in minutes since midnight. start == end is an empty
// window.
func isInQuietPeriod(nowMinutes, startMinutes, endMinutes int) bool {
	if startMinutes <= endMinutes {
		// Same-day period (e.g., 09:00-17:00)
		return nowMinutes >= startMinutes && nowMinutes < endMinutes
	}
	// Overnight period (e.g., 22:00-06:00)
	return nowMinutes >= startMinutes || nowMinutes < endMinutes
}

func summarize(t *types.Transition, pref *types.PricePreference) (string, string) {
	title := pref.Name
	venue := ""
	if t.Listing != nil {
		if t.Listing.Title != "" {
			title = t.Listing.Title
		}
		venue = t.Listing.Venue
	}

	dir, verb := "Price drop", "down"
	if t.Change.IsIncrease {
		dir, verb = "Price increase", "up"
	}
	subject := fmt.Sprintf("%s: %s", dir, title)

	where := title
	if venue != "" {
		where = fmt.Sprintf("%s at %s", title, venue)
	}
	body := fmt.Sprintf("%s is now $%s", where, t.Price.StringFixed(2))
	if t.Change.Computable && t.Previous.Valid {
		body += fmt.Sprintf(", %s %s%% from $%s", verb, t.Change.PercentChange.Abs().StringFixed(2), t.Previous.Decimal.StringFixed(2))
	}
	if t.Change.Savings.IsPositive() {
		body += fmt.Sprintf(". $%s under your max", t.Change.Savings.StringFixed(2))
	}
	return subject, body + "."
}
