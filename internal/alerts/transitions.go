package alerts

import (
	"fmt"

	"ticketwatch/internal/types"
)

// transitions is the directed lifecycle graph. Delete is handled separately
// because it removes the record from any status.
var transitions = map[types.AlertStatus]map[types.AlertEvent]types.AlertStatus{
	types.AlertStatusActive: {
		types.EventTrigger: types.AlertStatusTriggered,
		types.EventPause:   types.AlertStatusPaused,
		types.EventExpire:  types.AlertStatusExpired,
		types.EventDismiss: types.AlertStatusDismissed,
	},
	types.AlertStatusTriggered: {
		types.EventDismiss: types.AlertStatusActive,
		types.EventPause:   types.AlertStatusPaused,
		types.EventExpire:  types.AlertStatusExpired,
	},
	types.AlertStatusPaused: {
		types.EventResume:  types.AlertStatusActive,
		types.EventExpire:  types.AlertStatusExpired,
		types.EventDismiss: types.AlertStatusDismissed,
	},
}

// Next returns the status reached by applying ev to from.
//
// Dismissing a triggered alert clears the trigger and keeps monitoring.
// Dismissing an alert that is not triggered retires it. Expired and
// dismissed are terminal. Delete reaches AlertStatusRemoved from any status.
func Next(from types.AlertStatus, ev types.AlertEvent) (types.AlertStatus, error) {
	if ev == types.EventDelete {
		return types.AlertStatusRemoved, nil
	}
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s from %s", types.ErrInvalidTransition, ev, from)
}

// conflictFor maps a rejected user event onto the most specific conflict code.
func conflictFor(from types.AlertStatus, ev types.AlertEvent, err error) *types.AppError {
	switch {
	case ev == types.EventPause && from == types.AlertStatusPaused:
		return types.NewAppError(types.ErrCodeConflictPaused, "alert is already paused", err)
	case ev == types.EventResume && (from == types.AlertStatusActive || from == types.AlertStatusTriggered):
		return types.NewAppError(types.ErrCodeConflictActive, "alert is already active", err)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeConflictTransition,
			fmt.Sprintf("cannot %s an alert that is %s", ev, from), err,
			map[string]any{"status": string(from), "event": string(ev)})
	}
}
