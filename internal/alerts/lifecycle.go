package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketwatch/internal/types"
)

// Dismiss clears a trigger and keeps monitoring. Dismissing an alert that is
// not triggered retires it.
func (m *Machine) Dismiss(ctx context.Context, alertID string) (*types.AlertState, error) {
	return m.apply(ctx, alertID, types.EventDismiss)
}

// Pause stops an alert from triggering until it is resumed.
func (m *Machine) Pause(ctx context.Context, alertID string) (*types.AlertState, error) {
	return m.apply(ctx, alertID, types.EventPause)
}

// Resume returns a paused alert to active.
func (m *Machine) Resume(ctx context.Context, alertID string) (*types.AlertState, error) {
	return m.apply(ctx, alertID, types.EventResume)
}

// Expire moves an overdue alert to expired. Alerts that are not yet due are
// left alone and returned unchanged.
func (m *Machine) Expire(ctx context.Context, alertID string) (*types.AlertState, error) {
	return m.apply(ctx, alertID, types.EventExpire)
}

// Delete removes the alert record entirely. Unlike Dismiss it cannot be
// undone; a later observation starts a fresh alert.
func (m *Machine) Delete(ctx context.Context, alertID string) error {
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		state, err := m.store.GetStateByID(ctx, alertID)
		if err != nil {
			return err
		}

		err = m.withKey(state, func() error {
			entry := m.historyEntry(state.ID, m.clock.Now(), nil, types.AlertStatusRemoved,
				fmt.Sprintf("alert deleted while %s", state.Status))
			entry.Price = state.LastObservedPrice
			return m.store.DeleteState(ctx, state.ID, state.Version, entry)
		})
		if errors.Is(err, types.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, types.ErrStateGone) {
			return types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", err)
		}
		return err
	}
	return types.NewAppError(types.ErrCodeConflictConcurrent, "alert kept changing during delete", types.ErrVersionConflict)
}

func (m *Machine) apply(ctx context.Context, alertID string, ev types.AlertEvent) (*types.AlertState, error) {
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		state, err := m.store.GetStateByID(ctx, alertID)
		if err != nil {
			return nil, err
		}

		var out *types.AlertState
		err = m.withKey(state, func() error {
			now := m.clock.Now()
			if ev == types.EventExpire && !IsExpired(state, now) {
				out = state
				return nil
			}
			o, err := m.transition(ctx, state, ev, now, userMessage(ev))
			if err != nil {
				return err
			}
			out = o.State
			return nil
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, types.ErrVersionConflict):
			continue
		case errors.Is(err, types.ErrStateGone):
			return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", err)
		case errors.Is(err, types.ErrInvalidTransition):
			return nil, conflictFor(state.Status, ev, err)
		default:
			return nil, err
		}
	}
	return nil, types.NewAppError(types.ErrCodeConflictConcurrent, "alert kept changing", types.ErrVersionConflict)
}

// withKey runs fn under the same lock Observe uses for the alert's key.
func (m *Machine) withKey(state *types.AlertState, fn func() error) error {
	unlock := m.locks.Lock(lockKey(state.PreferenceID, state.ListingKey))
	defer unlock()
	return fn()
}

// transition commits a plain status change with one history entry.
func (m *Machine) transition(ctx context.Context, state *types.AlertState, ev types.AlertEvent, now time.Time, msg string) (*Outcome, error) {
	to, err := Next(state.Status, ev)
	if err != nil {
		return nil, err
	}

	next := *state
	next.Status = to
	next.UpdatedAt = now

	entry := m.historyEntry(state.ID, now, nil, to, msg)
	entry.Price = state.LastObservedPrice

	if _, err := m.store.Commit(ctx, &Commit{State: &next, History: []types.AlertHistoryEntry{entry}}); err != nil {
		return nil, err
	}
	next.Version++

	return &Outcome{
		State: &next,
		Transition: &types.Transition{
			AlertID: state.ID,
			From:    state.Status,
			To:      to,
			Event:   ev,
			At:      now,
		},
	}, nil
}

func userMessage(ev types.AlertEvent) string {
	switch ev {
	case types.EventDismiss:
		return "dismissed by user"
	case types.EventPause:
		return "paused by user"
	case types.EventResume:
		return "resumed by user"
	case types.EventExpire:
		return "alert expired"
	default:
		return string(ev)
	}
}
