package alerts

import (
	"context"
	"time"

	"ticketwatch/internal/types"
)

// Store persists alert state and everything that must change with it.
//
// Implementations must apply a Commit atomically and enforce the optimistic
// version checks it carries. A stale version yields types.ErrVersionConflict;
// a state or preference removed underneath the caller yields
// types.ErrStateGone.
type Store interface {
	// GetState returns the state for (preferenceID, listingKey), or nil when
	// none exists yet.
	GetState(ctx context.Context, preferenceID, listingKey string) (*types.AlertState, error)

	// GetStateByID returns the state with the given ID, or an AppError with
	// ErrCodeNotFoundAlert wrapping types.ErrStateGone.
	GetStateByID(ctx context.Context, id string) (*types.AlertState, error)

	// GetNotificationState returns the frequency bookkeeping for a
	// preference. A preference that never notified yields a zero value with
	// PreferenceID set.
	GetNotificationState(ctx context.Context, preferenceID string) (*types.PreferenceNotificationState, error)

	// Commit applies a transition atomically.
	Commit(ctx context.Context, c *Commit) (CommitResult, error)

	// DeleteState removes the record if its version still matches and
	// appends the given history entry.
	DeleteState(ctx context.Context, id string, expectedVersion int64, entry types.AlertHistoryEntry) error

	// ListOverdue returns IDs of non-terminal alerts whose expiry is at or
	// before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Commit is one atomic unit of work against the Store.
type Commit struct {
	// State is the post-transition record. Its Version field holds the
	// version that was loaded. The store persists Version+1 and leaves the
	// struct itself untouched.
	State *types.AlertState

	// Insert creates State instead of updating it. Losing a creation race
	// is reported as types.ErrVersionConflict.
	Insert bool

	History []types.AlertHistoryEntry

	// Decision is recorded in the notification outbox with DecisionStatus.
	Decision       *types.NotificationDecision
	DecisionStatus types.DispatchStatus

	// NotifyState, when set, is upserted with a version check against its
	// Version field. SupersedeDecisionID names a queued decision that the new
	// one replaces.
	NotifyState         *types.PreferenceNotificationState
	SupersedeDecisionID string

	// Intent is inserted unless a row with the same ID already exists.
	Intent *types.PurchaseIntent
}

// CommitResult reports side effects the caller needs after commit.
type CommitResult struct {
	// IntentCreated is false when the intent already existed.
	IntentCreated bool
}
