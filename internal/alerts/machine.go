// Package alerts owns the alert lifecycle: creating an AlertState on the
// first candidate observation, detecting significant price moves, and
// committing triggers together with their notification decision and
// purchase intent.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticketwatch/internal/matching"
	"ticketwatch/internal/types"
)

// DefaultMaxRetries bounds reload-and-retry after a version conflict.
const DefaultMaxRetries = 3

// decisionNamespace seeds deterministic decision IDs.
var decisionNamespace = uuid.MustParse("6f1c8f5e-3c1a-4f7e-9a52-3b0f6d1f2a10")

// NotificationRouter turns a trigger into a NotificationDecision.
type NotificationRouter interface {
	Decide(t *types.Transition, pref *types.PricePreference, now time.Time, lastNotifiedAt *time.Time) types.NotificationDecision
}

// PurchaseDecider decides auto-purchase eligibility and builds intents.
type PurchaseDecider interface {
	ShouldAutoPurchase(listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult) bool
	Intent(alertID string, cycle int, listing *types.TicketListing, pref *types.PricePreference, now time.Time) types.PurchaseIntent
}

// Outcome describes what one observation did.
type Outcome struct {
	State      *types.AlertState
	Created    bool
	Transition *types.Transition
	Decision   *types.NotificationDecision
	Intent     *types.PurchaseIntent
}

// Triggered reports whether the observation moved the alert into triggered.
func (o *Outcome) Triggered() bool {
	return o != nil && o.Transition != nil && o.Transition.To == types.AlertStatusTriggered
}

// Machine drives AlertState records through their lifecycle.
type Machine struct {
	store      Store
	router     NotificationRouter
	purchase   PurchaseDecider
	clock      types.Clock
	logger     types.Logger
	locks      *KeyedMutex
	maxRetries int
	newID      func() string
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithClock overrides the wall clock.
func WithClock(c types.Clock) MachineOption {
	return func(m *Machine) { m.clock = c }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithIDGenerator overrides the row ID generator (uuid v4 by default).
func WithIDGenerator(fn func() string) MachineOption {
	return func(m *Machine) { m.newID = fn }
}

// NewMachine wires a Machine. A nil purchase decider disables intents.
func NewMachine(store Store, router NotificationRouter, purchase PurchaseDecider, logger types.Logger, opts ...MachineOption) *Machine {
	if logger == nil {
		logger = types.NopLogger{}
	}
	m := &Machine{
		store:      store,
		router:     router,
		purchase:   purchase,
		clock:      types.RealClock{},
		logger:     logger,
		locks:      NewKeyedMutex(),
		maxRetries: DefaultMaxRetries,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DecisionID derives the notification ID for the n-th trigger of an alert.
// Recomputing a trigger after a crash yields the same ID, so downstream
// dispatch can deduplicate.
func DecisionID(alertID string, triggerCount int) string {
	return uuid.NewSHA1(decisionNamespace, []byte(alertID+":"+strconv.Itoa(triggerCount))).String()
}

// Observe applies one listing observation to the alert for (pref, listing).
//
// Observations for the same key are serialized in-process; the version check
// in Store.Commit covers other processes. A version conflict reloads and
// re-evaluates up to the configured retry budget. A state or preference
// deleted concurrently turns the observation into a no-op.
func (m *Machine) Observe(ctx context.Context, listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult) (*Outcome, error) {
	unlock := m.locks.Lock(lockKey(pref.ID, listing.Key()))
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := m.observeOnce(ctx, listing, pref, match)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, types.ErrVersionConflict):
			lastErr = err
			m.logger.Info("alert version conflict, reloading",
				"preference_id", pref.ID, "listing_key", listing.Key(), "attempt", attempt)
			continue
		case errors.Is(err, types.ErrStateGone):
			m.logger.Info("alert or preference removed during observation",
				"preference_id", pref.ID, "listing_key", listing.Key())
			return &Outcome{}, nil
		default:
			return nil, err
		}
	}
	return nil, types.NewAppError(types.ErrCodeConflictConcurrent,
		fmt.Sprintf("alert for preference %s kept changing after %d attempts", pref.ID, m.maxRetries), lastErr)
}

func (m *Machine) observeOnce(ctx context.Context, listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult) (*Outcome, error) {
	now := m.clock.Now()
	price := listing.EffectivePrice()

	state, err := m.store.GetState(ctx, pref.ID, listing.Key())
	if err != nil {
		return nil, err
	}
	if state == nil {
		if !match.Candidate() {
			return &Outcome{}, nil
		}
		return m.create(ctx, listing, pref, match, now)
	}

	if !state.Status.IsTerminal() && IsExpired(state, now) {
		return m.transition(ctx, state, types.EventExpire, now, "alert expired")
	}

	sig := matching.Evaluate(state.LastObservedPrice, price, pref)
	match.Significance = &sig

	next := *state
	next.LastObservedPrice = decimal.NewNullDecimal(price)
	next.UpdatedAt = now

	c := &Commit{State: &next}
	out := &Outcome{State: &next}

	if state.Status == types.AlertStatusActive && match.Matches && sig.Significant() {
		if err := m.trigger(ctx, c, out, listing, pref, state.LastObservedPrice, price, sig, now); err != nil {
			return nil, err
		}
	} else {
		c.History = append(c.History, m.historyEntry(state.ID, now, listing, next.Status, observationMessage(state.Status, sig)))
	}

	if state.Status == types.AlertStatusActive || state.Status == types.AlertStatusTriggered {
		m.attachIntent(c, out, state.ID, listing, pref, match, now)
	}

	res, err := m.store.Commit(ctx, c)
	if err != nil {
		return nil, err
	}
	if out.Intent != nil && !res.IntentCreated {
		out.Intent = nil
	}
	next.Version++
	return out, nil
}

func (m *Machine) create(ctx context.Context, listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult, now time.Time) (*Outcome, error) {
	price := listing.EffectivePrice()
	state := &types.AlertState{
		ID:                m.newID(),
		PreferenceID:      pref.ID,
		UserID:            pref.UserID,
		ListingKey:        listing.Key(),
		Status:            types.AlertStatusActive,
		LastObservedPrice: decimal.NewNullDecimal(price),
		ExpiresAt:         ExpiresAt(pref.Duration, now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	c := &Commit{
		State:  state,
		Insert: true,
		History: []types.AlertHistoryEntry{
			m.historyEntry(state.ID, now, listing, types.AlertStatusActive,
				fmt.Sprintf("monitoring started at $%s", price.StringFixed(2))),
		},
	}
	out := &Outcome{State: state, Created: true}
	m.attachIntent(c, out, state.ID, listing, pref, match, now)

	res, err := m.store.Commit(ctx, c)
	if err != nil {
		return nil, err
	}
	if out.Intent != nil && !res.IntentCreated {
		out.Intent = nil
	}
	state.Version = 1
	return out, nil
}

// trigger fills c with the active→triggered move, its notification decision
// and the frequency bookkeeping. Nothing is dispatched until the caller's
// commit succeeds.
func (m *Machine) trigger(ctx context.Context, c *Commit, out *Outcome, listing *types.TicketListing, pref *types.PricePreference,
	previous decimal.NullDecimal, price decimal.Decimal, sig types.SignificanceResult, now time.Time) error {
	to, err := Next(types.AlertStatusActive, types.EventTrigger)
	if err != nil {
		return err
	}

	next := c.State
	next.Status = to
	next.LastTriggeredAt = &now
	next.TriggerCount++

	t := &types.Transition{
		AlertID:  next.ID,
		From:     types.AlertStatusActive,
		To:       to,
		Event:    types.EventTrigger,
		Listing:  listing,
		Price:    price,
		Previous: previous,
		Change:   sig,
		At:       now,
	}

	ns, err := m.store.GetNotificationState(ctx, pref.ID)
	if err != nil {
		return err
	}

	decision := m.router.Decide(t, pref, now, ns.LastNotifiedAt)
	decision.ID = DecisionID(next.ID, next.TriggerCount)
	decision.AlertID = next.ID
	decision.PreferenceID = pref.ID
	decision.UserID = pref.UserID
	decision.CreatedAt = now

	updatedNS := *ns
	updatedNS.PreferenceID = pref.ID
	switch {
	case decision.Deliverable():
		c.DecisionStatus = types.DispatchPending
		updatedNS.LastNotifiedAt = &now
		c.SupersedeDecisionID = ns.PendingDecisionID
		updatedNS.PendingDecisionID = ""
		next.LastNotifiedAt = &now
	case decision.DeliverAfter != nil:
		c.DecisionStatus = types.DispatchQueued
		c.SupersedeDecisionID = ns.PendingDecisionID
		updatedNS.PendingDecisionID = decision.ID
	default:
		c.DecisionStatus = types.DispatchSuppressed
	}
	if c.DecisionStatus != types.DispatchSuppressed {
		c.NotifyState = &updatedNS
	}

	c.Decision = &decision
	c.History = append(c.History, types.AlertHistoryEntry{
		ID:         m.newID(),
		AlertID:    next.ID,
		ObservedAt: now,
		Price:      decimal.NewNullDecimal(price),
		Quantity:   listing.Quantity,
		Status:     to,
		Message:    triggerMessage(sig, decision),
	})

	out.Transition = t
	out.Decision = &decision
	return nil
}

func (m *Machine) attachIntent(c *Commit, out *Outcome, alertID string, listing *types.TicketListing, pref *types.PricePreference, match *types.MatchResult, now time.Time) {
	if m.purchase == nil || !m.purchase.ShouldAutoPurchase(listing, pref, match) {
		return
	}
	intent := m.purchase.Intent(alertID, c.State.TriggerCount, listing, pref, now)
	c.Intent = &intent
	out.Intent = &intent
}

func (m *Machine) historyEntry(alertID string, now time.Time, listing *types.TicketListing, status types.AlertStatus, msg string) types.AlertHistoryEntry {
	e := types.AlertHistoryEntry{
		ID:         m.newID(),
		AlertID:    alertID,
		ObservedAt: now,
		Status:     status,
		Message:    msg,
	}
	if listing != nil {
		e.Price = listing.MinPrice
		e.Quantity = listing.Quantity
	}
	return e
}

func observationMessage(status types.AlertStatus, sig types.SignificanceResult) string {
	switch {
	case status != types.AlertStatusActive && status != types.AlertStatusTriggered:
		return fmt.Sprintf("price observed while %s", status)
	case !sig.Computable:
		return "price observed"
	default:
		return fmt.Sprintf("price observed (%s%%)", sig.PercentChange.StringFixed(2))
	}
}

func triggerMessage(sig types.SignificanceResult, d types.NotificationDecision) string {
	dir := "drop"
	if sig.IsIncrease {
		dir = "increase"
	}
	msg := fmt.Sprintf("price %s of %s%%", dir, sig.PercentChange.Abs().StringFixed(2))
	if d.SuppressedReason != types.SuppressedNone {
		msg += ", notification " + string(d.SuppressedReason)
	}
	return msg
}
