// Package outbox hands committed notification decisions and purchase intents
// to their external collaborators. Rows are written by the alert store in the
// same transaction as the state change; the relay publishes them after commit
// and marks them dispatched. A row whose hand-off fails stays pending and is
// picked up again by Redrive, so delivery is at-least-once and keyed by the
// decision or intent ID downstream.
package outbox

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ticketwatch/internal/alerts"
	notifcore "ticketwatch/internal/notifications/core"
	"ticketwatch/internal/purchase"
	"ticketwatch/internal/types"
)

const (
	// RedriveGrace keeps Redrive away from rows whose first hand-off may
	// still be in flight.
	RedriveGrace = 2 * time.Minute

	redriveConcurrency = 5

	sinkNotifications = "notifications"
	sinkPurchase      = "purchase"
)

// DecisionStore is the outbox bookkeeping for notification decisions.
type DecisionStore interface {
	ListPendingDecisions(ctx context.Context, before time.Time, limit int) ([]types.OutboxRecord, error)
	MarkDecisionDispatched(ctx context.Context, id string, at time.Time) error
	RecordDecisionFailure(ctx context.Context, id string, reason string) error
}

// IntentStore is the outbox bookkeeping for purchase intents.
type IntentStore interface {
	ListPendingIntents(ctx context.Context, before time.Time, limit int) ([]types.PurchaseIntent, error)
	MarkIntentDispatched(ctx context.Context, id string, at time.Time) error
	RecordIntentFailure(ctx context.Context, id string, reason string) error
}

// Relay publishes outbox rows.
type Relay struct {
	publisher notifcore.Publisher
	sink      purchase.Sink
	decisions DecisionStore
	intents   IntentStore
	metrics   notifcore.EngineMetrics
	clock     types.Clock
	logger    types.Logger
}

// NewRelay creates a Relay. A nil sink disables intent hand-off; intents
// then stay pending until a sink is configured.
func NewRelay(publisher notifcore.Publisher, sink purchase.Sink, decisions DecisionStore, intents IntentStore, metrics notifcore.EngineMetrics, clock types.Clock, logger types.Logger) *Relay {
	if metrics == nil {
		metrics = notifcore.NopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Relay{
		publisher: publisher,
		sink:      sink,
		decisions: decisions,
		intents:   intents,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
	}
}

// Dispatch hands off what an observation committed. Only deliverable
// decisions are published; suppressed and queued ones stay in the outbox.
// Failures are logged and counted, never returned: the state change is
// already durable and Redrive retries the row.
func (r *Relay) Dispatch(ctx context.Context, out *alerts.Outcome) {
	if out == nil {
		return
	}
	if out.Decision != nil && out.Decision.Deliverable() {
		_ = r.PublishDecision(ctx, out.Decision, 0)
	}
	if out.Intent != nil {
		_ = r.SubmitIntent(ctx, out.Intent)
	}
}

// PublishDecision publishes one decision with the given delivery delay and
// marks it dispatched.
func (r *Relay) PublishDecision(ctx context.Context, d *types.NotificationDecision, delay time.Duration) error {
	msg := types.NewNotificationMessage(d, types.GetTraceID(ctx))
	if err := r.publisher.Publish(ctx, msg, delay); err != nil {
		r.metrics.RecordDispatchFailure(ctx, sinkNotifications)
		r.logger.Error("failed to publish notification decision",
			"decision_id", d.ID,
			"alert_id", d.AlertID,
			"error", err,
		)
		if recErr := r.decisions.RecordDecisionFailure(ctx, d.ID, err.Error()); recErr != nil {
			r.logger.Error("failed to record decision failure", "decision_id", d.ID, "error", recErr)
		}
		return err
	}
	if err := r.decisions.MarkDecisionDispatched(ctx, d.ID, r.clock.Now()); err != nil {
		r.logger.Error("failed to mark decision dispatched", "decision_id", d.ID, "error", err)
		return err
	}
	return nil
}

// SubmitIntent hands one intent to the purchase executor and marks it
// dispatched.
func (r *Relay) SubmitIntent(ctx context.Context, in *types.PurchaseIntent) error {
	if r.sink == nil {
		r.logger.Warn("purchase sink not configured, intent left pending", "intent_id", in.ID)
		return nil
	}
	if err := r.sink.Submit(ctx, types.NewPurchaseIntentMessage(in)); err != nil {
		r.metrics.RecordDispatchFailure(ctx, sinkPurchase)
		r.logger.Error("failed to submit purchase intent",
			"intent_id", in.ID,
			"alert_id", in.AlertID,
			"error", err,
		)
		if recErr := r.intents.RecordIntentFailure(ctx, in.ID, err.Error()); recErr != nil {
			r.logger.Error("failed to record intent failure", "intent_id", in.ID, "error", recErr)
		}
		return err
	}
	r.metrics.RecordIntent(ctx)
	if err := r.intents.MarkIntentDispatched(ctx, in.ID, r.clock.Now()); err != nil {
		r.logger.Error("failed to mark intent dispatched", "intent_id", in.ID, "error", err)
		return err
	}
	return nil
}

// RedriveResult counts the rows one Redrive pass handled.
type RedriveResult struct {
	Decisions int
	Intents   int
	Failed    int
}

// Redrive republishes pending rows older than RedriveGrace, up to limit of
// each kind. Individual hand-off failures are counted; only listing errors
// abort the pass.
func (r *Relay) Redrive(ctx context.Context, now time.Time, limit int) (RedriveResult, error) {
	var res RedriveResult
	before := now.Add(-RedriveGrace)

	records, err := r.decisions.ListPendingDecisions(ctx, before, limit)
	if err != nil {
		return res, err
	}
	var intents []types.PurchaseIntent
	if r.sink != nil {
		intents, err = r.intents.ListPendingIntents(ctx, before, limit)
		if err != nil {
			return res, err
		}
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(redriveConcurrency)

	for i := range records {
		d := records[i].Decision
		g.Go(func() error {
			err := r.PublishDecision(gCtx, &d, 0)
			mu.Lock()
			if err != nil {
				res.Failed++
			} else {
				res.Decisions++
			}
			mu.Unlock()
			return nil
		})
	}
	for i := range intents {
		in := intents[i]
		g.Go(func() error {
			err := r.SubmitIntent(gCtx, &in)
			mu.Lock()
			if err != nil {
				res.Failed++
			} else {
				res.Intents++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if res.Decisions+res.Intents+res.Failed > 0 {
		r.logger.Info("outbox redrive complete",
			"decisions", res.Decisions,
			"intents", res.Intents,
			"failed", res.Failed,
		)
	}
	return res, nil
}
