package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ticketwatch/internal/types"
)

// OutboxRepository manages notification_outbox and purchase_intents rows
// after their commit: dispatch bookkeeping, redrive and release of queued
// (frequency-capped) decisions.
type OutboxRepository struct {
	db DBTX
	tx TxRunner
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db DBTX, tx TxRunner) *OutboxRepository {
	return &OutboxRepository{db: db, tx: tx}
}

func scanOutbox(rows pgx.Rows) ([]types.OutboxRecord, error) {
	defer rows.Close()
	var out []types.OutboxRecord
	for rows.Next() {
		var rec types.OutboxRecord
		var status string
		var payload []byte
		if err := rows.Scan(&payload, &status, &rec.Attempts, &rec.DispatchedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan outbox row", err)
		}
		if err := json.Unmarshal(payload, &rec.Decision); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode outbox payload", err)
		}
		rec.Status = types.DispatchStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating outbox rows", err)
	}
	return out, nil
}

// ListPendingDecisions returns decisions created before the cutoff that were
// never handed to the dispatcher, oldest first.
func (r *OutboxRepository) ListPendingDecisions(ctx context.Context, before time.Time, limit int) ([]types.OutboxRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT payload, status, attempts, dispatched_at
		 FROM notification_outbox
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at, id
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending decisions", err)
	}
	return scanOutbox(rows)
}

// ListDueQueued returns queued decisions whose deliver_after is at or before
// horizon.
func (r *OutboxRepository) ListDueQueued(ctx context.Context, horizon time.Time, limit int) ([]types.OutboxRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT payload, status, attempts, dispatched_at
		 FROM notification_outbox
		 WHERE status = 'queued' AND deliver_after <= $1
		 ORDER BY deliver_after, id
		 LIMIT $2`,
		horizon, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list queued decisions", err)
	}
	return scanOutbox(rows)
}

// MarkDecisionDispatched moves a pending decision to dispatched. A row that
// is no longer pending is left alone.
func (r *OutboxRepository) MarkDecisionDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_outbox SET
			status = 'dispatched',
			dispatched_at = $2,
			attempts = attempts + 1,
			last_error = NULL
		 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark decision dispatched", err)
	}
	return nil
}

// RecordDecisionFailure counts a failed hand-off; the row stays pending.
func (r *OutboxRepository) RecordDecisionFailure(ctx context.Context, id string, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_outbox SET attempts = attempts + 1, last_error = $2
		 WHERE id = $1 AND status = 'pending'`,
		id, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record decision failure", err)
	}
	return nil
}

// ReleaseQueued replaces a queued decision with its released form. A
// released decision with channels becomes pending and opens a new frequency
// window at now; one without channels is recorded as suppressed. Returns
// false when the row was no longer queued (superseded or already released).
func (r *OutboxRepository) ReleaseQueued(ctx context.Context, d types.NotificationDecision, now time.Time) (bool, error) {
	status := types.DispatchPending
	if len(d.Channels) == 0 {
		status = types.DispatchSuppressed
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode released decision", err)
	}

	released := false
	err = r.tx.InTx(ctx, func(tx DBTX) error {
		tag, err := tx.Exec(ctx,
			`UPDATE notification_outbox SET
				status = $2,
				channels = $3,
				suppressed_reason = $4,
				deliver_after = NULL,
				payload = $5
			 WHERE id = $1 AND status = 'queued'`,
			d.ID, string(status), types.ChannelList(d.Channels),
			nilIfEmpty(string(d.SuppressedReason)), payload,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to release queued decision", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		released = true

		if status == types.DispatchPending {
			if _, err := tx.Exec(ctx,
				`UPDATE preference_notification_state SET
					last_notified_at = $2,
					pending_decision_id = NULL,
					version = version + 1
				 WHERE preference_id = $1 AND pending_decision_id = $3`,
				d.PreferenceID, now, d.ID,
			); err != nil {
				return types.NewAppError(types.ErrCodeInternalDB, "failed to open frequency window", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE alert_states SET last_notified_at = $2, version = version + 1
				 WHERE id = $1`,
				d.AlertID, now,
			); err != nil {
				return types.NewAppError(types.ErrCodeInternalDB, "failed to stamp alert notification", err)
			}
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE preference_notification_state SET
				pending_decision_id = NULL,
				version = version + 1
			 WHERE preference_id = $1 AND pending_decision_id = $2`,
			d.PreferenceID, d.ID,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to clear pending decision", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// ListPendingIntents returns intents created before the cutoff that the
// executor has not accepted yet, oldest first.
func (r *OutboxRepository) ListPendingIntents(ctx context.Context, before time.Time, limit int) ([]types.PurchaseIntent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, alert_id, user_id, listing_id, price, quantity, created_at
		 FROM purchase_intents
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at, id
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending intents", err)
	}
	defer rows.Close()

	var out []types.PurchaseIntent
	for rows.Next() {
		var in types.PurchaseIntent
		if err := rows.Scan(&in.ID, &in.AlertID, &in.UserID, &in.ListingID, &in.Price, &in.Quantity, &in.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan purchase intent", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating purchase intents", err)
	}
	return out, nil
}

// MarkIntentDispatched records that the executor accepted an intent.
func (r *OutboxRepository) MarkIntentDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE purchase_intents SET
			status = 'dispatched',
			dispatched_at = $2,
			attempts = attempts + 1,
			last_error = NULL
		 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark intent dispatched", err)
	}
	return nil
}

// RecordIntentFailure counts a failed hand-off; the intent stays pending.
func (r *OutboxRepository) RecordIntentFailure(ctx context.Context, id string, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE purchase_intents SET attempts = attempts + 1, last_error = $2
		 WHERE id = $1 AND status = 'pending'`,
		id, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to record failure for intent %s", id), err)
	}
	return nil
}
