package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ticketwatch/internal/alerts"
	"ticketwatch/internal/types"
)

var _ alerts.Store = (*AlertStore)(nil)

// AlertStore persists alert_states together with alert_history,
// notification_outbox, preference_notification_state and purchase_intents.
// Every Commit runs in one transaction and guards alert_states and
// preference_notification_state with a version column.
type AlertStore struct {
	db DBTX
	tx TxRunner
}

// NewAlertStore creates an AlertStore. Reads go to db; commits run through tx.
func NewAlertStore(db DBTX, tx TxRunner) *AlertStore {
	return &AlertStore{db: db, tx: tx}
}

const alertStateColumns = `id, preference_id, user_id, listing_key, status,
	last_triggered_at, last_notified_at, last_observed_price, trigger_count,
	expires_at, version, created_at, updated_at`

func scanAlertState(row pgx.Row) (*types.AlertState, error) {
	var s types.AlertState
	var status string
	err := row.Scan(
		&s.ID, &s.PreferenceID, &s.UserID, &s.ListingKey, &status,
		&s.LastTriggeredAt, &s.LastNotifiedAt, &s.LastObservedPrice, &s.TriggerCount,
		&s.ExpiresAt, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = types.AlertStatus(status)
	return &s, nil
}

// GetState implements alerts.Store.
func (s *AlertStore) GetState(ctx context.Context, preferenceID, listingKey string) (*types.AlertState, error) {
	st, err := scanAlertState(s.db.QueryRow(ctx,
		`SELECT `+alertStateColumns+`
		 FROM alert_states
		 WHERE preference_id = $1 AND listing_key = $2`,
		preferenceID, listingKey,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load alert state", err)
	}
	return st, nil
}

// GetStateByID implements alerts.Store.
func (s *AlertStore) GetStateByID(ctx context.Context, id string) (*types.AlertState, error) {
	st, err := scanAlertState(s.db.QueryRow(ctx,
		`SELECT `+alertStateColumns+` FROM alert_states WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAlert, "alert not found", types.ErrStateGone)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load alert", err)
	}
	return st, nil
}

// GetNotificationState implements alerts.Store.
func (s *AlertStore) GetNotificationState(ctx context.Context, preferenceID string) (*types.PreferenceNotificationState, error) {
	ns := types.PreferenceNotificationState{PreferenceID: preferenceID}
	var pending *string
	err := s.db.QueryRow(ctx,
		`SELECT last_notified_at, pending_decision_id, version
		 FROM preference_notification_state
		 WHERE preference_id = $1`,
		preferenceID,
	).Scan(&ns.LastNotifiedAt, &pending, &ns.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &ns, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load notification state", err)
	}
	if pending != nil {
		ns.PendingDecisionID = *pending
	}
	return &ns, nil
}

// Commit implements alerts.Store.
func (s *AlertStore) Commit(ctx context.Context, c *alerts.Commit) (alerts.CommitResult, error) {
	var res alerts.CommitResult
	err := s.tx.InTx(ctx, func(tx DBTX) error {
		if err := writeState(ctx, tx, c); err != nil {
			return err
		}
		for i := range c.History {
			if err := insertHistory(ctx, tx, &c.History[i]); err != nil {
				return err
			}
		}
		if c.SupersedeDecisionID != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE notification_outbox SET status = 'superseded'
				 WHERE id = $1 AND status = 'queued'`,
				c.SupersedeDecisionID,
			); err != nil {
				return types.NewAppError(types.ErrCodeInternalDB, "failed to supersede queued decision", err)
			}
		}
		if c.Decision != nil {
			if err := insertDecision(ctx, tx, c.Decision, c.DecisionStatus); err != nil {
				return err
			}
		}
		if c.NotifyState != nil {
			if err := writeNotifyState(ctx, tx, c.NotifyState); err != nil {
				return err
			}
		}
		if c.Intent != nil {
			created, err := insertIntent(ctx, tx, c.Intent)
			if err != nil {
				return err
			}
			res.IntentCreated = created
		}
		return nil
	})
	if err != nil {
		return alerts.CommitResult{}, err
	}
	return res, nil
}

func writeState(ctx context.Context, tx DBTX, c *alerts.Commit) error {
	st := c.State
	if c.Insert {
		tag, err := tx.Exec(ctx,
			`INSERT INTO alert_states
			 (id, preference_id, user_id, listing_key, status, last_triggered_at,
			  last_notified_at, last_observed_price, trigger_count, expires_at,
			  version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
			 ON CONFLICT (preference_id, listing_key) DO NOTHING`,
			st.ID, st.PreferenceID, st.UserID, st.ListingKey, string(st.Status),
			st.LastTriggeredAt, st.LastNotifiedAt, st.LastObservedPrice, st.TriggerCount,
			st.ExpiresAt, st.CreatedAt, st.UpdatedAt,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return types.ErrStateGone
			}
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert alert state", err)
		}
		if tag.RowsAffected() == 0 {
			return types.ErrVersionConflict
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE alert_states SET
			status = $3,
			last_triggered_at = $4,
			last_notified_at = $5,
			last_observed_price = $6,
			trigger_count = $7,
			expires_at = $8,
			updated_at = $9,
			version = version + 1
		 WHERE id = $1 AND version = $2`,
		st.ID, st.Version, string(st.Status),
		st.LastTriggeredAt, st.LastNotifiedAt, st.LastObservedPrice,
		st.TriggerCount, st.ExpiresAt, st.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update alert state", err)
	}
	if tag.RowsAffected() == 0 {
		return staleOrGone(ctx, tx, st.ID)
	}
	return nil
}

// staleOrGone tells a lost version race apart from a deleted row.
func staleOrGone(ctx context.Context, tx DBTX, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_states WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check alert state", err)
	}
	if exists {
		return types.ErrVersionConflict
	}
	return types.ErrStateGone
}

func insertHistory(ctx context.Context, tx DBTX, e *types.AlertHistoryEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO alert_history (id, alert_id, observed_at, price, quantity, status, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AlertID, e.ObservedAt, e.Price, e.Quantity, string(e.Status), e.Message,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append alert history", err)
	}
	return nil
}

func insertDecision(ctx context.Context, tx DBTX, d *types.NotificationDecision, status types.DispatchStatus) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode notification decision", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO notification_outbox
		 (id, alert_id, preference_id, user_id, status, channels, suppressed_reason,
		  deliver_after, payload, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, d.AlertID, d.PreferenceID, d.UserID, string(status),
		types.ChannelList(d.Channels), nilIfEmpty(string(d.SuppressedReason)),
		d.DeliverAfter, payload, d.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record notification decision", err)
	}
	return nil
}

// writeNotifyState upserts the frequency bookkeeping. Version 0 means the
// caller saw no row, so the insert must be the first one.
func writeNotifyState(ctx context.Context, tx DBTX, ns *types.PreferenceNotificationState) error {
	var (
		tagRows int64
		err     error
	)
	if ns.Version == 0 {
		tag, execErr := tx.Exec(ctx,
			`INSERT INTO preference_notification_state
			 (preference_id, last_notified_at, pending_decision_id, version)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (preference_id) DO NOTHING`,
			ns.PreferenceID, ns.LastNotifiedAt, nilIfEmpty(ns.PendingDecisionID),
		)
		tagRows, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := tx.Exec(ctx,
			`UPDATE preference_notification_state SET
				last_notified_at = $3,
				pending_decision_id = $4,
				version = version + 1
			 WHERE preference_id = $1 AND version = $2`,
			ns.PreferenceID, ns.Version, ns.LastNotifiedAt, nilIfEmpty(ns.PendingDecisionID),
		)
		tagRows, err = tag.RowsAffected(), execErr
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return types.ErrStateGone
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write notification state", err)
	}
	if tagRows == 0 {
		return types.ErrVersionConflict
	}
	return nil
}

func insertIntent(ctx context.Context, tx DBTX, in *types.PurchaseIntent) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO purchase_intents
		 (id, alert_id, user_id, listing_id, price, quantity, status, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7)
		 ON CONFLICT (id) DO NOTHING`,
		in.ID, in.AlertID, in.UserID, in.ListingID, in.Price, in.Quantity, in.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record purchase intent", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteState implements alerts.Store.
func (s *AlertStore) DeleteState(ctx context.Context, id string, expectedVersion int64, entry types.AlertHistoryEntry) error {
	return s.tx.InTx(ctx, func(tx DBTX) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM alert_states WHERE id = $1 AND version = $2`, id, expectedVersion)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to delete alert state", err)
		}
		if tag.RowsAffected() == 0 {
			return staleOrGone(ctx, tx, id)
		}
		return insertHistory(ctx, tx, &entry)
	})
}

// ListOverdue implements alerts.Store.
func (s *AlertStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT id FROM alert_states
		 WHERE status IN ('active', 'triggered', 'paused')
		   AND expires_at <= $1
		 ORDER BY expires_at, id
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list overdue alerts", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan overdue alert", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating overdue alerts", err)
	}
	return ids, nil
}

// ListByPreference returns the alerts of one preference, newest first.
func (s *AlertStore) ListByPreference(ctx context.Context, preferenceID string, limit int) ([]types.AlertState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+alertStateColumns+`
		 FROM alert_states
		 WHERE preference_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		preferenceID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alerts", err)
	}
	defer rows.Close()

	var out []types.AlertState
	for rows.Next() {
		st, err := scanAlertState(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to scan alert for preference %s", preferenceID), err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alerts", err)
	}
	return out, nil
}
