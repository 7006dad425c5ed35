package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"ticketwatch/internal/types"
)

// HistoryRepository reads and prunes the append-only alert_history table.
// Appends happen inside AlertStore commits.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository backed by the given
// database connection (pool or transaction).
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `id, alert_id, observed_at, price, quantity, status, message`

func scanHistory(rows pgx.Rows) ([]types.AlertHistoryEntry, error) {
	defer rows.Close()
	var out []types.AlertHistoryEntry
	for rows.Next() {
		var e types.AlertHistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.AlertID, &e.ObservedAt, &e.Price, &e.Quantity, &status, &e.Message); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history row", err)
		}
		e.Status = types.AlertStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating history rows", err)
	}
	return out, nil
}

// List returns entries of one alert with observed_at in [From, To), oldest
// first, capped at Limit.
func (r *HistoryRepository) List(ctx context.Context, q types.HistoryQuery) ([]types.AlertHistoryEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM alert_history
		 WHERE alert_id = $1 AND observed_at >= $2 AND observed_at < $3
		 ORDER BY observed_at, id
		 LIMIT $4`,
		q.AlertID, q.From, q.To, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alert history", err)
	}
	return scanHistory(rows)
}

// ListByPreference returns priced entries of every live alert of a
// preference within [from, to), oldest first. Insights are computed from it.
func (r *HistoryRepository) ListByPreference(ctx context.Context, preferenceID string, from, to time.Time) ([]types.AlertHistoryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT h.id, h.alert_id, h.observed_at, h.price, h.quantity, h.status, h.message
		 FROM alert_history h
		 JOIN alert_states s ON s.id = h.alert_id
		 WHERE s.preference_id = $1
		   AND h.observed_at >= $2 AND h.observed_at < $3
		   AND h.price IS NOT NULL
		 ORDER BY h.observed_at, h.id`,
		preferenceID, from, to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list preference history", err)
	}
	return scanHistory(rows)
}

// ListOlderThan returns up to limit entries observed before cutoff, oldest
// first. Used by history archival.
func (r *HistoryRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.AlertHistoryEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+historyColumns+`
		 FROM alert_history
		 WHERE observed_at < $1
		 ORDER BY observed_at, id
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list history for archival", err)
	}
	return scanHistory(rows)
}

// DeleteByIDs removes archived entries and returns the count deleted.
func (r *HistoryRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM alert_history WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived history", err)
	}
	return int(tag.RowsAffected()), nil
}

// ArchiveRepository stores compressed history batches in
// alert_history_archives.
type ArchiveRepository struct {
	db DBTX
}

// NewArchiveRepository creates a new ArchiveRepository.
func NewArchiveRepository(db DBTX) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// UploadArchive inserts one archive blob under key. Re-uploading a key is a
// no-op so an interrupted run can be repeated.
func (r *ArchiveRepository) UploadArchive(ctx context.Context, key string, entries int, data []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO alert_history_archives (key, entries, encoding, data, created_at)
		 VALUES ($1, $2, 'jsonl+zstd', $3, NOW())
		 ON CONFLICT (key) DO NOTHING`,
		key, entries, data,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to store history archive", err)
	}
	return nil
}
