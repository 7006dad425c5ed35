package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticketwatch/internal/types"
)

// maxExpiryBatches bounds one sweep so a backlog cannot outlive the Lambda
// timeout; the next run continues where this one stopped.
const maxExpiryBatches = 20

// OverdueLister finds alerts whose lifetime has ended.
type OverdueLister interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// AlertExpirer applies the expire event. Satisfied by *alerts.Machine.
type AlertExpirer interface {
	Expire(ctx context.Context, alertID string) (*types.AlertState, error)
}

// ExpiredRecorder receives the number of alerts expired per sweep.
type ExpiredRecorder interface {
	RecordExpired(ctx context.Context, count int)
}

// ExpiryService moves overdue alerts to expired.
type ExpiryService struct {
	lister  OverdueLister
	expirer AlertExpirer
	metrics ExpiredRecorder
	logger  *slog.Logger
}

// NewExpiryService creates a new ExpiryService. metrics may be nil.
func NewExpiryService(lister OverdueLister, expirer AlertExpirer, metrics ExpiredRecorder, logger *slog.Logger) *ExpiryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryService{lister: lister, expirer: expirer, metrics: metrics, logger: logger}
}

// ExpireOverdue expires alerts with expires_at at or before now, batchSize at
// a time. Alerts that changed underneath the sweep (already terminal,
// deleted, contended) are skipped. Returns the number expired.
func (s *ExpiryService) ExpireOverdue(ctx context.Context, now time.Time, batchSize int) (int, error) {
	total := 0
	for batch := 0; batch < maxExpiryBatches; batch++ {
		ids, err := s.lister.ListOverdue(ctx, now, batchSize)
		if err != nil {
			return total, fmt.Errorf("listing overdue alerts: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		expired := 0
		for _, id := range ids {
			if _, err := s.expirer.Expire(ctx, id); err != nil {
				if types.IsSkippable(err) {
					s.logger.InfoContext(ctx, "skipping alert during expiry sweep",
						"alert_id", id,
						"error", err,
					)
					continue
				}
				s.record(ctx, total+expired)
				return total + expired, fmt.Errorf("expiring alert %s: %w", id, err)
			}
			expired++
		}
		total += expired

		// No progress means every remaining row is being skipped.
		if len(ids) < batchSize || expired == 0 {
			break
		}
	}

	s.record(ctx, total)
	if total > 0 {
		s.logger.InfoContext(ctx, "expired overdue alerts",
			"count", total,
			"reference_time", now.Format(time.RFC3339),
		)
	}
	return total, nil
}

func (s *ExpiryService) record(ctx context.Context, n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.RecordExpired(ctx, n)
	}
}
