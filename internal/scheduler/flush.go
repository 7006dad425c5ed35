package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticketwatch/internal/types"
)

// MaxFlushLookahead is the longest delivery delay the notification queue
// accepts, so decisions due further out wait for a later run.
const MaxFlushLookahead = 15 * time.Minute

// QueuedDecisionStore lists and releases frequency-capped decisions.
type QueuedDecisionStore interface {
	ListDueQueued(ctx context.Context, horizon time.Time, limit int) ([]types.OutboxRecord, error)
	ReleaseQueued(ctx context.Context, d types.NotificationDecision, now time.Time) (bool, error)
}

// PreferenceGetter loads the preference a queued decision belongs to.
type PreferenceGetter interface {
	GetByID(ctx context.Context, id string) (*types.PricePreference, error)
}

// DecisionReleaser recomputes channels for a decision leaving the queue.
// Satisfied by *core.Router.
type DecisionReleaser interface {
	Release(d types.NotificationDecision, pref *types.PricePreference, now time.Time) types.NotificationDecision
}

// DecisionPublisher hands a released decision to the dispatcher. Satisfied
// by *outbox.Relay.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d *types.NotificationDecision, delay time.Duration) error
}

// FlushService releases coalesced (hourly/daily) notifications once their
// frequency window has elapsed.
type FlushService struct {
	store     QueuedDecisionStore
	prefs     PreferenceGetter
	releaser  DecisionReleaser
	publisher DecisionPublisher
	logger    *slog.Logger
}

// NewFlushService creates a new FlushService.
func NewFlushService(store QueuedDecisionStore, prefs PreferenceGetter, releaser DecisionReleaser, publisher DecisionPublisher, logger *slog.Logger) *FlushService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushService{
		store:     store,
		prefs:     prefs,
		releaser:  releaser,
		publisher: publisher,
		logger:    logger,
	}
}

// FlushDue releases queued decisions due within lookahead of now. Each one
// is re-evaluated at its delivery time: channels come from the current
// preference and quiet hours are checked again. Deliverable decisions are
// published with the remaining delay; the rest stay in the outbox as
// suppressed. Returns the number of decisions released.
func (s *FlushService) FlushDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) (int, error) {
	if lookahead > MaxFlushLookahead {
		lookahead = MaxFlushLookahead
	}
	if lookahead < 0 {
		lookahead = 0
	}

	records, err := s.store.ListDueQueued(ctx, now.Add(lookahead), limit)
	if err != nil {
		return 0, fmt.Errorf("listing queued decisions: %w", err)
	}

	released, published := 0, 0
	for i := range records {
		d := records[i].Decision

		deliverAt := now
		if d.DeliverAfter != nil && d.DeliverAfter.After(now) {
			deliverAt = *d.DeliverAfter
		}

		pref, err := s.prefs.GetByID(ctx, d.PreferenceID)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundPreference {
				s.logger.InfoContext(ctx, "preference gone, leaving queued decision",
					"decision_id", d.ID,
					"preference_id", d.PreferenceID,
				)
				continue
			}
			return released, fmt.Errorf("loading preference %s: %w", d.PreferenceID, err)
		}

		out := s.releaser.Release(d, pref, deliverAt)
		ok, err := s.store.ReleaseQueued(ctx, out, deliverAt)
		if err != nil {
			return released, fmt.Errorf("releasing decision %s: %w", d.ID, err)
		}
		if !ok {
			// Superseded or released by a concurrent run.
			continue
		}
		released++

		if !out.Deliverable() {
			s.logger.InfoContext(ctx, "released decision suppressed at delivery time",
				"decision_id", out.ID,
				"reason", string(out.SuppressedReason),
			)
			continue
		}
		if err := s.publisher.PublishDecision(ctx, &out, deliverAt.Sub(now)); err != nil {
			// The row is pending now; redrive picks it up.
			s.logger.WarnContext(ctx, "failed to publish released decision",
				"decision_id", out.ID,
				"error", err,
			)
			continue
		}
		published++
	}

	if released > 0 {
		s.logger.InfoContext(ctx, "flushed coalesced notifications",
			"released", released,
			"published", published,
		)
	}
	return released, nil
}
