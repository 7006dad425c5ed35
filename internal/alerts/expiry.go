package alerts

import (
	"time"

	"ticketwatch/internal/types"
)

// ExpiresAt computes an alert's expiry from its duration code at creation.
// The mapping is user-facing and must not drift:
//
//	1_day → +1d, 3_days → +3d, 1_week → +7d, 1_month → +30d,
//	until_event → +6 months, anything else → +7d.
func ExpiresAt(code types.DurationCode, createdAt time.Time) time.Time {
	switch code {
	case types.Duration1Day:
		return createdAt.AddDate(0, 0, 1)
	case types.Duration3Days:
		return createdAt.AddDate(0, 0, 3)
	case types.Duration1Week:
		return createdAt.AddDate(0, 0, 7)
	case types.Duration1Month:
		return createdAt.AddDate(0, 0, 30)
	case types.DurationUntilEvent:
		return createdAt.AddDate(0, 6, 0)
	default:
		return createdAt.AddDate(0, 0, 7)
	}
}

// IsExpired reports whether an alert has reached its expiry at now.
func IsExpired(s *types.AlertState, now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
