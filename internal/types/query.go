package types

import "time"

// HistoryQuery selects alert-history entries in [From, To).
type HistoryQuery struct {
	AlertID string
	From    time.Time
	To      time.Time
	Limit   int
}

// DefaultHistoryQuery returns the last-30-days window ending at now.
func DefaultHistoryQuery(alertID string, now time.Time) HistoryQuery {
	return HistoryQuery{
		AlertID: alertID,
		From:    now.Add(-HistoryDefaultWindow),
		To:      now,
		Limit:   500,
	}
}
