// Package core decides how a triggered alert is announced and hands the
// decision to the external dispatcher. It owns channel selection, quiet
// hours, frequency throttling, the SQS publisher and the engine's CloudWatch
// metrics.
package core

import (
	"context"
	"time"

	"ticketwatch/internal/types"
)

// Frequency windows. Immediate has no window.
const (
	HourlyWindow = time.Hour
	DailyWindow  = 24 * time.Hour
)

// FrequencyWindow returns the coalescing window for a frequency.
func FrequencyWindow(f types.AlertFrequency) time.Duration {
	switch f {
	case types.FrequencyHourly:
		return HourlyWindow
	case types.FrequencyDaily:
		return DailyWindow
	default:
		return 0
	}
}

// Publisher hands a decision to the notification dispatcher.
type Publisher interface {
	Publish(ctx context.Context, msg types.NotificationMessage, delay time.Duration) error
}

// EngineMetrics abstracts CloudWatch/telemetry operations for the engine.
// Implementations must not fail the caller; errors are logged.
type EngineMetrics interface {
	RecordListing(ctx context.Context, category string, skipped bool)
	RecordTrigger(ctx context.Context, category string)
	RecordSuppressed(ctx context.Context, reason types.SuppressedReason)
	RecordIntent(ctx context.Context)
	RecordDispatchFailure(ctx context.Context, sink string)
	RecordExpired(ctx context.Context, count int)
	RecordArchived(ctx context.Context, count int)
	RecordLatency(ctx context.Context, d time.Duration)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

var _ EngineMetrics = NopMetrics{}

func (NopMetrics) RecordListing(context.Context, string, bool)              {}
func (NopMetrics) RecordTrigger(context.Context, string)                    {}
func (NopMetrics) RecordSuppressed(context.Context, types.SuppressedReason) {}
func (NopMetrics) RecordIntent(context.Context)                             {}
func (NopMetrics) RecordDispatchFailure(context.Context, string)            {}
func (NopMetrics) RecordExpired(context.Context, int)                       {}
func (NopMetrics) RecordArchived(context.Context, int)                      {}
func (NopMetrics) RecordLatency(context.Context, time.Duration)             {}
