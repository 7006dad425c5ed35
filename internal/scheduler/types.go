// Package scheduler implements the sweeper's periodic maintenance services:
// expiring overdue alerts, releasing coalesced notifications, redriving the
// outbox and archiving old alert history.
//
// The MaintenancePayload is the JSON structure sent by EventBridge rules to
// the sweeper Lambda. Its TaskType selects the service that runs.
package scheduler

import "time"

// TaskType identifies which maintenance service handles an EventBridge event.
type TaskType string

const (
	TaskExpireAlerts   TaskType = "expire_alerts"
	TaskFlushCoalesced TaskType = "flush_coalesced"
	TaskRedriveOutbox  TaskType = "redrive_outbox"
	TaskArchiveHistory TaskType = "archive_history"
)

// MaintenancePayload is the JSON payload sent by EventBridge:
//
//	{
//	  "task": "expire_alerts",
//	  "reference_time": "2026-03-14T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
