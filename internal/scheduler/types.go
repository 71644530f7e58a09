// Package scheduler implements the scheduled jobs of the entitlement engine.
//
// The cycle roller is invoked by an EventBridge rule through the
// cmd/cycle-roller Lambda and by `ledgerctl rollover` for manual runs.
package scheduler

import "time"

// TaskType identifies which job a scheduled event should run.
type TaskType string

const (
	TaskRolloverCycles TaskType = "rollover_cycles"
)

// MaintenancePayload is the JSON payload sent by EventBridge to the
// cycle-roller Lambda:
//
//	{
//	  "task": "rollover_cycles",
//	  "reference_time": "2026-06-01T00:05:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation and backfills.
	// If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Now returns the reference time of the payload, or fallback in UTC.
func (p MaintenancePayload) Now(fallback time.Time) time.Time {
	if p.ReferenceTime != nil {
		return p.ReferenceTime.UTC()
	}
	return fallback.UTC()
}
