package models

import "time"

// AutomationRoutine names one of the fixed automation behaviours.
type AutomationRoutine string

const (
	RoutineMaintenanceReminder AutomationRoutine = "MAINTENANCE_REMINDER"
	RoutineWarrantyAlert       AutomationRoutine = "WARRANTY_ALERT"
	RoutineOfflineDetection    AutomationRoutine = "OFFLINE_DETECTION"
	RoutineAgingUpdate         AutomationRoutine = "AGING_UPDATE"
)

// AutomationRule is an in-memory descriptor for a periodic check. Rules are
// process-local and not persisted.
type AutomationRule struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Routine   AutomationRoutine `json:"routine"`
	Enabled   bool              `json:"enabled"`
	Interval  time.Duration     `json:"interval"`
	LastRunAt *time.Time        `json:"last_run_at,omitempty"`
}

// AutomationRunResult summarises one execution of a rule.
type AutomationRunResult struct {
	RuleID          string            `json:"rule_id"`
	Routine         AutomationRoutine `json:"routine"`
	MatchedDevices  int               `json:"matched_devices"`
	UpdatedDevices  int               `json:"updated_devices"`
	NotificationsOK bool              `json:"notifications_ok"`
	RanAt           time.Time         `json:"ran_at"`
	Error           string            `json:"error,omitempty"`
}
