package models

import "time"

// ApplicationType distinguishes the two request kinds a school can raise.
type ApplicationType string

const (
	ApplicationTypeNewDevice   ApplicationType = "NEW_DEVICE_REQUEST"
	ApplicationTypeMaintenance ApplicationType = "MAINTENANCE_REQUEST"
)

// ApplicationStatus captures workflow states for applications.
type ApplicationStatus string

const (
	ApplicationStatusPending     ApplicationStatus = "PENDING"
	ApplicationStatusUnderReview ApplicationStatus = "UNDER_REVIEW"
	ApplicationStatusApproved    ApplicationStatus = "APPROVED"
	ApplicationStatusRejected    ApplicationStatus = "REJECTED"
	ApplicationStatusInProgress  ApplicationStatus = "IN_PROGRESS"
	ApplicationStatusCompleted   ApplicationStatus = "COMPLETED"
	ApplicationStatusCancelled   ApplicationStatus = "CANCELLED"
)

// ApplicationPriority orders applications for handling.
type ApplicationPriority string

const (
	PriorityLow    ApplicationPriority = "LOW"
	PriorityMedium ApplicationPriority = "MEDIUM"
	PriorityHigh   ApplicationPriority = "HIGH"
	PriorityUrgent ApplicationPriority = "URGENT"
)

// allowedTransitions fixes the legal source→target status pairs.
// COMPLETED, REJECTED and CANCELLED are terminal.
var allowedTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusPending:     {ApplicationStatusUnderReview, ApplicationStatusApproved, ApplicationStatusRejected, ApplicationStatusInProgress, ApplicationStatusCancelled},
	ApplicationStatusUnderReview: {ApplicationStatusApproved, ApplicationStatusRejected, ApplicationStatusInProgress, ApplicationStatusCancelled},
	ApplicationStatusApproved:    {ApplicationStatusInProgress, ApplicationStatusCompleted, ApplicationStatusCancelled},
	ApplicationStatusInProgress:  {ApplicationStatusCompleted, ApplicationStatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
// A no-op transition to the current status is always permitted.
func CanTransition(from, to ApplicationStatus) bool {
	if from == to {
		return true
	}
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Application is a request raised by a school, either for new devices or for
// maintenance on existing ones.
type Application struct {
	ID          int64               `db:"id" json:"id"`
	Type        ApplicationType     `db:"type" json:"type"`
	Status      ApplicationStatus   `db:"status" json:"status"`
	Priority    ApplicationPriority `db:"priority" json:"priority"`
	Title       string              `db:"title" json:"title"`
	Description string              `db:"description" json:"description"`
	SchoolID    string              `db:"school_id" json:"school_id"`

	// New-device request fields.
	RequestedDeviceCount  *int    `db:"requested_device_count" json:"requested_device_count,omitempty"`
	RequestedDeviceType   *string `db:"requested_device_type" json:"requested_device_type,omitempty"`
	Justification         *string `db:"justification" json:"justification,omitempty"`
	ApplicationLetterPath *string `db:"application_letter_path" json:"application_letter_path,omitempty"`

	// Workflow metadata.
	AssignedTo              *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	AssignedAt              *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	EstimatedCompletionDate *time.Time `db:"estimated_completion_date" json:"estimated_completion_date,omitempty"`
	CompletedAt             *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	AdminNotes              *string    `db:"admin_notes" json:"admin_notes,omitempty"`
	RejectionReason         *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	EstimatedCost           *float64   `db:"estimated_cost" json:"estimated_cost,omitempty"`
	ActualCost              *float64   `db:"actual_cost" json:"actual_cost,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Issues  []ApplicationDeviceIssue `db:"-" json:"device_issues,omitempty"`
	Overdue bool                     `db:"-" json:"is_overdue"`
}

// IsOverdue reports whether the estimated completion date has passed without
// the application reaching COMPLETED. Unset dates are never overdue.
func (a *Application) IsOverdue(now time.Time) bool {
	if a.EstimatedCompletionDate == nil {
		return false
	}
	return a.EstimatedCompletionDate.Before(now) && a.Status != ApplicationStatusCompleted
}

// ApplicationDeviceIssue is one reported problem on one device within a
// maintenance application. Cascade-deleted with its parent.
type ApplicationDeviceIssue struct {
	ID                 int64      `db:"id" json:"id"`
	ApplicationID      int64      `db:"application_id" json:"application_id"`
	DeviceID           string     `db:"device_id" json:"device_id"`
	ProblemDescription string     `db:"problem_description" json:"problem_description"`
	ActionTaken        *string    `db:"action_taken" json:"action_taken,omitempty"`
	ResolvedAt         *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// ApplicationFilter constrains listing queries. Filters compose conjunctively.
type ApplicationFilter struct {
	Type       ApplicationType
	Status     ApplicationStatus
	Priority   ApplicationPriority
	SchoolID   string
	AssignedTo string
	DateFrom   *time.Time
	DateTo     *time.Time
	IsOverdue  *bool
	Page       int
	Limit      int
}

// ApplicationStatistics is a read-side aggregation over applications.
type ApplicationStatistics struct {
	Total       int `db:"total" json:"total"`
	Pending     int `db:"pending" json:"pending"`
	UnderReview int `db:"under_review" json:"under_review"`
	Approved    int `db:"approved" json:"approved"`
	Rejected    int `db:"rejected" json:"rejected"`
	InProgress  int `db:"in_progress" json:"in_progress"`
	Completed   int `db:"completed" json:"completed"`
	Cancelled   int `db:"cancelled" json:"cancelled"`
	NewDevice   int `db:"new_device" json:"new_device_requests"`
	Maintenance int `db:"maintenance" json:"maintenance_requests"`
	Overdue     int `db:"overdue" json:"overdue"`
}
