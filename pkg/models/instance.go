package models

import "time"

type InstanceStatus string

const (
	PendingInstanceStatus    InstanceStatus = "PENDING"
	InProgressInstanceStatus InstanceStatus = "IN_PROGRESS"
	CompletedInstanceStatus  InstanceStatus = "COMPLETED"
	SkippedInstanceStatus    InstanceStatus = "SKIPPED"
)

// Resolved reports whether the status counts as done for compliance and
// gating purposes. A skipped task is resolved, not delinquent.
func (s InstanceStatus) Resolved() bool {
	return s == CompletedInstanceStatus || s == SkippedInstanceStatus
}

// TaskInstance is one dated occurrence of a template. Name, description,
// priority and the blocking flag are copied from the template at creation
// time so later template edits never rewrite history.
type TaskInstance struct {
	ID          int64          `json:"id" db:"id"`
	TemplateID  int64          `json:"template_id" db:"template_id"` // Foreign key to TaskTemplate
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Category    string         `json:"category" db:"category"`
	Priority    int            `json:"priority" db:"priority"`
	IsBlocking  bool           `json:"is_blocking" db:"is_blocking"`
	DueAt       time.Time      `json:"due_at" db:"due_at"`     // Full due timestamp including BYHOUR
	DueDate     time.Time      `json:"due_date" db:"due_date"` // Calendar day; (template_id, due_date) is unique
	Status      InstanceStatus `json:"status" db:"status"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CompletedBy string         `json:"completed_by,omitempty" db:"completed_by"`
	Notes       string         `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Overdue is a derived predicate, not a stored status: a pending instance
// whose due date has passed.
func (i TaskInstance) Overdue(now time.Time) bool {
	return i.Status == PendingInstanceStatus && i.DueAt.Before(now)
}
