package models

import "time"

type AuditAction string

const (
	CreatedAuditAction   AuditAction = "CREATED"
	StartedAuditAction   AuditAction = "STARTED"
	CompletedAuditAction AuditAction = "COMPLETED"
	SkippedAuditAction   AuditAction = "SKIPPED"
	ModifiedAuditAction  AuditAction = "MODIFIED"
)

// AuditLogEntry is an append-only record of an instance state change.
// Replaying a task's entries in order must reproduce its current status;
// the test suite checks this.
type AuditLogEntry struct {
	ID         int64          `json:"id" db:"id"`                   // Auto-incremented log ID
	InstanceID int64          `json:"instance_id" db:"instance_id"` // Task instance being logged
	Action     AuditAction    `json:"action" db:"action"`
	OldStatus  InstanceStatus `json:"old_status,omitempty" db:"old_status"` // Empty for CREATED
	NewStatus  InstanceStatus `json:"new_status" db:"new_status"`
	Actor      string         `json:"actor" db:"actor"`                 // Acting user, or "generator" for system writes
	Notes      string         `json:"notes,omitempty" db:"notes"`       // Skip reason, completion notes, etc.
	LoggedAt   time.Time      `json:"logged_at" db:"logged_at"`         // Timestamp of log entry
}
