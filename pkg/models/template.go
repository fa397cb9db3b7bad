package models

import "time"

// TaskTemplate defines a recurring unit of work. Instances are stamped out
// of it by the generator; edits to a template only affect instances
// generated after the change.
type TaskTemplate struct {
	ID               int64     `json:"id" db:"id"`                             // Unique identifier (PostgreSQL auto-increment)
	Name             string    `json:"name" db:"name" validate:"required,max=200"`
	Description      string    `json:"description,omitempty" db:"description"`
	Recurrence       string    `json:"recurrence" db:"recurrence" validate:"required"` // RFC-5545-style expression, e.g. "FREQ=WEEKLY;BYDAY=FR;BYHOUR=14"
	IsBlocking       bool      `json:"is_blocking" db:"is_blocking"`           // Blocks the weekly close while unresolved
	Category         string    `json:"category" db:"category" validate:"max=50"` // Free-form tag, e.g. "daily", "weekly"
	Priority         int       `json:"priority" db:"priority" validate:"gte=1,lte=5"` // 1 is most urgent
	EstimatedMinutes int       `json:"estimated_minutes,omitempty" db:"estimated_minutes" validate:"gte=0"`
	IsActive         bool      `json:"is_active" db:"is_active"`               // Inactive templates produce no new instances
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
