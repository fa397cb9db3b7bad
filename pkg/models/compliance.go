package models

import "time"

// CategoryBreakdown holds compliance counts for a single template category.
type CategoryBreakdown struct {
	Category       string  `json:"category"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Skipped        int     `json:"skipped"`
	Overdue        int     `json:"overdue"`
	Pending        int     `json:"pending"`
	InProgress     int     `json:"in_progress"`
	CompletionRate float64 `json:"completion_rate"` // In [0, 1]
}

// ComplianceSnapshot is a computed view over a date range. It is derived
// from instance state on demand and never persisted.
type ComplianceSnapshot struct {
	Start             time.Time           `json:"start"`
	End               time.Time           `json:"end"`
	Total             int                 `json:"total"`
	Completed         int                 `json:"completed"`
	Skipped           int                 `json:"skipped"`
	Overdue           int                 `json:"overdue"` // Pending and past due as of End
	Pending           int                 `json:"pending"`
	InProgress        int                 `json:"in_progress"`
	CompletionRate    float64             `json:"completion_rate"` // In [0, 1]; 1 for an empty window
	BlockingTotal     int                 `json:"blocking_total"`
	BlockingResolved  int                 `json:"blocking_resolved"`
	BlockingRate      float64             `json:"blocking_rate"`
	Categories        []CategoryBreakdown `json:"categories,omitempty"`
	NoData            bool                `json:"no_data"` // True when the window held zero instances
}

// WeeklySnapshot is one point of a trend series, keyed by ISO week.
type WeeklySnapshot struct {
	ISOYear  int                `json:"iso_year"`
	ISOWeek  int                `json:"iso_week"`
	Snapshot ComplianceSnapshot `json:"snapshot"`
}

// BlockingTasksStatus lists the blocking instances still open as of a date.
type BlockingTasksStatus struct {
	AsOf time.Time      `json:"as_of"`
	Open []TaskInstance `json:"open"` // is_blocking instances due on or before AsOf, not completed or skipped
}

// Clear reports whether no blocking work remains.
func (b BlockingTasksStatus) Clear() bool {
	return len(b.Open) == 0
}

// CycleReadinessStatus is the gate decision consumed by dependent
// workflows (weekly close, trade submission).
type CycleReadinessStatus struct {
	Ready         bool           `json:"ready"`
	AsOf          time.Time      `json:"as_of"`
	BlockingTasks []TaskInstance `json:"blocking_tasks,omitempty"`
}

// TemplateFailure records a template that failed to expand during a
// generation run.
type TemplateFailure struct {
	TemplateID int64  `json:"template_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// GenerationReport summarizes one generation run. Existing counts
// occurrences that were already materialized; a re-run of the same window
// reports Created == 0.
type GenerationReport struct {
	RunID           string            `json:"run_id"`
	From            time.Time         `json:"from"`
	To              time.Time         `json:"to"`
	TemplatesSeen   int               `json:"templates_seen"`
	Created         int               `json:"created"`
	Existing        int               `json:"existing"`
	FailedTemplates []TemplateFailure `json:"failed_templates,omitempty"`
}
