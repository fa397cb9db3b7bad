package service

import (
	"fmt"
	"strings"

	"github.com/carmandale/aims-compliance/pkg/models"
)

// ValidationError reports a template or request field that failed
// validation. Hint carries a plain-language correction for UIs.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e *ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid %s: %s (%s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InvalidTransitionError reports an illegal lifecycle transition,
// including conflicts where another caller already moved the instance to a
// terminal state. It is distinct from a not-found error so UIs can explain
// "someone else already completed this".
type InvalidTransitionError struct {
	InstanceID int64
	From       models.InstanceStatus
	To         models.InstanceStatus
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("task %d cannot move from %s to %s", e.InstanceID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// BlockingTasksIncompleteError is returned by GuardCycleClose when a
// workflow attempts to proceed while blocking tasks remain open.
type BlockingTasksIncompleteError struct {
	Tasks []models.TaskInstance
}

func (e *BlockingTasksIncompleteError) Error() string {
	names := make([]string, 0, len(e.Tasks))
	for _, t := range e.Tasks {
		names = append(names, t.Name)
	}
	return fmt.Sprintf("cycle cannot close: %d blocking task(s) incomplete: %s",
		len(e.Tasks), strings.Join(names, ", "))
}

// GenerationPartialFailure reports that one or more templates failed to
// expand during a generation run. The run still committed instances for
// the templates that succeeded; the report carries the failed template ids
// for operator follow-up.
type GenerationPartialFailure struct {
	Report models.GenerationReport
}

func (e *GenerationPartialFailure) Error() string {
	ids := make([]string, 0, len(e.Report.FailedTemplates))
	for _, f := range e.Report.FailedTemplates {
		ids = append(ids, fmt.Sprintf("%d", f.TemplateID))
	}
	return fmt.Sprintf("generation run %s finished with %d failed template(s): %s",
		e.Report.RunID, len(e.Report.FailedTemplates), strings.Join(ids, ", "))
}
