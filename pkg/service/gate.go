package service

import (
	"time"

	"github.com/carmandale/aims-compliance/pkg/models"
)

// GateService is the admit/deny decision dependent workflows (weekly
// close, trade submission) consult before proceeding. It performs no
// writes and is safe to call repeatedly and concurrently.
type GateService struct {
	compliance *ComplianceService
	logger     Logger
}

func NewGateService(compliance *ComplianceService, logger Logger) *GateService {
	return &GateService{compliance: compliance, logger: logger}
}

// CanCloseCycle reports whether the cycle may close as of the given date.
// Ready is false exactly when at least one blocking instance due on or
// before asOf is neither completed nor skipped; those instances are
// returned so callers can name the offending tasks.
func (gs *GateService) CanCloseCycle(asOf time.Time) (models.CycleReadinessStatus, error) {
	blocking, err := gs.compliance.BlockingStatus(asOf)
	if err != nil {
		return models.CycleReadinessStatus{}, err
	}
	status := models.CycleReadinessStatus{
		Ready:         blocking.Clear(),
		AsOf:          asOf,
		BlockingTasks: blocking.Open,
	}
	if !status.Ready {
		gs.logger.Infof("Cycle close blocked as of %s by %d task(s)",
			asOf.Format("2006-01-02"), len(status.BlockingTasks))
	}
	return status, nil
}

// GuardCycleClose is the hard-stop form of CanCloseCycle for dependent
// workflows: it returns a *BlockingTasksIncompleteError naming the open
// blocking tasks when the gate is shut, and nil when it is open.
func (gs *GateService) GuardCycleClose(asOf time.Time) error {
	status, err := gs.CanCloseCycle(asOf)
	if err != nil {
		return err
	}
	if !status.Ready {
		return &BlockingTasksIncompleteError{Tasks: status.BlockingTasks}
	}
	return nil
}
