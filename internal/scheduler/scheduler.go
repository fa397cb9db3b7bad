package scheduler

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/carmandale/aims-compliance/pkg/service"
)

// DefaultSchedule fires the daily generation at 06:00 in the configured
// business time zone.
const DefaultSchedule = "0 6 * * *"

// DailyGenerator is the scheduled trigger that materializes today's task
// instances. Generation is idempotent, so a duplicate firing (restart,
// overlapping schedule edit, manual run) is harmless.
type DailyGenerator struct {
	cronScheduler  *cron.Cron
	generator      *service.GeneratorService
	logger         service.Logger
	schedule       string
	runImmediately bool
	jobID          cron.EntryID
}

// NewDailyGenerator creates a daily generation trigger. An empty schedule
// uses DefaultSchedule; runImmediately fires one generation on Start in
// addition to the scheduled runs.
func NewDailyGenerator(generator *service.GeneratorService, logger service.Logger, schedule string, runImmediately bool) *DailyGenerator {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &DailyGenerator{
		cronScheduler:  cron.New(),
		generator:      generator,
		logger:         logger,
		schedule:       schedule,
		runImmediately: runImmediately,
	}
}

// Start registers the cron entry and begins the scheduler.
func (dg *DailyGenerator) Start() error {
	var err error
	dg.jobID, err = dg.cronScheduler.AddFunc(dg.schedule, dg.RunOnce)
	if err != nil {
		return fmt.Errorf("error scheduling generation job: %w", err)
	}
	dg.cronScheduler.Start()
	dg.logger.Infof("Daily generation scheduled: %s", dg.schedule)

	if dg.runImmediately {
		dg.RunOnce()
	}
	return nil
}

// Stop terminates the scheduler. Already-running jobs finish.
func (dg *DailyGenerator) Stop() {
	if dg.cronScheduler != nil {
		dg.cronScheduler.Stop()
		dg.logger.Infof("Daily generation scheduler stopped")
	}
}

// UpdateSchedule replaces the cron schedule.
// Format: "0 6 * * *" = at 06:00 every day.
func (dg *DailyGenerator) UpdateSchedule(schedule string) error {
	dg.cronScheduler.Remove(dg.jobID)

	var err error
	dg.jobID, err = dg.cronScheduler.AddFunc(schedule, dg.RunOnce)
	if err != nil {
		return fmt.Errorf("error updating schedule: %w", err)
	}
	dg.schedule = schedule
	dg.logger.Infof("Daily generation schedule updated to: %s", schedule)
	return nil
}

// RunOnce executes one generation run for today's window. Partial
// failures are logged for operator follow-up, never escalated: tomorrow's
// run picks up whatever a fixed template should produce.
func (dg *DailyGenerator) RunOnce() {
	today := time.Now()
	report, err := dg.generator.Generate(today, today)

	var partial *service.GenerationPartialFailure
	switch {
	case errors.As(err, &partial):
		dg.logger.Warnf("Generation run %s finished with failures: %v", report.RunID, err)
	case err != nil:
		dg.logger.Errorf("Generation run failed: %v", err)
		return
	}
	dg.logger.Infof("Generation run %s: %d created, %d already existing", report.RunID, report.Created, report.Existing)
}
