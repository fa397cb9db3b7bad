package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/recurrence"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

// GeneratorService materializes dated task instances from active
// templates. Runs are idempotent: an instance is keyed by
// (template_id, due_date) and a re-run of the same window creates nothing
// new and writes no duplicate audit entries.
type GeneratorService struct {
	store  storage.Store
	logger Logger
}

func NewGeneratorService(store storage.Store, logger Logger) *GeneratorService {
	return &GeneratorService{store: store, logger: logger}
}

// Generate expands every active template over the inclusive window
// [from, to] and upserts the resulting instances. A parse failure in one
// template never aborts the others; failed template ids are collected on
// the report and returned as a *GenerationPartialFailure. Storage errors
// abort the run and are retryable by the caller.
func (gs *GeneratorService) Generate(from, to time.Time) (models.GenerationReport, error) {
	report := models.GenerationReport{
		RunID: uuid.NewString(),
		From:  from,
		To:    to,
	}

	templates, err := gs.store.ListTemplates(true)
	if err != nil {
		return report, errors.Wrap(err, "list active templates")
	}
	report.TemplatesSeen = len(templates)
	gs.logger.Infof("Generation run %s: %d active template(s), window %s..%s",
		report.RunID, len(templates), from.Format("2006-01-02"), to.Format("2006-01-02"))

	for _, tpl := range templates {
		rule, err := recurrence.Parse(tpl.Recurrence)
		if err != nil {
			gs.logger.Errorf("Generation run %s: template %d ('%s') has invalid recurrence: %v",
				report.RunID, tpl.ID, tpl.Name, err)
			report.FailedTemplates = append(report.FailedTemplates, models.TemplateFailure{
				TemplateID: tpl.ID,
				Name:       tpl.Name,
				Reason:     err.Error(),
			})
			continue
		}
		// Anchor interval math at the template's creation date so a rule
		// like INTERVAL=2 lands on the same days across daily runs. A
		// window that predates the template keeps the window anchor.
		if rule.Start == nil && tpl.CreatedAt.Before(from) {
			anchor := tpl.CreatedAt
			rule.Start = &anchor
		}

		created, existing, err := gs.materialize(tpl, rule.Occurrences(from, to))
		if err != nil {
			return report, fmt.Errorf("materialize template %d: %w", tpl.ID, err)
		}
		report.Created += created
		report.Existing += existing
	}

	gs.logger.Infof("Generation run %s: created %d, already existing %d, failed templates %d",
		report.RunID, report.Created, report.Existing, len(report.FailedTemplates))
	if len(report.FailedTemplates) > 0 {
		return report, &GenerationPartialFailure{Report: report}
	}
	return report, nil
}

// materialize upserts one template's occurrences inside a single
// transaction so the instance insert and its CREATED audit entry commit
// together. An occurrence that already exists is counted, not re-audited.
func (gs *GeneratorService) materialize(tpl models.TaskTemplate, occurrences []time.Time) (created, existing int, err error) {
	if len(occurrences) == 0 {
		return 0, 0, nil
	}
	txStore, err := gs.store.Begin()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				gs.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			gs.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	now := time.Now()
	for _, due := range occurrences {
		inst := models.TaskInstance{
			TemplateID:  tpl.ID,
			Name:        tpl.Name,
			Description: tpl.Description,
			Category:    tpl.Category,
			Priority:    tpl.Priority,
			IsBlocking:  tpl.IsBlocking,
			DueAt:       due,
			DueDate:     time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, due.Location()),
			Status:      models.PendingInstanceStatus,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		id, saveErr := txStore.SaveInstance(inst)
		if errors.Is(saveErr, storage.ErrDuplicate) {
			existing++
			continue
		}
		if saveErr != nil {
			err = saveErr
			return 0, 0, err
		}
		if _, err = txStore.AppendAudit(models.AuditLogEntry{
			InstanceID: id,
			Action:     models.CreatedAuditAction,
			NewStatus:  models.PendingInstanceStatus,
			Actor:      "generator",
			LoggedAt:   now,
		}); err != nil {
			return 0, 0, err
		}
		created++
	}
	return created, existing, nil
}
