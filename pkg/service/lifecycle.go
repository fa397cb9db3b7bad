package service

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

// Invalidator receives the due date of every successful transition so
// cached compliance snapshots covering it can be dropped.
type Invalidator interface {
	InvalidateCovering(due time.Time)
}

// LifecycleService applies status transitions to task instances. Every
// transition loads the row under a lock, checks the transition table
// against the current (not caller-assumed) status, and appends exactly one
// audit entry in the same transaction as the instance update. A caller
// racing a finished transition sees an InvalidTransitionError, never a
// silent overwrite.
type LifecycleService struct {
	store       storage.Store
	logger      Logger
	invalidator Invalidator // may be nil
}

func NewLifecycleService(store storage.Store, logger Logger, invalidator Invalidator) *LifecycleService {
	return &LifecycleService{store: store, logger: logger, invalidator: invalidator}
}

// Start moves a pending instance to in-progress.
func (ls *LifecycleService) Start(id int64, actor string) error {
	return ls.transition(id, func(inst *models.TaskInstance, now time.Time) (models.AuditLogEntry, error) {
		if inst.Status != models.PendingInstanceStatus {
			return models.AuditLogEntry{}, &InvalidTransitionError{
				InstanceID: id, From: inst.Status, To: models.InProgressInstanceStatus,
				Reason: "only a pending task can be started",
			}
		}
		inst.Status = models.InProgressInstanceStatus
		return models.AuditLogEntry{
			Action: models.StartedAuditAction,
			Actor:  actor,
		}, nil
	})
}

// Complete marks an instance done, recording who completed it and when.
// Completing an already completed instance is an InvalidTransitionError,
// not a silent no-op, so the second caller learns the task was already
// resolved by someone else.
func (ls *LifecycleService) Complete(id int64, actor string, notes string) error {
	if actor == "" {
		return &ValidationError{Field: "actor", Message: "actor is required", Hint: "pass the completing user's identifier"}
	}
	return ls.transition(id, func(inst *models.TaskInstance, now time.Time) (models.AuditLogEntry, error) {
		if inst.Status != models.PendingInstanceStatus && inst.Status != models.InProgressInstanceStatus {
			return models.AuditLogEntry{}, &InvalidTransitionError{
				InstanceID: id, From: inst.Status, To: models.CompletedInstanceStatus,
				Reason: "task is already resolved",
			}
		}
		inst.Status = models.CompletedInstanceStatus
		inst.CompletedAt = &now
		inst.CompletedBy = actor
		if notes != "" {
			inst.Notes = notes
		}
		return models.AuditLogEntry{
			Action: models.CompletedAuditAction,
			Actor:  actor,
			Notes:  notes,
		}, nil
	})
}

// Skip resolves an instance without doing it. A reason is mandatory and is
// carried on the audit entry.
func (ls *LifecycleService) Skip(id int64, actor string, reason string) error {
	if reason == "" {
		return &ValidationError{Field: "reason", Message: "skip reason is required", Hint: "explain why the task is being skipped"}
	}
	return ls.transition(id, func(inst *models.TaskInstance, now time.Time) (models.AuditLogEntry, error) {
		if inst.Status != models.PendingInstanceStatus && inst.Status != models.InProgressInstanceStatus {
			return models.AuditLogEntry{}, &InvalidTransitionError{
				InstanceID: id, From: inst.Status, To: models.SkippedInstanceStatus,
				Reason: "task is already resolved",
			}
		}
		inst.Status = models.SkippedInstanceStatus
		inst.Notes = reason
		return models.AuditLogEntry{
			Action: models.SkippedAuditAction,
			Actor:  actor,
			Notes:  reason,
		}, nil
	})
}

// Uncomplete reopens a completed instance. It requires an explicit
// confirmation flag and is audited as a MODIFIED action; the original
// completion remains in the audit trail.
func (ls *LifecycleService) Uncomplete(id int64, actor string, confirmed bool, notes string) error {
	if !confirmed {
		return &ValidationError{Field: "confirmed", Message: "uncomplete requires explicit confirmation",
			Hint: "set the confirmation flag to reopen a completed task"}
	}
	return ls.transition(id, func(inst *models.TaskInstance, now time.Time) (models.AuditLogEntry, error) {
		if inst.Status != models.CompletedInstanceStatus {
			return models.AuditLogEntry{}, &InvalidTransitionError{
				InstanceID: id, From: inst.Status, To: models.PendingInstanceStatus,
				Reason: "only a completed task can be reopened",
			}
		}
		inst.Status = models.PendingInstanceStatus
		inst.CompletedAt = nil
		inst.CompletedBy = ""
		return models.AuditLogEntry{
			Action: models.ModifiedAuditAction,
			Actor:  actor,
			Notes:  notes,
		}, nil
	})
}

// GetInstance fetches a single instance by ID.
func (ls *LifecycleService) GetInstance(id int64) (models.TaskInstance, error) {
	inst, err := ls.store.GetInstance(id)
	if err != nil {
		return models.TaskInstance{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return inst, nil
}

// ListInstances returns instances matching the filter, ordered by due time.
func (ls *LifecycleService) ListInstances(f storage.InstanceFilter) ([]models.TaskInstance, error) {
	return ls.store.ListInstances(f)
}

// AuditTrail returns an instance's audit entries in append order.
func (ls *LifecycleService) AuditTrail(instanceID int64) ([]models.AuditLogEntry, error) {
	return ls.store.ListAudit(instanceID)
}

// transition runs one state change: lock the row, apply the mutation,
// persist the instance and its audit entry atomically, then invalidate
// covering compliance snapshots.
func (ls *LifecycleService) transition(id int64, apply func(*models.TaskInstance, time.Time) (models.AuditLogEntry, error)) (err error) {
	txStore, err := ls.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	var committedDue time.Time
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ls.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ls.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
			return
		}
		// Invalidate only after the transaction is durable so a
		// concurrent read cannot re-cache pre-commit state.
		if ls.invalidator != nil {
			ls.invalidator.InvalidateCovering(committedDue)
		}
	}()

	inst, err := txStore.GetInstanceForUpdate(id)
	if err != nil {
		return fmt.Errorf("get task %d: %w", id, err)
	}

	now := time.Now()
	oldStatus := inst.Status
	entry, err := apply(&inst, now)
	if err != nil {
		return err
	}
	inst.UpdatedAt = now

	if err = txStore.UpdateInstance(inst); err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	entry.InstanceID = id
	entry.OldStatus = oldStatus
	entry.NewStatus = inst.Status
	entry.LoggedAt = now
	if _, err = txStore.AppendAudit(entry); err != nil {
		return fmt.Errorf("audit task %d: %w", id, err)
	}

	ls.logger.Infof("Task %d ('%s'): %s -> %s by %s", id, inst.Name, oldStatus, inst.Status, entry.Actor)
	committedDue = inst.DueDate
	return nil
}
