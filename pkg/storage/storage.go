package storage

import (
	"time"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned for lookups of unknown template or instance IDs.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with the
// (template_id, due_date) uniqueness constraint. Generation treats it as
// "already materialized", not as a failure.
var ErrDuplicate = errors.New("already exists")

// InstanceFilter narrows ListInstances. Nil/zero fields are ignored.
type InstanceFilter struct {
	DueFrom      *time.Time // Inclusive lower bound on due_date
	DueTo        *time.Time // Inclusive upper bound on due_date
	Statuses     []models.InstanceStatus
	BlockingOnly bool
	Category     string
	TemplateID   int64
}

// Store defines the storage operations for the compliance engine.
// Begin returns a transactional view; Commit/Rollback only apply to that
// view. Persistence must enforce uniqueness on (template_id, due_date) and
// support row locking via GetInstanceForUpdate inside a transaction.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Template operations
	SaveTemplate(t models.TaskTemplate) (int64, error)
	GetTemplate(id int64) (models.TaskTemplate, error)
	UpdateTemplate(t models.TaskTemplate) error
	SetTemplateActive(id int64, active bool) error
	ListTemplates(activeOnly bool) ([]models.TaskTemplate, error)

	// Instance operations
	SaveInstance(inst models.TaskInstance) (int64, error)
	GetInstance(id int64) (models.TaskInstance, error)
	GetInstanceForUpdate(id int64) (models.TaskInstance, error)
	UpdateInstance(inst models.TaskInstance) error
	ListInstances(f InstanceFilter) ([]models.TaskInstance, error)

	// Audit operations
	AppendAudit(e models.AuditLogEntry) (int64, error)
	ListAudit(instanceID int64) ([]models.AuditLogEntry, error)
}
