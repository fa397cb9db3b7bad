package service

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/recurrence"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

// Logger defines the logging interface shared by the services.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// TemplateService owns recurring task templates. Edits only affect
// instances generated after the change; deactivation is the only supported
// delete path while historical instances reference a template.
type TemplateService struct {
	store    storage.Store
	logger   Logger
	validate *validator.Validate
}

func NewTemplateService(store storage.Store, logger Logger) *TemplateService {
	return &TemplateService{
		store:    store,
		logger:   logger,
		validate: validator.New(),
	}
}

// CreateTemplate validates and persists a new template, returning its ID.
func (ts *TemplateService) CreateTemplate(t models.TaskTemplate) (id int64, err error) {
	applyTemplateDefaults(&t)
	if err := ts.validateTemplate(t); err != nil {
		return 0, err
	}

	txStore, err := ts.store.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	id, err = txStore.SaveTemplate(t)
	if err != nil {
		return 0, fmt.Errorf("save template %q: %w", t.Name, err)
	}
	ts.logger.Infof("Created template '%s' with ID %d", t.Name, id)
	return id, nil
}

// UpdateTemplate replaces a template's definition. Existing instances are
// never rewritten; only instances generated after the change pick up the
// new recurrence, priority or blocking flag.
func (ts *TemplateService) UpdateTemplate(t models.TaskTemplate) (err error) {
	applyTemplateDefaults(&t)
	if err := ts.validateTemplate(t); err != nil {
		return err
	}

	txStore, err := ts.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	existing, err := txStore.GetTemplate(t.ID)
	if err != nil {
		return fmt.Errorf("get template %d: %w", t.ID, err)
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now()
	if err = txStore.UpdateTemplate(t); err != nil {
		return fmt.Errorf("update template %d: %w", t.ID, err)
	}
	ts.logger.Infof("Updated template %d ('%s')", t.ID, t.Name)
	return nil
}

// DeactivateTemplate soft-deletes a template. Historical instances remain
// untouched and no new instances are generated from it.
func (ts *TemplateService) DeactivateTemplate(id int64) (err error) {
	txStore, err := ts.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				ts.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			ts.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if _, err = txStore.GetTemplate(id); err != nil {
		return fmt.Errorf("get template %d: %w", id, err)
	}
	if err = txStore.SetTemplateActive(id, false); err != nil {
		return fmt.Errorf("deactivate template %d: %w", id, err)
	}
	ts.logger.Infof("Deactivated template %d", id)
	return nil
}

// GetTemplate fetches a single template by ID.
func (ts *TemplateService) GetTemplate(id int64) (models.TaskTemplate, error) {
	t, err := ts.store.GetTemplate(id)
	if err != nil {
		return models.TaskTemplate{}, fmt.Errorf("get template %d: %w", id, err)
	}
	return t, nil
}

// ListTemplates returns templates, optionally restricted to active ones.
func (ts *TemplateService) ListTemplates(activeOnly bool) ([]models.TaskTemplate, error) {
	return ts.store.ListTemplates(activeOnly)
}

func applyTemplateDefaults(t *models.TaskTemplate) {
	if t.Priority == 0 {
		t.Priority = 3
	}
	if t.Category == "" {
		t.Category = "general"
	}
}

func (ts *TemplateService) validateTemplate(t models.TaskTemplate) error {
	if err := ts.validate.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed '%s' check", fe.Tag()),
				Hint:    validationHint(fe),
			}
		}
		return err
	}
	if err := recurrence.Validate(t.Recurrence); err != nil {
		var parseErr *recurrence.ParseError
		if errors.As(err, &parseErr) {
			return &ValidationError{Field: "Recurrence", Message: parseErr.Message, Hint: parseErr.Hint}
		}
		return &ValidationError{Field: "Recurrence", Message: err.Error()}
	}
	return nil
}

func validationHint(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	}
	return ""
}
