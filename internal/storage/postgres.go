package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store over PostgreSQL. The schema (see
// migrations/) enforces the uniqueness constraint on
// (template_id, due_date) that makes generation idempotent, and
// GetInstanceForUpdate takes a row lock so concurrent transitions on one
// instance serialize.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveTemplate creates a new template and returns its ID
func (s *PostgresStore) SaveTemplate(t models.TaskTemplate) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO task_templates
			(name, description, recurrence, is_blocking, category, priority, estimated_minutes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		t.Name, t.Description, t.Recurrence, t.IsBlocking, t.Category, t.Priority,
		t.EstimatedMinutes, t.IsActive, t.CreatedAt, t.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save template: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTemplate(id int64) (models.TaskTemplate, error) {
	var t models.TaskTemplate
	err := s.db.Get(&t, "SELECT * FROM task_templates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskTemplate{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskTemplate{}, fmt.Errorf("get template %d: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTemplate(t models.TaskTemplate) error {
	res, err := s.db.Exec(`
		UPDATE task_templates
		SET name = $1, description = $2, recurrence = $3, is_blocking = $4,
			category = $5, priority = $6, estimated_minutes = $7, is_active = $8,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $9`,
		t.Name, t.Description, t.Recurrence, t.IsBlocking, t.Category,
		t.Priority, t.EstimatedMinutes, t.IsActive, t.ID)
	if err != nil {
		return fmt.Errorf("update template %d: %w", t.ID, err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetTemplateActive(id int64, active bool) error {
	res, err := s.db.Exec(
		"UPDATE task_templates SET is_active = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		active, id)
	if err != nil {
		return fmt.Errorf("set template %d active=%t: %w", id, active, err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListTemplates(activeOnly bool) ([]models.TaskTemplate, error) {
	templates := []models.TaskTemplate{}
	query := "SELECT * FROM task_templates ORDER BY id"
	if activeOnly {
		query = "SELECT * FROM task_templates WHERE is_active ORDER BY id"
	}
	if err := s.db.Select(&templates, query); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// SaveInstance inserts a task instance. A conflict on the
// (template_id, due_date) uniqueness constraint returns
// storage.ErrDuplicate; the loser of a concurrent generation race treats
// that as success.
func (s *PostgresStore) SaveInstance(inst models.TaskInstance) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO task_instances
			(template_id, name, description, category, priority, is_blocking,
			 due_at, due_date, status, completed_at, completed_by, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (template_id, due_date) DO NOTHING
		RETURNING id`,
		inst.TemplateID, inst.Name, inst.Description, inst.Category, inst.Priority,
		inst.IsBlocking, inst.DueAt, inst.DueDate, inst.Status, inst.CompletedAt,
		inst.CompletedBy, inst.Notes, inst.CreatedAt, inst.UpdatedAt).Scan(&id)
	if err == sql.ErrNoRows || isUniqueViolation(err) {
		return 0, storage.ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("save instance: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetInstance(id int64) (models.TaskInstance, error) {
	var inst models.TaskInstance
	err := s.db.Get(&inst, "SELECT * FROM task_instances WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.TaskInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskInstance{}, fmt.Errorf("get instance %d: %w", id, err)
	}
	return inst, nil
}

// GetInstanceForUpdate locks the instance row for the remainder of the
// surrounding transaction, serializing concurrent transitions.
func (s *PostgresStore) GetInstanceForUpdate(id int64) (models.TaskInstance, error) {
	if _, ok := s.db.(*sqlx.Tx); !ok {
		return models.TaskInstance{}, fmt.Errorf("row lock requires a transaction")
	}
	var inst models.TaskInstance
	err := s.db.Get(&inst, "SELECT * FROM task_instances WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return models.TaskInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskInstance{}, fmt.Errorf("lock instance %d: %w", id, err)
	}
	return inst, nil
}

func (s *PostgresStore) UpdateInstance(inst models.TaskInstance) error {
	res, err := s.db.Exec(`
		UPDATE task_instances
		SET status = $1, completed_at = $2, completed_by = $3, notes = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $5`,
		inst.Status, inst.CompletedAt, inst.CompletedBy, inst.Notes, inst.ID)
	if err != nil {
		return fmt.Errorf("update instance %d: %w", inst.ID, err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListInstances(f storage.InstanceFilter) ([]models.TaskInstance, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DueFrom != nil {
		conds = append(conds, "due_date >= "+arg(*f.DueFrom))
	}
	if f.DueTo != nil {
		conds = append(conds, "due_date <= "+arg(*f.DueTo))
	}
	if f.BlockingOnly {
		conds = append(conds, "is_blocking")
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(f.Category))
	}
	if f.TemplateID != 0 {
		conds = append(conds, "template_id = "+arg(f.TemplateID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		conds = append(conds, "status = ANY("+arg(pq.Array(statuses))+")")
	}

	query := "SELECT * FROM task_instances"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_at, id"

	instances := []models.TaskInstance{}
	if err := s.db.Select(&instances, query, args...); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}

// AppendAudit writes one immutable audit entry and returns its ID
func (s *PostgresStore) AppendAudit(e models.AuditLogEntry) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO audit_log (instance_id, action, old_status, new_status, actor, notes, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.InstanceID, e.Action, e.OldStatus, e.NewStatus, e.Actor, e.Notes, e.LoggedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append audit for instance %d: %w", e.InstanceID, err)
	}
	return id, nil
}

func (s *PostgresStore) ListAudit(instanceID int64) ([]models.AuditLogEntry, error) {
	entries := []models.AuditLogEntry{}
	err := s.db.Select(&entries,
		"SELECT * FROM audit_log WHERE instance_id = $1 ORDER BY id", instanceID)
	if err != nil {
		return nil, fmt.Errorf("list audit for instance %d: %w", instanceID, err)
	}
	return entries, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
