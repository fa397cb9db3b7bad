package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/carmandale/aims-compliance/pkg/models"
)

// mockStore implements Store with in-memory storage. It enforces the same
// (template_id, due_date) uniqueness the SQL schema does so idempotency
// tests behave like production. Begin returns the store itself; the mock
// has no real transaction isolation.
type mockStore struct {
	mu        sync.Mutex
	templates []models.TaskTemplate
	instances []models.TaskInstance
	audit     []models.AuditLogEntry
	nextTplID int64
	nextInsID int64
	nextAudID int64
}

// NewMockStore returns an empty in-memory store for tests and examples.
func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveTemplate(t models.TaskTemplate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTplID++
	t.ID = m.nextTplID
	m.templates = append(m.templates, t)
	return t.ID, nil
}

func (m *mockStore) GetTemplate(id int64) (models.TaskTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return models.TaskTemplate{}, ErrNotFound
}

func (m *mockStore) UpdateTemplate(t models.TaskTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.templates {
		if m.templates[i].ID == t.ID {
			t.UpdatedAt = time.Now()
			m.templates[i] = t
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SetTemplateActive(id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.templates {
		if m.templates[i].ID == id {
			m.templates[i].IsActive = active
			m.templates[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListTemplates(activeOnly bool) ([]models.TaskTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TaskTemplate{}
	for _, t := range m.templates {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) SaveInstance(inst models.TaskInstance) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.instances {
		if existing.TemplateID == inst.TemplateID && sameDay(existing.DueDate, inst.DueDate) {
			return 0, ErrDuplicate
		}
	}
	m.nextInsID++
	inst.ID = m.nextInsID
	m.instances = append(m.instances, inst)
	return inst.ID, nil
}

func (m *mockStore) GetInstance(id int64) (models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.ID == id {
			return inst, nil
		}
	}
	return models.TaskInstance{}, ErrNotFound
}

func (m *mockStore) GetInstanceForUpdate(id int64) (models.TaskInstance, error) {
	return m.GetInstance(id)
}

func (m *mockStore) UpdateInstance(inst models.TaskInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.instances {
		if m.instances[i].ID == inst.ID {
			inst.UpdatedAt = time.Now()
			m.instances[i] = inst
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListInstances(f InstanceFilter) ([]models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TaskInstance{}
	for _, inst := range m.instances {
		if f.DueFrom != nil && inst.DueDate.Before(dayStart(*f.DueFrom)) {
			continue
		}
		if f.DueTo != nil && inst.DueDate.After(dayEnd(*f.DueTo)) {
			continue
		}
		if f.BlockingOnly && !inst.IsBlocking {
			continue
		}
		if f.Category != "" && inst.Category != f.Category {
			continue
		}
		if f.TemplateID != 0 && inst.TemplateID != f.TemplateID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, inst.Status) {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockStore) AppendAudit(e models.AuditLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAudID++
	e.ID = m.nextAudID
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now()
	}
	m.audit = append(m.audit, e)
	return e.ID, nil
}

func (m *mockStore) ListAudit(instanceID int64) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.AuditLogEntry{}
	for _, e := range m.audit {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

func containsStatus(ss []models.InstanceStatus, s models.InstanceStatus) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
