package storage_test

import (
	"testing"
	"time"

	internal_storage "github.com/carmandale/aims-compliance/internal/storage"
	"github.com/carmandale/aims-compliance/internal/testutil"
	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		txStore, err := store.Begin()
		assert.NoError(t, err)
		t.Cleanup(func() { txStore.Rollback() })
		return txStore.(*internal_storage.PostgresStore)
	}

	mkTemplate := func(t *testing.T, store *internal_storage.PostgresStore, name string) int64 {
		tpl := models.TaskTemplate{
			Name:       name,
			Recurrence: "FREQ=DAILY",
			Category:   "general",
			Priority:   3,
			IsActive:   true,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		id, err := store.SaveTemplate(tpl)
		assert.NoError(t, err)
		return id
	}

	mkInstance := func(tplID int64, due time.Time) models.TaskInstance {
		return models.TaskInstance{
			TemplateID: tplID,
			Name:       "Reconcile accounts",
			Category:   "general",
			Priority:   3,
			DueAt:      due,
			DueDate:    due,
			Status:     models.PendingInstanceStatus,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
	}

	t.Run("SaveTemplate", func(t *testing.T) {
		store := newTxStore(t)
		id := mkTemplate(t, store, "Reconcile accounts")
		assert.Greater(t, id, int64(0))

		saved, err := store.GetTemplate(id)
		assert.NoError(t, err)
		assert.Equal(t, "Reconcile accounts", saved.Name)
		assert.Equal(t, "FREQ=DAILY", saved.Recurrence)
		assert.True(t, saved.IsActive)
	})

	t.Run("GetNonExistingTemplate", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetTemplate(123)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateTemplate", func(t *testing.T) {
		store := newTxStore(t)
		id := mkTemplate(t, store, "Reconcile accounts")

		tpl, err := store.GetTemplate(id)
		assert.NoError(t, err)
		tpl.Recurrence = "FREQ=WEEKLY;BYDAY=FR"
		tpl.IsBlocking = true
		assert.NoError(t, store.UpdateTemplate(tpl))

		updated, err := store.GetTemplate(id)
		assert.NoError(t, err)
		assert.Equal(t, "FREQ=WEEKLY;BYDAY=FR", updated.Recurrence)
		assert.True(t, updated.IsBlocking)
	})

	t.Run("UpdateNonExistingTemplate", func(t *testing.T) {
		store := newTxStore(t)
		err := store.UpdateTemplate(models.TaskTemplate{ID: 123, Name: "Ghost", Recurrence: "FREQ=DAILY"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SetTemplateActive", func(t *testing.T) {
		store := newTxStore(t)
		id := mkTemplate(t, store, "Reconcile accounts")
		assert.NoError(t, store.SetTemplateActive(id, false))

		active, err := store.ListTemplates(true)
		assert.NoError(t, err)
		assert.Empty(t, active)

		all, err := store.ListTemplates(false)
		assert.NoError(t, err)
		assert.Len(t, all, 1)
		assert.False(t, all[0].IsActive)
	})

	t.Run("SaveInstanceDuplicate", func(t *testing.T) {
		store := newTxStore(t)
		tplID := mkTemplate(t, store, "Reconcile accounts")
		due := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)

		id, err := store.SaveInstance(mkInstance(tplID, due))
		assert.NoError(t, err)
		assert.Greater(t, id, int64(0))

		// Same template, same calendar day: the unique constraint wins.
		_, err = store.SaveInstance(mkInstance(tplID, due))
		assert.ErrorIs(t, err, storage.ErrDuplicate)

		// A different day is a different instance.
		_, err = store.SaveInstance(mkInstance(tplID, due.AddDate(0, 0, 1)))
		assert.NoError(t, err)
	})

	t.Run("GetInstanceForUpdateRequiresTransaction", func(t *testing.T) {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		assert.NoError(t, err)
		defer store.Close()

		_, err = store.GetInstanceForUpdate(1)
		assert.Error(t, err)
	})

	t.Run("GetInstanceForUpdateLocksRow", func(t *testing.T) {
		store := newTxStore(t)
		tplID := mkTemplate(t, store, "Reconcile accounts")
		due := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
		id, err := store.SaveInstance(mkInstance(tplID, due))
		assert.NoError(t, err)

		locked, err := store.GetInstanceForUpdate(id)
		assert.NoError(t, err)
		assert.Equal(t, id, locked.ID)
		assert.Equal(t, models.PendingInstanceStatus, locked.Status)
	})

	t.Run("UpdateInstance", func(t *testing.T) {
		store := newTxStore(t)
		tplID := mkTemplate(t, store, "Reconcile accounts")
		due := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
		id, err := store.SaveInstance(mkInstance(tplID, due))
		assert.NoError(t, err)

		inst, err := store.GetInstance(id)
		assert.NoError(t, err)
		now := time.Now()
		inst.Status = models.CompletedInstanceStatus
		inst.CompletedAt = &now
		inst.CompletedBy = "dale"
		inst.Notes = "all reconciled"
		assert.NoError(t, store.UpdateInstance(inst))

		updated, err := store.GetInstance(id)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedInstanceStatus, updated.Status)
		assert.Equal(t, "dale", updated.CompletedBy)
		assert.NotNil(t, updated.CompletedAt)
	})

	t.Run("ListInstancesFilters", func(t *testing.T) {
		store := newTxStore(t)
		tplID := mkTemplate(t, store, "Reconcile accounts")

		jan3 := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
		jan4 := jan3.AddDate(0, 0, 1)
		jan5 := jan3.AddDate(0, 0, 2)

		id3, err := store.SaveInstance(mkInstance(tplID, jan3))
		assert.NoError(t, err)

		blocking := mkInstance(tplID, jan4)
		blocking.IsBlocking = true
		id4, err := store.SaveInstance(blocking)
		assert.NoError(t, err)

		completed := mkInstance(tplID, jan5)
		completed.Status = models.CompletedInstanceStatus
		_, err = store.SaveInstance(completed)
		assert.NoError(t, err)

		all, err := store.ListInstances(storage.InstanceFilter{})
		assert.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, id3, all[0].ID)

		open, err := store.ListInstances(storage.InstanceFilter{
			Statuses: []models.InstanceStatus{models.PendingInstanceStatus, models.InProgressInstanceStatus},
		})
		assert.NoError(t, err)
		assert.Len(t, open, 2)

		blockers, err := store.ListInstances(storage.InstanceFilter{BlockingOnly: true})
		assert.NoError(t, err)
		assert.Len(t, blockers, 1)
		assert.Equal(t, id4, blockers[0].ID)

		ranged, err := store.ListInstances(storage.InstanceFilter{DueFrom: &jan4, DueTo: &jan5})
		assert.NoError(t, err)
		assert.Len(t, ranged, 2)

		byTemplate, err := store.ListInstances(storage.InstanceFilter{TemplateID: tplID})
		assert.NoError(t, err)
		assert.Len(t, byTemplate, 3)
	})

	t.Run("AuditAppendAndList", func(t *testing.T) {
		store := newTxStore(t)
		tplID := mkTemplate(t, store, "Reconcile accounts")
		due := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
		instID, err := store.SaveInstance(mkInstance(tplID, due))
		assert.NoError(t, err)

		first, err := store.AppendAudit(models.AuditLogEntry{
			InstanceID: instID,
			Action:     models.CreatedAuditAction,
			NewStatus:  models.PendingInstanceStatus,
			Actor:      "generator",
			LoggedAt:   time.Now(),
		})
		assert.NoError(t, err)
		second, err := store.AppendAudit(models.AuditLogEntry{
			InstanceID: instID,
			Action:     models.CompletedAuditAction,
			OldStatus:  models.PendingInstanceStatus,
			NewStatus:  models.CompletedInstanceStatus,
			Actor:      "dale",
			LoggedAt:   time.Now(),
		})
		assert.NoError(t, err)
		assert.Greater(t, second, first)

		trail, err := store.ListAudit(instID)
		assert.NoError(t, err)
		assert.Len(t, trail, 2)
		assert.Equal(t, models.CreatedAuditAction, trail[0].Action)
		assert.Equal(t, models.CompletedAuditAction, trail[1].Action)
		assert.Equal(t, "dale", trail[1].Actor)
	})
}
