package service_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/service"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

// seedInstance materializes one pending instance due on the given day and
// returns its id.
func seedInstance(t *testing.T, store storage.Store, due time.Time, blocking bool) int64 {
	t.Helper()
	newTemplate(t, store, models.TaskTemplate{Name: "Reconcile accounts", IsBlocking: blocking})
	gen := service.NewGeneratorService(store, logger{})
	report, err := gen.Generate(due, due)
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	instances, err := store.ListInstances(storage.InstanceFilter{})
	require.NoError(t, err)
	return instances[len(instances)-1].ID
}

func TestLifecycleTransitions(t *testing.T) {
	due := date(2025, time.January, 3)

	t.Run("StartPending", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Start(id, "dale"))
		inst, err := ls.GetInstance(id)
		require.NoError(t, err)
		assert.Equal(t, models.InProgressInstanceStatus, inst.Status)
	})

	t.Run("CompleteSetsActorAndTimestamp", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Complete(id, "dale", "all reconciled"))
		inst, err := ls.GetInstance(id)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedInstanceStatus, inst.Status)
		require.NotNil(t, inst.CompletedAt)
		assert.Equal(t, "dale", inst.CompletedBy)
		assert.Equal(t, "all reconciled", inst.Notes)
	})

	t.Run("CompleteFromInProgress", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Start(id, "dale"))
		assert.NoError(t, ls.Complete(id, "dale", ""))
	})

	t.Run("CompleteRequiresActor", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		err := ls.Complete(id, "", "")
		var validationErr *service.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "actor", validationErr.Field)
	})

	t.Run("RecompleteIsConflictNotNoop", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Complete(id, "dale", ""))
		err := ls.Complete(id, "morgan", "")
		var transitionErr *service.InvalidTransitionError
		require.True(t, errors.As(err, &transitionErr))
		assert.Equal(t, models.CompletedInstanceStatus, transitionErr.From)

		// The first completion stands.
		inst, err := ls.GetInstance(id)
		require.NoError(t, err)
		assert.Equal(t, "dale", inst.CompletedBy)
	})

	t.Run("SkipRequiresReason", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		err := ls.Skip(id, "dale", "")
		var validationErr *service.ValidationError
		require.True(t, errors.As(err, &validationErr))

		require.NoError(t, ls.Skip(id, "dale", "market closed"))
		inst, err := ls.GetInstance(id)
		require.NoError(t, err)
		assert.Equal(t, models.SkippedInstanceStatus, inst.Status)
		assert.Equal(t, "market closed", inst.Notes)
	})

	t.Run("SkipThenCompleteIsConflict", func(t *testing.T) {
		// Models the losing half of two concurrent calls: by the time the
		// second caller's transaction locks the row, the task is skipped.
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Skip(id, "dale", "market closed"))
		err := ls.Complete(id, "morgan", "")
		var transitionErr *service.InvalidTransitionError
		require.True(t, errors.As(err, &transitionErr))
	})

	t.Run("StartCompletedIsConflict", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Complete(id, "dale", ""))
		assert.Error(t, ls.Start(id, "morgan"))
	})

	t.Run("UncompleteNeedsConfirmation", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Complete(id, "dale", ""))
		err := ls.Uncomplete(id, "dale", false, "")
		var validationErr *service.ValidationError
		require.True(t, errors.As(err, &validationErr))

		require.NoError(t, ls.Uncomplete(id, "dale", true, "wrong account"))
		inst, err := ls.GetInstance(id)
		require.NoError(t, err)
		assert.Equal(t, models.PendingInstanceStatus, inst.Status)
		assert.Nil(t, inst.CompletedAt)
		assert.Empty(t, inst.CompletedBy)
	})

	t.Run("UncompletePendingIsConflict", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		assert.Error(t, ls.Uncomplete(id, "dale", true, ""))
	})

	t.Run("UnknownInstanceIsNotFound", func(t *testing.T) {
		store := storage.NewMockStore()
		ls := service.NewLifecycleService(store, logger{}, nil)
		err := ls.Start(99, "dale")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestAuditTrail(t *testing.T) {
	due := date(2025, time.January, 3)

	// replay folds an audit trail into the status it implies.
	replay := func(t *testing.T, trail []models.AuditLogEntry) models.InstanceStatus {
		t.Helper()
		require.NotEmpty(t, trail)
		status := trail[0].NewStatus
		for _, e := range trail[1:] {
			require.Equal(t, status, e.OldStatus, "audit entry %d disagrees with prior state", e.ID)
			status = e.NewStatus
		}
		return status
	}

	t.Run("ReplayMatchesCurrentStatus", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Start(id, "dale"))
		require.NoError(t, ls.Complete(id, "dale", ""))
		require.NoError(t, ls.Uncomplete(id, "dale", true, "wrong account"))
		require.NoError(t, ls.Skip(id, "dale", "superseded"))

		trail, err := ls.AuditTrail(id)
		require.NoError(t, err)
		require.Len(t, trail, 5) // created, started, completed, modified, skipped
		assert.Equal(t, models.CreatedAuditAction, trail[0].Action)
		assert.Equal(t, models.ModifiedAuditAction, trail[3].Action)

		inst, err := ls.GetInstance(id)
		require.NoError(t, err)
		assert.Equal(t, inst.Status, replay(t, trail))
	})

	t.Run("ExactlyOneEntryPerTransition", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Complete(id, "dale", ""))
		trail, err := ls.AuditTrail(id)
		require.NoError(t, err)
		assert.Len(t, trail, 2) // created + completed
	})

	t.Run("RejectedTransitionWritesNothing", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Complete(id, "dale", ""))
		require.Error(t, ls.Complete(id, "morgan", ""))

		trail, err := ls.AuditTrail(id)
		require.NoError(t, err)
		assert.Len(t, trail, 2)
	})

	t.Run("SkipReasonOnAuditEntry", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, due, false)
		ls := service.NewLifecycleService(store, logger{}, nil)

		require.NoError(t, ls.Skip(id, "dale", "market closed"))
		trail, err := ls.AuditTrail(id)
		require.NoError(t, err)
		last := trail[len(trail)-1]
		assert.Equal(t, models.SkippedAuditAction, last.Action)
		assert.Equal(t, "market closed", last.Notes)
		assert.Equal(t, "dale", last.Actor)
	})
}

func TestOverduePredicate(t *testing.T) {
	now := time.Now()
	inst := models.TaskInstance{Status: models.PendingInstanceStatus, DueAt: now.Add(-time.Hour)}
	assert.True(t, inst.Overdue(now))

	inst.DueAt = now.Add(time.Hour)
	assert.False(t, inst.Overdue(now))

	// Only pending tasks can be overdue.
	inst.DueAt = now.Add(-time.Hour)
	inst.Status = models.CompletedInstanceStatus
	assert.False(t, inst.Overdue(now))
	inst.Status = models.InProgressInstanceStatus
	assert.False(t, inst.Overdue(now))
}
