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

func TestMetrics(t *testing.T) {
	t.Run("EmptyWindowReportsNoData", func(t *testing.T) {
		store := storage.NewMockStore()
		cs := service.NewComplianceService(store, logger{})

		snap, err := cs.Metrics(date(2025, time.January, 6), date(2025, time.January, 12))
		require.NoError(t, err)
		assert.True(t, snap.NoData)
		assert.Zero(t, snap.Total)
		assert.Equal(t, 1.0, snap.CompletionRate)
		assert.Equal(t, 1.0, snap.BlockingRate)
	})

	t.Run("CountsAndRatePerCategory", func(t *testing.T) {
		store := storage.NewMockStore()
		newTemplate(t, store, models.TaskTemplate{Name: "Reconcile accounts", Category: "trading"})
		newTemplate(t, store, models.TaskTemplate{Name: "Backup ledger", Category: "ops"})
		gen := service.NewGeneratorService(store, logger{})
		day := date(2025, time.January, 3)
		_, err := gen.Generate(day, day)
		require.NoError(t, err)

		ls := service.NewLifecycleService(store, logger{}, nil)
		require.NoError(t, ls.Complete(1, "dale", ""))

		cs := service.NewComplianceService(store, logger{})
		snap, err := cs.Metrics(day, day)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Total)
		assert.Equal(t, 1, snap.Completed)
		// The window is in the past, so the open task counts as overdue.
		assert.Equal(t, 1, snap.Overdue)
		assert.Equal(t, 0.5, snap.CompletionRate)
		assert.False(t, snap.NoData)

		require.Len(t, snap.Categories, 2)
		assert.Equal(t, "ops", snap.Categories[0].Category)
		assert.Equal(t, "trading", snap.Categories[1].Category)
	})

	t.Run("RateStaysWithinBounds", func(t *testing.T) {
		store := storage.NewMockStore()
		newTemplate(t, store, models.TaskTemplate{Name: "Reconcile accounts"})
		gen := service.NewGeneratorService(store, logger{})
		from, to := date(2025, time.January, 1), date(2025, time.January, 5)
		_, err := gen.Generate(from, to)
		require.NoError(t, err)

		cs := service.NewComplianceService(store, logger{})
		snap, err := cs.Metrics(from, to)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.CompletionRate, 0.0)
		assert.LessOrEqual(t, snap.CompletionRate, 1.0)
		assert.Equal(t, 0.0, snap.CompletionRate)

		ls := service.NewLifecycleService(store, logger{}, nil)
		for id := int64(1); id <= 5; id++ {
			require.NoError(t, ls.Complete(id, "dale", ""))
		}
		cs.SetSnapshotTTL(0)
		snap, err = cs.Metrics(from, to)
		require.NoError(t, err)
		assert.Equal(t, 1.0, snap.CompletionRate)
	})

	t.Run("SkippedResolvesBlockingButNotCompletion", func(t *testing.T) {
		store := storage.NewMockStore()
		day := date(2025, time.January, 3)
		id := seedInstance(t, store, day, true)
		ls := service.NewLifecycleService(store, logger{}, nil)
		require.NoError(t, ls.Skip(id, "dale", "market closed"))

		cs := service.NewComplianceService(store, logger{})
		snap, err := cs.Metrics(day, day)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Skipped)
		assert.Equal(t, 0, snap.Completed)
		assert.Equal(t, 0.0, snap.CompletionRate)
		assert.Equal(t, 1, snap.BlockingTotal)
		assert.Equal(t, 1, snap.BlockingResolved)
		assert.Equal(t, 1.0, snap.BlockingRate)
	})

	t.Run("FutureDueIsPendingNotOverdue", func(t *testing.T) {
		store := storage.NewMockStore()
		newTemplate(t, store, models.TaskTemplate{Name: "Reconcile accounts"})
		gen := service.NewGeneratorService(store, logger{})
		today := time.Now().UTC().Truncate(24 * time.Hour)
		tomorrow := today.AddDate(0, 0, 1)
		_, err := gen.Generate(today, tomorrow)
		require.NoError(t, err)

		cs := service.NewComplianceService(store, logger{})
		snap, err := cs.Metrics(today, tomorrow)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Total)
		// Today's midnight instance has passed, tomorrow's has not.
		assert.Equal(t, 1, snap.Overdue)
		assert.Equal(t, 1, snap.Pending)
	})
}

func TestSnapshotCache(t *testing.T) {
	day := date(2025, time.January, 3)

	t.Run("ServesCachedUntilInvalidated", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, day, false)
		cs := service.NewComplianceService(store, logger{})
		cs.SetSnapshotTTL(time.Minute)

		snap, err := cs.Metrics(day, day)
		require.NoError(t, err)
		require.Equal(t, 0, snap.Completed)

		// Transition without wiring the invalidator: the cached snapshot
		// is still served.
		ls := service.NewLifecycleService(store, logger{}, nil)
		require.NoError(t, ls.Complete(id, "dale", ""))
		snap, err = cs.Metrics(day, day)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.Completed)

		cs.InvalidateCovering(day)
		snap, err = cs.Metrics(day, day)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Completed)
	})

	t.Run("TransitionInvalidatesThroughWiring", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, day, false)
		cs := service.NewComplianceService(store, logger{})
		cs.SetSnapshotTTL(time.Minute)
		ls := service.NewLifecycleService(store, logger{}, cs)

		_, err := cs.Metrics(day, day)
		require.NoError(t, err)

		require.NoError(t, ls.Complete(id, "dale", ""))
		snap, err := cs.Metrics(day, day)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Completed)
	})

	t.Run("InvalidationOutsideWindowKeepsCache", func(t *testing.T) {
		store := storage.NewMockStore()
		id := seedInstance(t, store, day, false)
		cs := service.NewComplianceService(store, logger{})
		cs.SetSnapshotTTL(time.Minute)

		_, err := cs.Metrics(day, day)
		require.NoError(t, err)

		ls := service.NewLifecycleService(store, logger{}, nil)
		require.NoError(t, ls.Complete(id, "dale", ""))
		cs.InvalidateCovering(date(2025, time.February, 1))
		snap, err := cs.Metrics(day, day)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.Completed)
	})
}

func TestTrend(t *testing.T) {
	t.Run("RejectsNonPositiveWeeks", func(t *testing.T) {
		cs := service.NewComplianceService(storage.NewMockStore(), logger{})
		_, err := cs.Trend(0, date(2025, time.January, 10))
		var validationErr *service.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "weeks", validationErr.Field)
	})

	t.Run("OldestWeekFirst", func(t *testing.T) {
		store := storage.NewMockStore()
		newTemplate(t, store, models.TaskTemplate{Name: "Weekly report", Recurrence: "FREQ=WEEKLY;BYDAY=FR"})
		gen := service.NewGeneratorService(store, logger{})
		_, err := gen.Generate(date(2025, time.January, 6), date(2025, time.January, 19))
		require.NoError(t, err)

		cs := service.NewComplianceService(store, logger{})
		trend, err := cs.Trend(3, date(2025, time.January, 15))
		require.NoError(t, err)
		require.Len(t, trend, 3)

		// Weeks 1-3 of 2025: Dec 30-Jan 5, Jan 6-12, Jan 13-19.
		assert.Equal(t, 1, trend[0].ISOWeek)
		assert.Equal(t, 2, trend[1].ISOWeek)
		assert.Equal(t, 3, trend[2].ISOWeek)
		assert.Equal(t, 2025, trend[1].ISOYear)

		assert.True(t, trend[0].Snapshot.NoData)
		assert.Equal(t, 1, trend[1].Snapshot.Total) // Friday Jan 10
		assert.Equal(t, 1, trend[2].Snapshot.Total) // Friday Jan 17
	})

	t.Run("WeeklyMetricsCoversWholeISOWeek", func(t *testing.T) {
		store := storage.NewMockStore()
		newTemplate(t, store, models.TaskTemplate{Name: "Daily check"})
		gen := service.NewGeneratorService(store, logger{})
		_, err := gen.Generate(date(2025, time.January, 6), date(2025, time.January, 12))
		require.NoError(t, err)

		cs := service.NewComplianceService(store, logger{})
		// Wednesday resolves to the Monday-Sunday week around it.
		snap, err := cs.WeeklyMetrics(date(2025, time.January, 8))
		require.NoError(t, err)
		assert.Equal(t, 7, snap.Total)
		assert.Equal(t, date(2025, time.January, 6), snap.Start)
	})
}
