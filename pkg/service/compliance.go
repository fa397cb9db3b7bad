package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

// DefaultSnapshotTTL bounds how long a computed snapshot may be served
// from cache. Transitions invalidate covering entries immediately, so the
// TTL only limits staleness from writes this process never saw.
const DefaultSnapshotTTL = 30 * time.Second

type cachedSnapshot struct {
	snap     models.ComplianceSnapshot
	storedAt time.Time
}

// ComplianceService computes point-in-time and trailing-window compliance
// metrics from instance state. Metrics and Trend reads may be served from
// a short-lived cache; BlockingStatus always reads storage directly
// because the cycle gate must never act on a stale view.
type ComplianceService struct {
	store  storage.Store
	logger Logger

	mu    sync.Mutex
	cache map[string]cachedSnapshot
	ttl   time.Duration
}

func NewComplianceService(store storage.Store, logger Logger) *ComplianceService {
	return &ComplianceService{
		store:  store,
		logger: logger,
		cache:  make(map[string]cachedSnapshot),
		ttl:    DefaultSnapshotTTL,
	}
}

// SetSnapshotTTL overrides the cache lifetime. Zero disables caching.
func (cs *ComplianceService) SetSnapshotTTL(d time.Duration) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.ttl = d
	cs.cache = make(map[string]cachedSnapshot)
}

// InvalidateCovering drops every cached snapshot whose window covers the
// given due date. The lifecycle service calls this after each committed
// transition.
func (cs *ComplianceService) InvalidateCovering(due time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for key, entry := range cs.cache {
		if !due.Before(entry.snap.Start) && !due.After(entry.snap.End) {
			delete(cs.cache, key)
		}
	}
}

// Metrics computes a compliance snapshot over the inclusive window
// [start, end]. Overdue is measured as of the window end, or as of now for
// windows that are still open. A zero-instance window reports a rate of 1
// with NoData set, never a division error.
func (cs *ComplianceService) Metrics(start, end time.Time) (models.ComplianceSnapshot, error) {
	windowStart := dayStart(start)
	windowEnd := dayEnd(end)
	key := fmt.Sprintf("%s|%s", windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	cs.mu.Lock()
	if entry, ok := cs.cache[key]; ok && cs.ttl > 0 && time.Since(entry.storedAt) < cs.ttl {
		cs.mu.Unlock()
		return entry.snap, nil
	}
	cs.mu.Unlock()

	instances, err := cs.store.ListInstances(storage.InstanceFilter{
		DueFrom: &windowStart,
		DueTo:   &windowEnd,
	})
	if err != nil {
		return models.ComplianceSnapshot{}, fmt.Errorf("list instances %s: %w", key, err)
	}

	asOf := windowEnd
	if now := time.Now(); now.Before(asOf) {
		asOf = now
	}
	snap := buildSnapshot(windowStart, windowEnd, asOf, instances)

	cs.mu.Lock()
	if cs.ttl > 0 {
		cs.cache[key] = cachedSnapshot{snap: snap, storedAt: time.Now()}
	}
	cs.mu.Unlock()
	return snap, nil
}

// DailyMetrics reports compliance for a single calendar day.
func (cs *ComplianceService) DailyMetrics(day time.Time) (models.ComplianceSnapshot, error) {
	return cs.Metrics(day, day)
}

// WeeklyMetrics reports compliance for the ISO week containing the given
// day. This is the number the cycle-close gate readiness view shows.
func (cs *ComplianceService) WeeklyMetrics(day time.Time) (models.ComplianceSnapshot, error) {
	monday, sunday := weekBounds(day)
	return cs.Metrics(monday, sunday)
}

// BlockingStatus returns the blocking instances due on or before asOf that
// are neither completed nor skipped. An empty set means the gate is open.
func (cs *ComplianceService) BlockingStatus(asOf time.Time) (models.BlockingTasksStatus, error) {
	due := dayEnd(asOf)
	open, err := cs.store.ListInstances(storage.InstanceFilter{
		DueTo:        &due,
		BlockingOnly: true,
		Statuses:     []models.InstanceStatus{models.PendingInstanceStatus, models.InProgressInstanceStatus},
	})
	if err != nil {
		return models.BlockingTasksStatus{}, fmt.Errorf("list blocking instances: %w", err)
	}
	return models.BlockingTasksStatus{AsOf: asOf, Open: open}, nil
}

// Trend returns per-ISO-week snapshots for the trailing number of weeks
// ending with the week that contains asOf, oldest first. Weeks with no
// instances report NoData rather than a divide-by-zero.
func (cs *ComplianceService) Trend(weeks int, asOf time.Time) ([]models.WeeklySnapshot, error) {
	if weeks < 1 {
		return nil, &ValidationError{Field: "weeks", Message: "must be at least 1",
			Hint: "request a trailing window of one or more weeks"}
	}
	out := make([]models.WeeklySnapshot, 0, weeks)
	for i := weeks - 1; i >= 0; i-- {
		monday, sunday := weekBounds(asOf.AddDate(0, 0, -7*i))
		snap, err := cs.Metrics(monday, sunday)
		if err != nil {
			return nil, err
		}
		isoYear, isoWeek := monday.ISOWeek()
		out = append(out, models.WeeklySnapshot{
			ISOYear:  isoYear,
			ISOWeek:  isoWeek,
			Snapshot: snap,
		})
	}
	return out, nil
}

func buildSnapshot(start, end, asOf time.Time, instances []models.TaskInstance) models.ComplianceSnapshot {
	snap := models.ComplianceSnapshot{Start: start, End: end}
	byCategory := make(map[string]*models.CategoryBreakdown)

	for _, inst := range instances {
		cat := byCategory[inst.Category]
		if cat == nil {
			cat = &models.CategoryBreakdown{Category: inst.Category}
			byCategory[inst.Category] = cat
		}
		snap.Total++
		cat.Total++
		switch {
		case inst.Status == models.CompletedInstanceStatus:
			snap.Completed++
			cat.Completed++
		case inst.Status == models.SkippedInstanceStatus:
			snap.Skipped++
			cat.Skipped++
		case inst.Overdue(asOf):
			snap.Overdue++
			cat.Overdue++
		case inst.Status == models.InProgressInstanceStatus:
			snap.InProgress++
			cat.InProgress++
		default:
			snap.Pending++
			cat.Pending++
		}
		if inst.IsBlocking {
			snap.BlockingTotal++
			if inst.Status.Resolved() {
				snap.BlockingResolved++
			}
		}
	}

	snap.CompletionRate = rate(snap.Completed, snap.Total)
	snap.BlockingRate = rate(snap.BlockingResolved, snap.BlockingTotal)
	snap.NoData = snap.Total == 0

	cats := make([]string, 0, len(byCategory))
	for name := range byCategory {
		cats = append(cats, name)
	}
	sort.Strings(cats)
	for _, name := range cats {
		cat := byCategory[name]
		cat.CompletionRate = rate(cat.Completed, cat.Total)
		snap.Categories = append(snap.Categories, *cat)
	}
	return snap
}

// rate returns completed/total, defined as 1 for an empty set: with
// nothing expected, nothing is delinquent.
func rate(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(n) / float64(total)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// weekBounds returns the Monday and Sunday of the ISO week containing t.
func weekBounds(t time.Time) (time.Time, time.Time) {
	day := dayStart(t)
	monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	return monday, monday.AddDate(0, 0, 6)
}
