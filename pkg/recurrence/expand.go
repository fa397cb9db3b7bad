package recurrence

import (
	"sort"
	"time"
)

// Occurrences expands the rule over the inclusive date window [from, to]
// and returns the concrete timestamps, ascending and duplicate-free.
// Re-requesting the same window yields identical results. An inverted
// window returns nil, not an error.
//
// Expansion is anchored at DTSTART when the rule carries one, otherwise at
// the window start. The anchor decides which periods an INTERVAL > 1 rule
// lands on and where COUNT starts counting.
func (r Rule) Occurrences(from, to time.Time) []time.Time {
	loc := from.Location()
	fromDay := dateOf(from, loc)
	toDay := dateOf(to, loc)
	if fromDay.After(toDay) {
		return nil
	}

	anchor := fromDay
	if r.Start != nil {
		anchor = dateOf(*r.Start, loc)
	}
	var until *time.Time
	if r.Until != nil {
		u := dateOf(*r.Until, loc)
		until = &u
	}

	switch r.Freq {
	case DailyFrequency:
		return r.expandDaily(anchor, fromDay, toDay, until, loc)
	case WeeklyFrequency:
		return r.expandWeekly(anchor, fromDay, toDay, until, loc)
	case MonthlyFrequency:
		return r.expandMonthly(anchor, fromDay, toDay, until, loc)
	}
	return nil
}

func (r Rule) expandDaily(anchor, fromDay, toDay time.Time, until *time.Time, loc *time.Location) []time.Time {
	var out []time.Time
	count := 0
	for d := anchor; !d.After(toDay); d = d.AddDate(0, 0, r.Interval) {
		if until != nil && d.After(*until) {
			break
		}
		if len(r.ByDay) > 0 && !containsWeekday(r.ByDay, d.Weekday()) {
			continue
		}
		count++
		if r.Count > 0 && count > r.Count {
			break
		}
		if !d.Before(fromDay) {
			out = append(out, r.withHour(d, loc))
		}
	}
	return out
}

func (r Rule) expandWeekly(anchor, fromDay, toDay time.Time, until *time.Time, loc *time.Location) []time.Time {
	days := r.ByDay
	if len(days) == 0 {
		days = []time.Weekday{anchor.Weekday()}
	}
	offsets := make([]int, 0, len(days))
	for _, wd := range days {
		offsets = append(offsets, mondayIndex(wd))
	}
	sort.Ints(offsets)

	var out []time.Time
	count := 0
	for wk := mondayOf(anchor); !wk.After(toDay); wk = wk.AddDate(0, 0, 7*r.Interval) {
		for _, off := range offsets {
			d := wk.AddDate(0, 0, off)
			if d.Before(anchor) {
				continue
			}
			if until != nil && d.After(*until) {
				return out
			}
			count++
			if r.Count > 0 && count > r.Count {
				return out
			}
			if !d.Before(fromDay) && !d.After(toDay) {
				out = append(out, r.withHour(d, loc))
			}
		}
	}
	return out
}

func (r Rule) expandMonthly(anchor, fromDay, toDay time.Time, until *time.Time, loc *time.Location) []time.Time {
	dayspecs := r.ByMonthDay
	if len(dayspecs) == 0 {
		dayspecs = []int{anchor.Day()}
	}

	var out []time.Time
	count := 0
	first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, loc)
	for m := first; !m.After(toDay); m = m.AddDate(0, r.Interval, 0) {
		for _, d := range resolveMonthDays(m, dayspecs, loc) {
			if d.Before(anchor) {
				continue
			}
			if until != nil && d.After(*until) {
				return out
			}
			count++
			if r.Count > 0 && count > r.Count {
				return out
			}
			if !d.Before(fromDay) && !d.After(toDay) {
				out = append(out, r.withHour(d, loc))
			}
		}
	}
	return out
}

// resolveMonthDays maps day specs onto a concrete month. Days past the end
// of a short month clamp to the last valid day rather than skipping the
// month; negative specs count back from the month end.
func resolveMonthDays(firstOfMonth time.Time, specs []int, loc *time.Location) []time.Time {
	last := firstOfMonth.AddDate(0, 1, -1).Day()
	seen := make(map[int]bool, len(specs))
	days := make([]int, 0, len(specs))
	for _, n := range specs {
		day := n
		if n < 0 {
			day = last + n + 1
		}
		if day > last {
			day = last
		}
		if day < 1 {
			day = 1
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Ints(days)
	out := make([]time.Time, 0, len(days))
	for _, day := range days {
		out = append(out, time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day, 0, 0, 0, 0, loc))
	}
	return out
}

func (r Rule) withHour(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), r.ByHour, 0, 0, 0, loc)
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// mondayIndex maps a weekday onto a Monday-based week offset 0..6.
func mondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

func mondayOf(day time.Time) time.Time {
	return day.AddDate(0, 0, -mondayIndex(day.Weekday()))
}
