package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Frequency string

const (
	DailyFrequency   Frequency = "DAILY"
	WeeklyFrequency  Frequency = "WEEKLY"
	MonthlyFrequency Frequency = "MONTHLY"
)

// Rule is a validated recurrence expression. Expressions follow the
// RFC-5545 RRULE shape, semicolon-separated KEY=VALUE parts:
//
//	FREQ=WEEKLY;INTERVAL=1;BYDAY=FR;BYHOUR=14;UNTIL=2026-01-31
//
// Supported keys: FREQ (required), INTERVAL, BYDAY, BYMONTHDAY, BYHOUR,
// COUNT, UNTIL, DTSTART. COUNT and UNTIL are mutually exclusive.
type Rule struct {
	Freq       Frequency
	Interval   int            // Step multiplier, >= 1
	ByDay      []time.Weekday // DAILY filter / WEEKLY selector
	ByMonthDay []int          // MONTHLY day-of-month; negative counts from month end (-1 = last day)
	ByHour     int            // Hour of day for generated timestamps, 0-23
	Count      int            // 0 means unbounded
	Until      *time.Time     // Inclusive end date
	Start      *time.Time     // Optional anchor (DTSTART); defaults to the expansion window start
}

// ParseError describes a malformed recurrence expression. Hint carries a
// plain-language correction for the caller's UI.
type ParseError struct {
	Token   string
	Message string
	Hint    string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid recurrence expression: %s", e.Message)
	}
	return fmt.Sprintf("invalid recurrence expression at %q: %s", e.Token, e.Message)
}

var weekdayTokens = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// Parse parses and validates a recurrence expression.
func Parse(expr string) (Rule, error) {
	r := Rule{Interval: 1}
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Rule{}, &ParseError{Message: "empty expression", Hint: "provide at least FREQ, e.g. FREQ=DAILY"}
	}

	seen := make(map[string]bool)
	for _, part := range strings.Split(trimmed, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Rule{}, &ParseError{Token: part, Message: "missing '='", Hint: "each part must look like KEY=VALUE"}
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		if seen[key] {
			return Rule{}, &ParseError{Token: part, Message: "duplicate key", Hint: fmt.Sprintf("%s may appear only once", key)}
		}
		seen[key] = true

		switch key {
		case "FREQ":
			switch Frequency(strings.ToUpper(val)) {
			case DailyFrequency, WeeklyFrequency, MonthlyFrequency:
				r.Freq = Frequency(strings.ToUpper(val))
			default:
				return Rule{}, &ParseError{Token: part, Message: "unknown frequency",
					Hint: "FREQ must be DAILY, WEEKLY or MONTHLY"}
			}
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, &ParseError{Token: part, Message: "interval must be a positive integer",
					Hint: "use INTERVAL=2 for every other period"}
			}
			r.Interval = n
		case "BYDAY":
			for _, tok := range strings.Split(val, ",") {
				wd, ok := weekdayTokens[strings.ToUpper(strings.TrimSpace(tok))]
				if !ok {
					return Rule{}, &ParseError{Token: part, Message: fmt.Sprintf("unknown weekday %q", tok),
						Hint: "use two-letter day codes: MO,TU,WE,TH,FR,SA,SU"}
				}
				if !containsWeekday(r.ByDay, wd) {
					r.ByDay = append(r.ByDay, wd)
				}
			}
		case "BYMONTHDAY":
			for _, tok := range strings.Split(val, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(tok))
				if err != nil || n == 0 || n > 31 || n < -31 {
					return Rule{}, &ParseError{Token: part, Message: "day of month out of range",
						Hint: "BYMONTHDAY takes 1..31 or -31..-1 (-1 is the last day of the month)"}
				}
				if !containsInt(r.ByMonthDay, n) {
					r.ByMonthDay = append(r.ByMonthDay, n)
				}
			}
		case "BYHOUR":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 || n > 23 {
				return Rule{}, &ParseError{Token: part, Message: "hour out of range",
					Hint: "BYHOUR takes 0..23"}
			}
			r.ByHour = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, &ParseError{Token: part, Message: "count must be a positive integer",
					Hint: "use COUNT=10 to stop after ten occurrences"}
			}
			r.Count = n
		case "UNTIL":
			t, err := parseDate(val)
			if err != nil {
				return Rule{}, &ParseError{Token: part, Message: "invalid date",
					Hint: "UNTIL takes an ISO date, e.g. UNTIL=2026-01-31"}
			}
			r.Until = &t
		case "DTSTART":
			t, err := parseDate(val)
			if err != nil {
				return Rule{}, &ParseError{Token: part, Message: "invalid date",
					Hint: "DTSTART takes an ISO date, e.g. DTSTART=2026-01-01"}
			}
			r.Start = &t
		default:
			return Rule{}, &ParseError{Token: part, Message: "unknown key",
				Hint: "supported keys: FREQ, INTERVAL, BYDAY, BYMONTHDAY, BYHOUR, COUNT, UNTIL, DTSTART"}
		}
	}

	if r.Freq == "" {
		return Rule{}, &ParseError{Message: "missing FREQ", Hint: "every rule needs FREQ=DAILY, WEEKLY or MONTHLY"}
	}
	if r.Count > 0 && r.Until != nil {
		return Rule{}, &ParseError{Message: "COUNT and UNTIL are mutually exclusive",
			Hint: "pick either a fixed number of occurrences or an end date"}
	}
	if len(r.ByMonthDay) > 0 && r.Freq != MonthlyFrequency {
		return Rule{}, &ParseError{Message: "BYMONTHDAY requires FREQ=MONTHLY",
			Hint: "use BYDAY for daily or weekly rules"}
	}
	if len(r.ByDay) > 0 && r.Freq == MonthlyFrequency {
		return Rule{}, &ParseError{Message: "BYDAY is not supported with FREQ=MONTHLY",
			Hint: "use BYMONTHDAY for monthly rules"}
	}
	sort.Slice(r.ByDay, func(i, j int) bool { return r.ByDay[i] < r.ByDay[j] })
	sort.Ints(r.ByMonthDay)
	return r, nil
}

// Validate checks an expression without returning the parsed rule. A nil
// return means the expression is well-formed; otherwise the error is a
// *ParseError carrying a correction hint.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

func parseDate(val string) (time.Time, error) {
	return time.Parse("2006-01-02", val)
}

func containsWeekday(ws []time.Weekday, w time.Weekday) bool {
	for _, x := range ws {
		if x == w {
			return true
		}
	}
	return false
}

func containsInt(ns []int, n int) bool {
	for _, x := range ns {
		if x == n {
			return true
		}
	}
	return false
}
