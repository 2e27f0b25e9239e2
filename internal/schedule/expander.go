// Package schedule expands recurrence rules into concrete firing
// instants. Expansion happens in the rule's timezone so occurrences
// pin to the local wall-clock time across DST changes.
package schedule

import (
	"time"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

// Expand returns every firing instant of the rule inside
// [windowStart, windowEnd), in ascending order. The rule's StartAt and
// EndAt further bound the window. A rule with empty Frequency is a
// one-shot: its StartAt is returned iff it falls inside the window.
func Expand(rule models.RecurrenceRule, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if !windowEnd.After(windowStart) {
		return nil, engine.NewValidation("expansion window end %s is not after start %s", windowEnd, windowStart)
	}

	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return nil, engine.NewValidation("unknown timezone %q", rule.Timezone)
	}

	if rule.Frequency == "" {
		if inWindow(rule.StartAt, rule, windowStart, windowEnd) {
			return []time.Time{rule.StartAt}, nil
		}
		return nil, nil
	}

	start := rule.StartAt.In(loc)
	hour, minute, sec := start.Clock()

	var out []time.Time
	switch rule.Frequency {
	case models.FrequencyDaily:
		days := weekdaySet(rule.DaysOfWeek)
		for d := start; ; d = d.AddDate(0, 0, 1) {
			// time.Date re-resolves the wall clock in loc, which keeps
			// 09:00 local as 09:00 local across a DST jump.
			t := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, sec, 0, loc)
			if !t.Before(windowEnd) {
				break
			}
			if rule.EndAt != nil && t.After(*rule.EndAt) {
				break
			}
			if days != nil && !days[t.Weekday()] {
				continue
			}
			if inWindow(t, rule, windowStart, windowEnd) {
				out = append(out, t)
			}
		}

	case models.FrequencyWeekly:
		days := weekdaySet(rule.DaysOfWeek)
		if days == nil {
			days = map[time.Weekday]bool{start.Weekday(): true}
		}
		for d := start; ; d = d.AddDate(0, 0, 1) {
			t := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, sec, 0, loc)
			if !t.Before(windowEnd) {
				break
			}
			if rule.EndAt != nil && t.After(*rule.EndAt) {
				break
			}
			if !days[t.Weekday()] {
				continue
			}
			if inWindow(t, rule, windowStart, windowEnd) {
				out = append(out, t)
			}
		}

	case models.FrequencyMonthly:
		day := start.Day()
		for m := 0; ; m++ {
			y, mo, _ := start.AddDate(0, m, -day+1).Date()
			// Clamp to the month's last day so a rule on the 31st
			// still fires in February.
			last := time.Date(y, mo+1, 0, 0, 0, 0, 0, loc).Day()
			d := day
			if d > last {
				d = last
			}
			t := time.Date(y, mo, d, hour, minute, sec, 0, loc)
			if !t.Before(windowEnd) {
				break
			}
			if rule.EndAt != nil && t.After(*rule.EndAt) {
				break
			}
			if inWindow(t, rule, windowStart, windowEnd) {
				out = append(out, t)
			}
		}

	default:
		return nil, engine.NewValidation("unknown frequency %q", rule.Frequency)
	}

	return out, nil
}

func inWindow(t time.Time, rule models.RecurrenceRule, windowStart, windowEnd time.Time) bool {
	if t.Before(windowStart) || t.Before(rule.StartAt) {
		return false
	}
	if !t.Before(windowEnd) {
		return false
	}
	if rule.EndAt != nil && t.After(*rule.EndAt) {
		return false
	}
	return true
}

func weekdaySet(days []time.Weekday) map[time.Weekday]bool {
	if len(days) == 0 {
		return nil
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}
