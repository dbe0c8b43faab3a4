package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week". Fields accept "*", single
// values, comma lists, ranges ("1-5") and steps ("*/15", "0-30/10").
type Schedule struct {
	expr       string
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("scheduler: cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("scheduler: parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return Schedule{
		expr:       expr,
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// parseCronField parses a single cron field (e.g. "0", "*", "1,15", "*/5").
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if rng, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", s)
			}
			step, part = n, rng
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", a, err)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", b, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q out of range [%d,%d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// Next returns the first matching minute strictly after after. It searches
// minute by minute up to one year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("scheduler: no matching cron time within one year for %q", s.expr)
}

func (s Schedule) String() string { return s.expr }
