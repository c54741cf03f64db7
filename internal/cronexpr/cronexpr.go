// Package cronexpr parses the 7-field cron format the controller uses for
// rule schedules: `sec min hour day-of-month month day-of-week year`. The
// extra year field isn't covered by robfig/cron's own parser, so this
// package implements the github.com/robfig/cron/v3 Schedule interface
// directly and is handed to (*cron.Cron).Schedule instead of AddFunc.
package cronexpr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 7-field cron expression. Seconds through
// day-of-week are held as bitmasks (every field fits in 64 bits); year is
// held as a sorted list of allowed years, or nil to mean "every year".
type Schedule struct {
	second, minute, hour, dom, month, dow uint64
	year                                  []int
	spec                                  string
}

// String returns the original expression, so a Schedule can be used as a
// map key's human-readable twin in logs.
func (s *Schedule) String() string { return s.spec }

type fieldBounds struct {
	min, max int
}

var (
	secondBounds = fieldBounds{0, 59}
	minuteBounds = fieldBounds{0, 59}
	hourBounds   = fieldBounds{0, 23}
	domBounds    = fieldBounds{1, 31}
	monthBounds  = fieldBounds{1, 12}
	dowBounds    = fieldBounds{0, 6}
)

// Parse parses a 7-field cron expression (sec min hour dom month dow
// year). "*" in any field means "every value"; fields accept
// comma-separated lists of single values, ranges ("a-b") and steps
// ("a-b/n" or "*/n").
func Parse(spec string) (*Schedule, error) {
	fields := strings.Fields(spec)
	if len(fields) != 7 {
		return nil, fmt.Errorf("cron expression %q must have 7 fields, got %d", spec, len(fields))
	}

	second, err := parseBitmaskField(fields[0], secondBounds)
	if err != nil {
		return nil, fmt.Errorf("second field: %w", err)
	}
	minute, err := parseBitmaskField(fields[1], minuteBounds)
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseBitmaskField(fields[2], hourBounds)
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	dom, err := parseBitmaskField(fields[3], domBounds)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseBitmaskField(fields[4], monthBounds)
	if err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	dow, err := parseBitmaskField(fields[5], dowBounds)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}
	year, err := parseYearField(fields[6])
	if err != nil {
		return nil, fmt.Errorf("year field: %w", err)
	}

	return &Schedule{
		second: second, minute: minute, hour: hour,
		dom: dom, month: month, dow: dow, year: year,
		spec: spec,
	}, nil
}

func parseBitmaskField(field string, bounds fieldBounds) (uint64, error) {
	var mask uint64
	for _, term := range strings.Split(field, ",") {
		lo, hi, step, err := parseTerm(term, bounds)
		if err != nil {
			return 0, err
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("field %q matches no values", field)
	}
	return mask, nil
}

// parseTerm parses one comma-separated term: "*", "*/n", "a", "a-b" or
// "a-b/n", returning the inclusive [lo, hi] range and the step.
func parseTerm(term string, bounds fieldBounds) (lo, hi, step int, err error) {
	step = 1
	rangePart := term
	if idx := strings.IndexByte(term, '/'); idx >= 0 {
		rangePart = term[:idx]
		step, err = strconv.Atoi(term[idx+1:])
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step in %q", term)
		}
	}

	switch {
	case rangePart == "*":
		lo, hi = bounds.min, bounds.max
	case strings.Contains(rangePart, "-"):
		parts := strings.SplitN(rangePart, "-", 2)
		lo, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range start in %q", term)
		}
		hi, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid range end in %q", term)
		}
	default:
		lo, err = strconv.Atoi(rangePart)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid value %q", term)
		}
		hi = lo
	}

	if lo < bounds.min || hi > bounds.max || lo > hi {
		return 0, 0, 0, fmt.Errorf("value %q out of range [%d,%d]", term, bounds.min, bounds.max)
	}
	return lo, hi, step, nil
}

// parseYearField parses the unbounded year field. "*" yields nil, meaning
// "every year"; otherwise it returns a sorted, deduplicated list of years.
func parseYearField(field string) ([]int, error) {
	if field == "*" {
		return nil, nil
	}
	seen := make(map[int]bool)
	for _, term := range strings.Split(field, ",") {
		bounds := fieldBounds{1970, 2200}
		lo, hi, step, err := parseTerm(term, bounds)
		if err != nil {
			return nil, err
		}
		for v := lo; v <= hi; v += step {
			seen[v] = true
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// yearMatches reports whether year is allowed, and if not, the smallest
// allowed year greater than it (or ok=false if none exists).
func (s *Schedule) yearMatches(year int) (matches bool, next int, ok bool) {
	if s.year == nil {
		return true, 0, false
	}
	for _, y := range s.year {
		if y == year {
			return true, 0, false
		}
		if y > year {
			return false, y, true
		}
	}
	return false, 0, false
}

const yearSearchLimit = 50

// Next returns the earliest time strictly after t that matches the
// schedule, or the zero time.Time if no match exists within a 50-year
// search horizon (e.g. an exhausted year list, or a day-of-month/month
// combination like Feb 30 that can never occur).
func (s *Schedule) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Add(time.Second - time.Duration(t.Nanosecond())*time.Nanosecond)
	yearLimit := t.Year() + yearSearchLimit

WRAP:
	if t.Year() > yearLimit {
		return time.Time{}
	}

	if matches, next, ok := s.yearMatches(t.Year()); !matches {
		if !ok {
			return time.Time{}
		}
		t = time.Date(next, time.January, 1, 0, 0, 0, 0, loc)
	}

	for 1<<uint(t.Month())&s.month == 0 {
		t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
		if t.Month() == time.January {
			goto WRAP
		}
	}

	for !s.dayMatches(t) {
		t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
		if t.Day() == 1 {
			goto WRAP
		}
	}

	for 1<<uint(t.Hour())&s.hour == 0 {
		t = t.Add(time.Hour)
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
		if t.Hour() == 0 {
			goto WRAP
		}
	}

	for 1<<uint(t.Minute())&s.minute == 0 {
		t = t.Add(time.Minute)
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if t.Minute() == 0 {
			goto WRAP
		}
	}

	for 1<<uint(t.Second())&s.second == 0 {
		t = t.Add(time.Second)
		if t.Second() == 0 {
			goto WRAP
		}
	}

	return t
}

// dayMatches implements the standard cron rule: when both day-of-month
// and day-of-week are restricted (not "*"), the day matches if EITHER
// field matches; when only one is restricted, that one alone decides.
func (s *Schedule) dayMatches(t time.Time) bool {
	domRestricted := s.dom != fullMask(domBounds)
	dowRestricted := s.dow != fullMask(dowBounds)

	domMatch := 1<<uint(t.Day())&s.dom != 0
	dowMatch := 1<<uint(t.Weekday())&s.dow != 0

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}

func fullMask(bounds fieldBounds) uint64 {
	var mask uint64
	for v := bounds.min; v <= bounds.max; v++ {
		mask |= 1 << uint(v)
	}
	return mask
}
