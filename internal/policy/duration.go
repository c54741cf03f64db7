package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches the age-policy duration grammar: a positive
// integer followed by one of the unit suffixes below. This differs from
// Go's own time.ParseDuration, which lacks day/week/year units and
// accepts fractional/negative values, so it is hand-parsed.
var durationPattern = regexp.MustCompile(`^([0-9]+)(ns|us|ms|s|m|h|d|w|y)$`)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365 * day
)

// parseDuration parses a value like "30d" or "15m" into a time.Duration.
// It returns an error for anything not matching the grammar exactly.
func parseDuration(value string) (time.Duration, error) {
	matches := durationPattern.FindStringSubmatch(value)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	n, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	unit := matches[2]
	switch unit {
	case "ns":
		return time.Duration(n), nil
	case "us":
		return time.Duration(n) * time.Microsecond, nil
	case "ms":
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * day, nil
	case "w":
		return time.Duration(n) * week, nil
	case "y":
		return time.Duration(n) * year, nil
	default:
		return 0, fmt.Errorf("unknown duration unit %q", unit)
	}
}
