// Package dateparse turns the time arguments of `cardsync record` into
// epoch seconds, the unit local records store.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseEpoch parses input relative to now and returns unix seconds.
//
// Supported formats:
//   - Unix seconds: "1672531200"
//   - RFC 3339: "2023-01-01T09:30:00Z"
//   - Exact dates: "2023-01-01" (midnight UTC)
//   - Keywords: "now", "today", "yesterday", "tomorrow" (days at midnight UTC)
//   - Relative offsets from now: "+3d", "-1d", "+2w", "+6h", "-30m"
//
// An empty input means now.
func ParseEpoch(input string, now time.Time) (int64, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" || input == "now" {
		return now.Unix(), nil
	}

	if sec, err := strconv.ParseInt(input, 10, 64); err == nil {
		return sec, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(input)); err == nil {
		return t.Unix(), nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t.Unix(), nil
	}

	today := midnightUTC(now)
	switch input {
	case "today":
		return today.Unix(), nil
	case "yesterday":
		return today.AddDate(0, 0, -1).Unix(), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1).Unix(), nil
	}

	if (input[0] == '+' || input[0] == '-') && len(input) >= 3 {
		d, err := parseOffset(input)
		if err != nil {
			return 0, err
		}
		return now.Add(d).Unix(), nil
	}

	return 0, fmt.Errorf("unrecognized time %q (use unix seconds, RFC 3339, YYYY-MM-DD, a keyword or an offset like +3d)", input)
}

// parseOffset parses "+Nu" or "-Nu" with u one of m, h, d, w.
func parseOffset(input string) (time.Duration, error) {
	sign := time.Duration(1)
	if input[0] == '-' {
		sign = -1
	}
	suffix := input[len(input)-1]
	n, err := strconv.Atoi(input[1 : len(input)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid offset %q", input)
	}
	var unit time.Duration
	switch suffix {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown offset unit %q in %q (use m, h, d, or w)", string(suffix), input)
	}
	return sign * time.Duration(n) * unit, nil
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
