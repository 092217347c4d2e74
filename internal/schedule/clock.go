package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotInFuture is returned when a candidate delivery time is not strictly
// later than the current time. The check runs before any network call.
var ErrNotInFuture = errors.New("scheduled time must be in the future")

// Period is the AM/PM half of a 12-hour clock.
type Period string

const (
	AM Period = "AM"
	PM Period = "PM"
)

// ParsePeriod accepts "AM"/"PM" case-insensitively.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToUpper(s) {
	case "AM":
		return AM, nil
	case "PM":
		return PM, nil
	default:
		return "", fmt.Errorf("unknown clock period %q", s)
	}
}

// ComposeClock builds a UTC instant from the discrete 12-hour form fields
// the scheduling dialog submits: a calendar day, an hour on the 12-hour
// dial, a minute and the AM/PM period. 12 AM maps to hour 0, 12 PM stays
// 12, every other PM hour adds 12.
func ComposeClock(day time.Time, hour12, minute int, period Period) (time.Time, error) {
	if hour12 < 1 || hour12 > 12 {
		return time.Time{}, fmt.Errorf("hour %d out of 12-hour range", hour12)
	}
	if minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("minute %d out of range", minute)
	}

	hour := hour12
	switch period {
	case AM:
		if hour12 == 12 {
			hour = 0
		}
	case PM:
		if hour12 != 12 {
			hour = hour12 + 12
		}
	default:
		return time.Time{}, fmt.Errorf("unknown clock period %q", period)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), nil
}

// ValidateFuture rejects candidate delivery times at or before now.
func ValidateFuture(candidate, now time.Time) error {
	if !candidate.After(now) {
		return ErrNotInFuture
	}
	return nil
}
