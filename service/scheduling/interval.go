package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadClock is returned when a time string is not minute-granular "HH:MM".
var ErrBadClock = errors.New("time must be in HH:MM format")

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not conflict.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// Covers reports whether [outerStart, outerEnd) fully contains
// [innerStart, innerEnd).
func Covers(outerStart, outerEnd, innerStart, innerEnd int) bool {
	return outerStart <= innerStart && outerEnd >= innerEnd
}

// ParseClock converts "HH:MM" to minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, ErrBadClock
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes from midnight back to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// DateOnly strips the time-of-day component, normalizing to UTC midnight.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current date at UTC midnight.
func Today() time.Time {
	return DateOnly(time.Now().UTC())
}

// At combines a date with minutes from midnight into a local timestamp, used
// for the strictly-in-the-future checks on bookings.
func At(date time.Time, minutes int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), minutes/60, minutes%60, 0, 0, time.Local)
}
