// Package timeofday converts wall-clock times to minutes since midnight and
// compares meeting slots.
package timeofday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a valid minute value.
const MinutesPerDay = 24 * 60

// ToMinutes parses an "HH:MM" 24-hour string into minutes since midnight.
func ToMinutes(hhmm string) (int, error) {
	hours, minutes, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, fmt.Errorf("time %q is not in HH:MM format", hhmm)
	}
	h, err := strconv.Atoi(hours)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time %q has an invalid hour", hhmm)
	}
	m, err := strconv.Atoi(minutes)
	if err != nil || m < 0 || m > 59 || len(minutes) != 2 {
		return 0, fmt.Errorf("time %q has an invalid minute", hhmm)
	}
	return h*60 + m, nil
}

// MustMinutes is ToMinutes for literals; it panics on malformed input.
func MustMinutes(hhmm string) int {
	m, err := ToMinutes(hhmm)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinutes formats minutes since midnight as "HH:MM". Callers validate the range.
func FromMinutes(total int) string {
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Valid reports whether total is a minute of the day.
func Valid(total int) bool {
	return total >= 0 && total < MinutesPerDay
}

// Of returns the minute of the day of t in t's location.
func Of(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Duration returns end minus start in minutes.
func Duration(start, end int) int {
	return end - start
}

// InRange reports whether current lies in the closed range [start, end].
func InRange(start, end, current int) bool {
	return current >= start && current <= end
}

// Overlaps reports whether the half-open ranges [startA, endA) and
// [startB, endB) intersect. Back-to-back ranges do not overlap.
func Overlaps(startA, endA, startB, endB int) bool {
	return startA < endB && startB < endA
}
