package models

import (
	"time"

	"github.com/noah-isme/krs-api/pkg/timeofday"
)

// TermKind distinguishes the odd and even semester of an academic year.
type TermKind string

const (
	TermKindOdd  TermKind = "ODD"
	TermKindEven TermKind = "EVEN"
)

// Label capitalises the kind for display, e.g. "Odd".
func (k TermKind) Label() string {
	if k == TermKindEven {
		return "Even"
	}
	return "Odd"
}

// AcademicPeriod is a semester with its KRS enrollment window. At most one
// period is active at a time.
type AcademicPeriod struct {
	ID                 string    `db:"id" json:"id"`
	AcademicYear       string    `db:"academic_year" json:"academic_year"`
	TermKind           TermKind  `db:"term_kind" json:"term_kind"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	EnrollmentStartsOn time.Time `db:"enrollment_starts_on" json:"enrollment_starts_on"`
	EnrollmentEndsOn   time.Time `db:"enrollment_ends_on" json:"enrollment_ends_on"`
	DailyStartMinute   int       `db:"daily_start_minute" json:"daily_start_minute"`
	DailyEndMinute     int       `db:"daily_end_minute" json:"daily_end_minute"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentDeadline is the last instant of the enrollment end date, in UTC.
func (p AcademicPeriod) EnrollmentDeadline() time.Time {
	end := p.EnrollmentEndsOn.UTC()
	return time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

// WithinEnrollmentDates reports whether now falls between the first day and
// the end of the last day of enrollment.
func (p AcademicPeriod) WithinEnrollmentDates(now time.Time) bool {
	now = now.UTC()
	return !now.Before(p.EnrollmentStartsOn.UTC()) && !now.After(p.EnrollmentDeadline())
}

// WithinDailyHours reports whether now, seen in the campus time zone loc, is
// inside the daily enrollment hours. Both bounds are inclusive.
func (p AcademicPeriod) WithinDailyHours(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return timeofday.InRange(p.DailyStartMinute, p.DailyEndMinute, timeofday.Of(now.In(loc)))
}
