package models

import (
	"time"

	"github.com/noah-isme/krs-api/pkg/timeofday"
)

// Day is a weekday a section meets on.
type Day string

const (
	Monday    Day = "MONDAY"
	Tuesday   Day = "TUESDAY"
	Wednesday Day = "WEDNESDAY"
	Thursday  Day = "THURSDAY"
	Friday    Day = "FRIDAY"
	Saturday  Day = "SATURDAY"
	Sunday    Day = "SUNDAY"
)

// CourseKind tells whether a course is mandatory within a curriculum.
type CourseKind string

const (
	CourseKindRequired CourseKind = "REQUIRED"
	CourseKindElective CourseKind = "ELECTIVE"
)

// Course is a subject in the catalog.
type Course struct {
	ID      string `db:"id" json:"id"`
	Code    string `db:"code" json:"code"`
	Name    string `db:"name" json:"name"`
	Credits int    `db:"credits" json:"credits"`
}

// Lecturer teaches offered sections.
type Lecturer struct {
	ID        string `db:"id" json:"id"`
	SectionID string `db:"section_id" json:"-"`
	NIP       string `db:"nip" json:"nip"`
	FullName  string `db:"full_name" json:"full_name"`
}

// Meeting is a weekly slot of a section. Times are minutes since midnight.
type Meeting struct {
	ID          string `db:"id" json:"id"`
	SectionID   string `db:"section_id" json:"section_id"`
	Day         Day    `db:"day" json:"day"`
	StartMinute int    `db:"start_minute" json:"start_minute"`
	EndMinute   int    `db:"end_minute" json:"end_minute"`
	Room        string `db:"room" json:"room"`
}

// ConflictsWith reports whether both meetings fall on the same day with
// overlapping times. Back-to-back meetings do not conflict.
func (m Meeting) ConflictsWith(other Meeting) bool {
	return m.Day == other.Day && timeofday.Overlaps(m.StartMinute, m.EndMinute, other.StartMinute, other.EndMinute)
}

// OfferedSection is a class opened for a course in an academic period.
// Credits, CourseCode and CourseName are joined from the course.
type OfferedSection struct {
	ID         string     `db:"id" json:"id"`
	CourseID   string     `db:"course_id" json:"course_id"`
	PeriodID   string     `db:"period_id" json:"period_id"`
	Name       string     `db:"name" json:"name"`
	Quota      int        `db:"quota" json:"quota"`
	Filled     int        `db:"filled" json:"filled"`
	Credits    int        `db:"credits" json:"credits"`
	CourseCode string     `db:"course_code" json:"course_code"`
	CourseName string     `db:"course_name" json:"course_name"`
	Meetings   []Meeting  `db:"-" json:"meetings"`
	Lecturers  []Lecturer `db:"-" json:"lecturers"`
}

// IsFull reports whether no seat is left.
func (s OfferedSection) IsFull() bool {
	return s.Filled >= s.Quota
}

// ConflictsWith reports whether any meeting of s clashes with any meeting of other.
func (s OfferedSection) ConflictsWith(other OfferedSection) bool {
	for _, a := range s.Meetings {
		for _, b := range other.Meetings {
			if a.ConflictsWith(b) {
				return true
			}
		}
	}
	return false
}

// CatalogEntry is an offered section as listed for one curriculum.
type CatalogEntry struct {
	OfferedSection
	CurriculumCode string     `db:"curriculum_code" json:"curriculum_code"`
	Kind           CourseKind `db:"kind" json:"kind"`
	PackagedTerm   int        `db:"packaged_term" json:"packaged_term"`
}

// RegisteredSection is a section in a student's KRS together with its
// curriculum placement and the time it was added.
type RegisteredSection struct {
	CatalogEntry
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`
}
