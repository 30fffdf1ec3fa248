// Package student contains the academic domain model for Aula Insights:
// students, their grade history, and their attendance history. The rule
// engine consumes these series as plain values; nothing here performs I/O.
package student

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID identifies a student.
type ID string

// IsValid reports whether the ID is non-empty.
func (id ID) IsValid() bool {
	return len(id) > 0
}

// String returns the string form of the ID.
func (id ID) String() string {
	return string(id)
}

// Period identifies a grading period ("2026-T1", "2026-T2", ...).
// The empty period means "unspecified".
type Period string

// IsZero reports whether the period is unspecified.
func (p Period) IsZero() bool {
	return p == ""
}

// String returns the string form of the period.
func (p Period) String() string {
	return string(p)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Student is the dashboard's view of one enrolled student.
type Student struct {
	ID       ID
	Name     string
	Group    string
	Guardian string
}

// Grade is one recorded grade for a subject in a grading period.
// Values follow the 0-10 scale used by the source school system.
type Grade struct {
	StudentID  ID
	Subject    string
	Value      float64
	Period     Period
	RecordedAt time.Time
}

// Attendance is one recorded attendance mark.
type Attendance struct {
	StudentID ID
	Date      time.Time
	Present   bool
	Justified bool
}

// ══════════════════════════════════════════════════════════════════════════════
// SERIES
// ══════════════════════════════════════════════════════════════════════════════

// Series is the raw input to one rule-engine evaluation: a student's grade
// and attendance history plus the period pair the evaluation compares.
// A zero Series is valid input and evaluates to zero metrics.
type Series struct {
	StudentID ID

	// Grades holds all grade records available for the student.
	Grades []Grade

	// Attendance holds all attendance records available for the student.
	Attendance []Attendance

	// CurrentPeriod scopes the "current" average. When zero, every grade
	// record counts as current.
	CurrentPeriod Period

	// PreviousPeriod scopes the comparison average. When zero, no trend
	// can be computed.
	PreviousPeriod Period
}

// GradesIn returns the grades recorded in the given period. A zero period
// matches every record.
func (s Series) GradesIn(p Period) []Grade {
	if p.IsZero() {
		return s.Grades
	}
	var out []Grade
	for _, g := range s.Grades {
		if g.Period == p {
			out = append(out, g)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidStudentID - empty student ID.
	ErrInvalidStudentID = errors.New("student: invalid id: cannot be empty")

	// ErrStudentNotFound - no student with the given ID.
	ErrStudentNotFound = errors.New("student: not found")
)
