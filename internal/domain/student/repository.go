package student

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// SeriesQuery scopes a series load.
type SeriesQuery struct {
	// Since bounds how far back grade and attendance history is loaded.
	Since time.Time

	// CurrentPeriod and PreviousPeriod select the evaluation's period
	// pair. When zero the repository picks the two most recent periods
	// present in the data.
	CurrentPeriod  Period
	PreviousPeriod Period
}

// Repository provides read access to the academic records.
type Repository interface {
	// GetByID returns one student, or ErrStudentNotFound.
	GetByID(ctx context.Context, id ID) (*Student, error)

	// List returns all enrolled students.
	List(ctx context.Context) ([]Student, error)

	// GetSeries loads the grade and attendance series for one student.
	// A student with no records yields a valid empty series.
	GetSeries(ctx context.Context, id ID, q SeriesQuery) (Series, error)
}
