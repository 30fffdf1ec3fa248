package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AcademicRepository implements student.Repository for PostgreSQL.
type AcademicRepository struct {
	conn *Connection
}

// NewAcademicRepository creates a new AcademicRepository.
func NewAcademicRepository(conn *Connection) *AcademicRepository {
	return &AcademicRepository{conn: conn}
}

// GetByID returns a student by ID.
func (r *AcademicRepository) GetByID(ctx context.Context, id student.ID) (*student.Student, error) {
	query := `
		SELECT id, name, group_name, guardian
		FROM students
		WHERE id = $1
	`

	var s student.Student
	err := r.conn.QueryRow(ctx, query, id.String()).Scan(&s.ID, &s.Name, &s.Group, &s.Guardian)
	if err != nil {
		if IsNoRows(err) {
			return nil, student.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &s, nil
}

// List returns all enrolled students.
func (r *AcademicRepository) List(ctx context.Context) ([]student.Student, error) {
	query := `
		SELECT id, name, group_name, guardian
		FROM students
		ORDER BY group_name, name
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []student.Student
	for rows.Next() {
		var s student.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Group, &s.Guardian); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// GetSeries loads the grade and attendance series for one student. When the
// query leaves the period pair unset, the two most recent periods found in
// the grade data are used.
func (r *AcademicRepository) GetSeries(ctx context.Context, id student.ID, q student.SeriesQuery) (student.Series, error) {
	series := student.Series{
		StudentID:      id,
		CurrentPeriod:  q.CurrentPeriod,
		PreviousPeriod: q.PreviousPeriod,
	}

	grades, err := r.loadGrades(ctx, id, q.Since)
	if err != nil {
		return student.Series{}, err
	}
	series.Grades = grades

	attendance, err := r.loadAttendance(ctx, id, q.Since)
	if err != nil {
		return student.Series{}, err
	}
	series.Attendance = attendance

	if series.CurrentPeriod.IsZero() {
		series.CurrentPeriod, series.PreviousPeriod = latestPeriods(grades)
	}

	return series, nil
}

// loadGrades reads the student's grade history since the cutoff.
func (r *AcademicRepository) loadGrades(ctx context.Context, id student.ID, since time.Time) ([]student.Grade, error) {
	query := `
		SELECT student_id, subject, value, period, recorded_at
		FROM grades
		WHERE student_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at
	`

	rows, err := r.conn.Query(ctx, query, id.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to load grades: %w", err)
	}
	defer rows.Close()

	var grades []student.Grade
	for rows.Next() {
		var g student.Grade
		if err := rows.Scan(&g.StudentID, &g.Subject, &g.Value, &g.Period, &g.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grade: %w", err)
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// loadAttendance reads the student's attendance history since the cutoff.
func (r *AcademicRepository) loadAttendance(ctx context.Context, id student.ID, since time.Time) ([]student.Attendance, error) {
	query := `
		SELECT student_id, date, present, justified
		FROM attendance
		WHERE student_id = $1 AND date >= $2
		ORDER BY date
	`

	rows, err := r.conn.Query(ctx, query, id.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to load attendance: %w", err)
	}
	defer rows.Close()

	var marks []student.Attendance
	for rows.Next() {
		var a student.Attendance
		if err := rows.Scan(&a.StudentID, &a.Date, &a.Present, &a.Justified); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		marks = append(marks, a)
	}
	return marks, rows.Err()
}

// latestPeriods returns the two most recent periods present in the grades,
// relying on the lexicographic ordering of period labels ("2026-T1" < "2026-T2").
func latestPeriods(grades []student.Grade) (current, previous student.Period) {
	seen := make(map[student.Period]struct{})
	for _, g := range grades {
		if g.Period.IsZero() {
			continue
		}
		seen[g.Period] = struct{}{}
	}

	for p := range seen {
		switch {
		case p > current:
			previous = current
			current = p
		case p > previous:
			previous = p
		}
	}
	return current, previous
}
