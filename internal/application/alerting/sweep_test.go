package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/student"
)

type memStudents struct {
	students []student.Student
	series   map[student.ID]student.Series
	failFor  student.ID
}

func (r *memStudents) GetByID(_ context.Context, id student.ID) (*student.Student, error) {
	for _, s := range r.students {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, student.ErrStudentNotFound
}

func (r *memStudents) List(_ context.Context) ([]student.Student, error) {
	return r.students, nil
}

func (r *memStudents) GetSeries(_ context.Context, id student.ID, _ student.SeriesQuery) (student.Series, error) {
	if id == r.failFor {
		return student.Series{}, errors.New("academic store unavailable")
	}
	return r.series[id], nil
}

func gradeIn(id student.ID, value float64, period student.Period) student.Grade {
	return student.Grade{StudentID: id, Subject: "mat", Value: value, Period: period, RecordedAt: time.Now()}
}

func TestSweeperDispatchesOnlyQualifyingStudents(t *testing.T) {
	f := newFixture(t, nil)

	students := &memStudents{
		students: []student.Student{
			{ID: "stu-1", Name: "Ana"},
			{ID: "stu-2", Name: "Luis"},
		},
		series: map[student.ID]student.Series{
			"stu-1": {StudentID: "stu-1", CurrentPeriod: "2026-T1",
				Grades: []student.Grade{gradeIn("stu-1", 3.0, "2026-T1")}},
			"stu-2": {StudentID: "stu-2", CurrentPeriod: "2026-T1",
				Grades: []student.Grade{gradeIn("stu-2", 8.0, "2026-T1")}},
		},
	}

	sweeper := NewSweeper(students, insight.NewEngine(), f.dispatcher, nil, DefaultSweeperConfig())
	report, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Students)
	assert.Equal(t, 1, report.Findings, "the unremarkable student produces no finding")
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, f.email.callCount())
}

func TestSweeperCountsPerStudentFailures(t *testing.T) {
	f := newFixture(t, nil)

	students := &memStudents{
		students: []student.Student{{ID: "stu-1"}, {ID: "stu-broken"}},
		series: map[student.ID]student.Series{
			"stu-1": {StudentID: "stu-1", CurrentPeriod: "2026-T1",
				Grades: []student.Grade{gradeIn("stu-1", 3.0, "2026-T1")}},
		},
		failFor: "stu-broken",
	}

	sweeper := NewSweeper(students, insight.NewEngine(), f.dispatcher, nil, DefaultSweeperConfig())
	report, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errors, "a broken student never aborts the pass")
	assert.Equal(t, 1, report.Dispatched)
}
