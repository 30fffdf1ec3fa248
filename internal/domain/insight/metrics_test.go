package insight

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

func grade(subject string, value float64, period student.Period) student.Grade {
	return student.Grade{
		StudentID:  "stu-1",
		Subject:    subject,
		Value:      value,
		Period:     period,
		RecordedAt: time.Now(),
	}
}

func attendance(present, justified bool) student.Attendance {
	return student.Attendance{
		StudentID: "stu-1",
		Date:      time.Now(),
		Present:   present,
		Justified: justified,
	}
}

func seriesWith(grades []student.Grade, attn []student.Attendance) student.Series {
	return student.Series{
		StudentID:      "stu-1",
		Grades:         grades,
		Attendance:     attn,
		CurrentPeriod:  "2026-T1",
		PreviousPeriod: "2025-T3",
	}
}

func TestComputeMetricsEmptySeries(t *testing.T) {
	m := ComputeMetrics(student.Series{StudentID: "stu-1"}, DefaultThresholds())

	assert.Equal(t, 0.0, m.CurrentAverage)
	assert.False(t, m.HasPrevious)
	assert.Equal(t, 100.0, m.AttendanceRate, "no attendance records means perfect rate")
	assert.Equal(t, 0, m.Absences)
	assert.Equal(t, TrendNoData, m.Trend)
	assert.Empty(t, m.AtRiskSubjects)
}

func TestComputeMetricsAverages(t *testing.T) {
	s := seriesWith([]student.Grade{
		grade("mat", 8.0, "2026-T1"),
		grade("len", 6.0, "2026-T1"),
		grade("mat", 4.0, "2025-T3"),
	}, nil)

	m := ComputeMetrics(s, DefaultThresholds())
	assert.InDelta(t, 7.0, m.CurrentAverage, 1e-9)
	assert.True(t, m.HasPrevious)
	assert.InDelta(t, 4.0, m.PreviousAverage, 1e-9)
	assert.InDelta(t, 3.0, m.Delta(), 1e-9)
}

func TestComputeMetricsSkipsNonFiniteValues(t *testing.T) {
	s := seriesWith([]student.Grade{
		grade("mat", 8.0, "2026-T1"),
		grade("mat", math.NaN(), "2026-T1"),
		grade("mat", math.Inf(1), "2026-T1"),
	}, nil)

	m := ComputeMetrics(s, DefaultThresholds())
	assert.InDelta(t, 8.0, m.CurrentAverage, 1e-9)
}

func TestComputeMetricsNoPreviousPeriod(t *testing.T) {
	s := seriesWith([]student.Grade{grade("mat", 7.0, "2026-T1")}, nil)
	s.PreviousPeriod = ""

	m := ComputeMetrics(s, DefaultThresholds())
	assert.False(t, m.HasPrevious)
	assert.Equal(t, TrendNoData, m.Trend)
	assert.Equal(t, 0.0, m.Delta())
}

func TestComputeMetricsAttendance(t *testing.T) {
	s := seriesWith(nil, []student.Attendance{
		attendance(true, false),
		attendance(true, false),
		attendance(false, true),
		attendance(false, false),
	})

	m := ComputeMetrics(s, DefaultThresholds())
	assert.Equal(t, 2, m.Absences, "justified absences still count")
	assert.InDelta(t, 50.0, m.AttendanceRate, 1e-9)
}

func TestComputeMetricsTrendBand(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		previous float64
		want     Trend
	}{
		{"clear improvement", 8.0, 6.0, TrendImproving},
		{"clear decline", 5.0, 7.5, TrendDeclining},
		{"inside band up", 7.0, 6.6, TrendStable},
		{"inside band down", 6.6, 7.0, TrendStable},
		{"exactly band edge", 7.0, 6.5, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seriesWith([]student.Grade{
				grade("mat", tt.current, "2026-T1"),
				grade("mat", tt.previous, "2025-T3"),
			}, nil)

			m := ComputeMetrics(s, DefaultThresholds())
			assert.Equal(t, tt.want, m.Trend)
		})
	}
}

func TestComputeMetricsAtRiskSubjects(t *testing.T) {
	s := seriesWith([]student.Grade{
		grade("mat", 4.0, "2026-T1"),
		grade("mat", 5.0, "2026-T1"), // mat mean 4.5, at risk
		grade("len", 9.0, "2026-T1"),
		grade("fis", 5.5, "2026-T1"), // at risk
		grade("qui", 6.0, "2026-T1"), // exactly passing, not at risk
	}, nil)

	m := ComputeMetrics(s, DefaultThresholds())
	assert.Equal(t, []string{"mat", "fis"}, m.AtRiskSubjects, "first-seen subject order")
}
