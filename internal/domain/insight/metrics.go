package insight

import (
	"math"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// trendBand is the half-point dead zone around zero delta inside which the
// trend is reported as stable.
const trendBand = 0.5

// ComputeMetrics derives the shared measurements for one evaluation.
// It is pure and total: any series, including the zero value, yields
// well-defined metrics.
func ComputeMetrics(series student.Series, th Thresholds) Metrics {
	m := Metrics{
		AttendanceRate: 100,
		Trend:          TrendNoData,
	}

	current := series.GradesIn(series.CurrentPeriod)
	m.CurrentAverage = meanOf(current)
	m.HasGrades = len(current) > 0

	if !series.PreviousPeriod.IsZero() {
		previous := series.GradesIn(series.PreviousPeriod)
		if len(previous) > 0 {
			m.PreviousAverage = meanOf(previous)
			m.HasPrevious = true
		}
	}

	if len(series.Attendance) > 0 {
		present := 0
		for _, a := range series.Attendance {
			if a.Present {
				present++
			} else {
				m.Absences++
			}
		}
		m.AttendanceRate = float64(present) / float64(len(series.Attendance)) * 100
	}

	if m.HasPrevious {
		switch delta := m.CurrentAverage - m.PreviousAverage; {
		case delta > trendBand:
			m.Trend = TrendImproving
		case delta < -trendBand:
			m.Trend = TrendDeclining
		default:
			m.Trend = TrendStable
		}
	}

	m.AtRiskSubjects = atRiskSubjects(current, th.LowPerformance)

	return m
}

// meanOf returns the arithmetic mean of the grade values, 0 for an empty or
// degenerate slice.
func meanOf(grades []student.Grade) float64 {
	if len(grades) == 0 {
		return 0
	}
	var sum float64
	count := 0
	for _, g := range grades {
		if math.IsNaN(g.Value) || math.IsInf(g.Value, 0) {
			continue
		}
		sum += g.Value
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// atRiskSubjects returns the subjects whose mean is below the passing
// threshold, in the order each subject first appears in the series.
func atRiskSubjects(grades []student.Grade, passing float64) []string {
	if len(grades) == 0 {
		return nil
	}

	type acc struct {
		sum   float64
		count int
	}
	order := make([]string, 0, 4)
	bySubject := make(map[string]*acc, 4)

	for _, g := range grades {
		if g.Subject == "" {
			continue
		}
		a, ok := bySubject[g.Subject]
		if !ok {
			a = &acc{}
			bySubject[g.Subject] = a
			order = append(order, g.Subject)
		}
		a.sum += g.Value
		a.count++
	}

	var risky []string
	for _, subject := range order {
		a := bySubject[subject]
		if a.count > 0 && a.sum/float64(a.count) < passing {
			risky = append(risky, subject)
		}
	}
	return risky
}
