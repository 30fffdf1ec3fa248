package insight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

func fixedEngine() *Engine {
	return NewEngine(WithClock(func() time.Time {
		return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	}))
}

func kindsOf(findings []Finding) []Kind {
	kinds := make([]Kind, len(findings))
	for i, f := range findings {
		kinds[i] = f.Kind
	}
	return kinds
}

func absences(n, total int) []student.Attendance {
	out := make([]student.Attendance, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, attendance(i >= n, false))
	}
	return out
}

func TestEvaluateEmptySeriesIsNeutral(t *testing.T) {
	findings := fixedEngine().Evaluate(student.Series{StudentID: "stu-1"})

	require.Len(t, findings, 1)
	assert.True(t, findings[0].IsNeutral())
	assert.Equal(t, PriorityLow, findings[0].Priority)
	assert.Equal(t, student.ID("stu-1"), findings[0].StudentID)
}

func TestEvaluateCriticalPerformance(t *testing.T) {
	s := seriesWith([]student.Grade{grade("mat", 4.0, "2026-T1")}, nil)

	findings := fixedEngine().Evaluate(s)
	require.Len(t, findings, 1)
	assert.Equal(t, KindCriticalPerformance, findings[0].Kind)
	assert.Equal(t, PriorityCritical, findings[0].Priority)
	assert.Contains(t, findings[0].Message, "Rendimiento crítico")
}

func TestEvaluateLowPerformanceBoundaries(t *testing.T) {
	tests := []struct {
		avg  float64
		want Kind
	}{
		{4.9, KindCriticalPerformance},
		{5.0, KindLowPerformance}, // exactly critical threshold is low, not critical
		{5.9, KindLowPerformance},
		{6.0, KindNeutral}, // exactly passing
	}

	for _, tt := range tests {
		s := seriesWith([]student.Grade{grade("mat", tt.avg, "2026-T1")}, nil)
		findings := fixedEngine().Evaluate(s)
		require.Len(t, findings, 1, "avg %.1f", tt.avg)
		assert.Equal(t, tt.want, findings[0].Kind, "avg %.1f", tt.avg)
	}
}

// A student with seven absences in twenty sessions has rate 65 and absences
// above the critical cap: only the critical attendance rule fires, never the
// low one on top of it.
func TestEvaluateCriticalAttendanceExcludesLow(t *testing.T) {
	s := seriesWith([]student.Grade{grade("mat", 7.0, "2026-T1")}, absences(7, 20))

	findings := fixedEngine().Evaluate(s)
	require.Len(t, findings, 1)
	assert.Equal(t, KindCriticalAttendance, findings[0].Kind)
}

func TestEvaluateLowAttendanceBand(t *testing.T) {
	// Four absences in eighteen sessions: rate ≈ 77.8%, inside the low band.
	s := seriesWith([]student.Grade{grade("mat", 7.0, "2026-T1")}, absences(4, 18))

	findings := fixedEngine().Evaluate(s)
	require.Len(t, findings, 1)
	assert.Equal(t, KindLowAttendance, findings[0].Kind)
	assert.Equal(t, PriorityHigh, findings[0].Priority)
}

func TestEvaluateStacksIndependentRules(t *testing.T) {
	// Average 4.0 after a 6.0 previous period: critical performance plus a
	// negative trend, evaluated independently.
	s := seriesWith([]student.Grade{
		grade("mat", 4.0, "2026-T1"),
		grade("mat", 6.0, "2025-T3"),
	}, nil)

	findings := fixedEngine().Evaluate(s)
	assert.Equal(t,
		[]Kind{KindCriticalPerformance, KindNegativeTrend},
		kindsOf(findings))
}

func TestEvaluateSubjectsAtRiskThreshold(t *testing.T) {
	// Two failing subjects among passing ones reaches the minimum count.
	s := seriesWith([]student.Grade{
		grade("mat", 4.0, "2026-T1"),
		grade("fis", 5.0, "2026-T1"),
		grade("len", 9.0, "2026-T1"),
		grade("his", 9.0, "2026-T1"),
		grade("art", 9.0, "2026-T1"),
	}, nil)

	findings := fixedEngine().Evaluate(s)
	require.Len(t, findings, 1)
	assert.Equal(t, KindSubjectsAtRisk, findings[0].Kind)
	assert.Contains(t, findings[0].Message, "mat, fis")
}

func TestEvaluatePositiveTrend(t *testing.T) {
	s := seriesWith([]student.Grade{
		grade("mat", 8.5, "2026-T1"),
		grade("mat", 7.0, "2025-T3"),
	}, nil)

	findings := fixedEngine().Evaluate(s)
	require.Len(t, findings, 1)
	assert.Equal(t, KindPositiveTrend, findings[0].Kind)
	assert.Equal(t, PriorityMedium, findings[0].Priority)
}

func TestEvaluateNeutralExcellence(t *testing.T) {
	s := seriesWith([]student.Grade{grade("mat", 9.2, "2026-T1")}, nil)

	findings := fixedEngine().Evaluate(s)
	require.Len(t, findings, 1)
	assert.True(t, findings[0].IsNeutral())
	assert.Contains(t, findings[0].Message, "Rendimiento excelente")
}

func TestHeadlinePrefersCriticalAndTableOrder(t *testing.T) {
	// Critical performance and critical attendance at once: the headline
	// is the earlier rule in table order.
	s := seriesWith([]student.Grade{grade("mat", 3.0, "2026-T1")}, absences(8, 20))

	headline := fixedEngine().Headline(s)
	assert.Equal(t, KindCriticalPerformance, headline.Kind)
	assert.Equal(t, PriorityCritical, headline.Priority)
}

func TestSelectHeadlineEmpty(t *testing.T) {
	headline := SelectHeadline(nil)
	assert.True(t, headline.IsNeutral())
}

func TestEvaluateUsesClock(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	e := NewEngine(WithClock(func() time.Time { return at }))

	findings := e.Evaluate(student.Series{StudentID: "stu-1"})
	require.Len(t, findings, 1)
	assert.Equal(t, at, findings[0].GeneratedAt)
}

func TestApplyOverrides(t *testing.T) {
	th := DefaultThresholds().ApplyOverrides(map[string]any{
		KeyCriticalPerformance: 4.0,
		KeyMaxLowAbsences:      float64(2),
		KeyReviewIntervalHours: 12,
		"desconocido":          99,
		KeyLowPerformance:      "not a number",
	})

	assert.Equal(t, 4.0, th.CriticalPerformance)
	assert.Equal(t, 2, th.MaxLowAbsences)
	assert.Equal(t, 12*time.Hour, th.ReviewInterval)
	assert.Equal(t, 6.0, th.LowPerformance, "malformed values keep the default")
}
