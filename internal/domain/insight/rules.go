package insight

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// RULE TABLE
// ══════════════════════════════════════════════════════════════════════════════

// rule pairs a predicate with a finding constructor. The table below is the
// single source of evaluation: rules are data, not branching logic, and every
// predicate is tested independently — a student can satisfy several at once.
type rule struct {
	kind     Kind
	priority Priority
	applies  func(Metrics, Thresholds) bool
	message  func(Metrics, Thresholds) string
}

// ruleTable is the canonical rule ordering. Headline selection breaks
// priority ties by this declaration order, so the order is part of the
// engine's contract and must not be rearranged casually:
//
//	critical-performance, critical-attendance, low-performance,
//	low-attendance, negative-trend, subjects-at-risk, positive-trend.
var ruleTable = []rule{
	{
		kind:     KindCriticalPerformance,
		priority: PriorityCritical,
		applies: func(m Metrics, th Thresholds) bool {
			return m.HasGrades && m.CurrentAverage < th.CriticalPerformance
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Rendimiento crítico: promedio actual %.1f, por debajo de %.1f.",
				m.CurrentAverage, th.CriticalPerformance)
		},
	},
	{
		kind:     KindCriticalAttendance,
		priority: PriorityCritical,
		applies: func(m Metrics, th Thresholds) bool {
			return m.AttendanceRate < th.CriticalAttendance || m.Absences > th.MaxCriticalAbsences
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Asistencia crítica: %.0f%% de asistencia con %d ausencias.",
				m.AttendanceRate, m.Absences)
		},
	},
	{
		kind:     KindLowPerformance,
		priority: PriorityHigh,
		applies: func(m Metrics, th Thresholds) bool {
			return m.HasGrades && m.CurrentAverage >= th.CriticalPerformance && m.CurrentAverage < th.LowPerformance
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Rendimiento bajo: promedio actual %.1f, por debajo del aprobado %.1f.",
				m.CurrentAverage, th.LowPerformance)
		},
	},
	{
		kind:     KindLowAttendance,
		priority: PriorityHigh,
		applies: func(m Metrics, th Thresholds) bool {
			rateLow := m.AttendanceRate >= th.CriticalAttendance && m.AttendanceRate <= th.LowAttendance
			absencesLow := m.Absences > th.MaxLowAbsences && m.Absences <= th.MaxCriticalAbsences
			return rateLow || absencesLow
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Asistencia baja: %.0f%% de asistencia con %d ausencias.",
				m.AttendanceRate, m.Absences)
		},
	},
	{
		kind:     KindNegativeTrend,
		priority: PriorityHigh,
		applies: func(m Metrics, th Thresholds) bool {
			return m.HasPrevious && m.PreviousAverage-m.CurrentAverage > th.MinNegativeTrend
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Tendencia negativa: el promedio bajó de %.1f a %.1f.",
				m.PreviousAverage, m.CurrentAverage)
		},
	},
	{
		kind:     KindSubjectsAtRisk,
		priority: PriorityMedium,
		applies: func(m Metrics, th Thresholds) bool {
			return len(m.AtRiskSubjects) >= th.MinSubjectsAtRisk
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Materias en riesgo: %s.", strings.Join(m.AtRiskSubjects, ", "))
		},
	},
	{
		kind:     KindPositiveTrend,
		priority: PriorityMedium,
		applies: func(m Metrics, th Thresholds) bool {
			return m.HasPrevious && m.CurrentAverage-m.PreviousAverage > th.MinImprovement
		},
		message: func(m Metrics, th Thresholds) string {
			return fmt.Sprintf("Mejora significativa: el promedio subió de %.1f a %.1f.",
				m.PreviousAverage, m.CurrentAverage)
		},
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine evaluates the rule table over a student series. The zero-value
// configuration is not usable; construct with NewEngine.
type Engine struct {
	thresholds Thresholds
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds replaces the default threshold table.
func WithThresholds(th Thresholds) Option {
	return func(e *Engine) { e.thresholds = th }
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine with default thresholds unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		thresholds: DefaultThresholds(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the threshold table the engine evaluates against.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate runs every rule against the series' metrics and returns all
// qualifying findings in canonical table order. When no rule qualifies it
// returns exactly one neutral finding, so callers always have a headline to
// render. Evaluate never fails and never returns an empty slice.
func (e *Engine) Evaluate(series student.Series) []Finding {
	metrics := ComputeMetrics(series, e.thresholds)
	now := e.now().UTC()

	var findings []Finding
	for _, r := range ruleTable {
		if !r.applies(metrics, e.thresholds) {
			continue
		}
		findings = append(findings, Finding{
			StudentID:   series.StudentID,
			Kind:        r.kind,
			Priority:    r.priority,
			Message:     r.message(metrics, e.thresholds),
			Metrics:     metrics,
			GeneratedAt: now,
		})
	}

	if len(findings) == 0 {
		findings = append(findings, e.neutralFinding(series.StudentID, metrics, now))
	}
	return findings
}

// Headline returns the single highest-priority finding for the series.
// Ties resolve to the earlier rule in the canonical table order.
func (e *Engine) Headline(series student.Series) Finding {
	return SelectHeadline(e.Evaluate(series))
}

// SelectHeadline picks the highest-priority finding from an Evaluate result.
// The sort is stable, so equal priorities keep the canonical table order.
func SelectHeadline(findings []Finding) Finding {
	if len(findings) == 0 {
		return Finding{Kind: KindNeutral, Priority: PriorityLow}
	}
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted[0]
}

// neutralFinding builds the fallback observation for an unremarkable series.
func (e *Engine) neutralFinding(id student.ID, m Metrics, now time.Time) Finding {
	msg := fmt.Sprintf("Sin novedades: promedio %.1f, asistencia %.0f%%.",
		m.CurrentAverage, m.AttendanceRate)
	if m.CurrentAverage >= e.thresholds.ExcellentPerformance {
		msg = fmt.Sprintf("Rendimiento excelente: promedio %.1f, asistencia %.0f%%.",
			m.CurrentAverage, m.AttendanceRate)
	}
	return Finding{
		StudentID:   id,
		Kind:        KindNeutral,
		Priority:    PriorityLow,
		Message:     msg,
		Metrics:     m,
		GeneratedAt: now,
	}
}
