// Package insight implements the rule-based derivation engine of Aula
// Insights. It turns a student's raw grade and attendance series into
// prioritized findings: alerts for guardians and natural-language
// observations for the dashboard. Every function here is pure and total —
// absent or malformed input degrades to zero-valued metrics, never panics.
package insight

import (
	"fmt"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// KIND
// ══════════════════════════════════════════════════════════════════════════════

// Kind classifies a finding.
type Kind string

const (
	// KindCriticalPerformance - average below the critical threshold.
	KindCriticalPerformance Kind = "critical-performance"

	// KindLowPerformance - average between critical and passing thresholds.
	KindLowPerformance Kind = "low-performance"

	// KindCriticalAttendance - attendance rate or absence count past the critical limits.
	KindCriticalAttendance Kind = "critical-attendance"

	// KindLowAttendance - attendance in the warning band.
	KindLowAttendance Kind = "low-attendance"

	// KindNegativeTrend - average dropped significantly versus the previous period.
	KindNegativeTrend Kind = "negative-trend"

	// KindPositiveTrend - average improved significantly versus the previous period.
	KindPositiveTrend Kind = "positive-trend"

	// KindSubjectsAtRisk - two or more subjects under the passing mean.
	KindSubjectsAtRisk Kind = "subjects-at-risk"

	// KindNeutral - nothing remarkable; emitted so callers always have a headline.
	KindNeutral Kind = "neutral"
)

// IsValid reports whether the kind is one the engine emits.
func (k Kind) IsValid() bool {
	switch k {
	case KindCriticalPerformance, KindLowPerformance,
		KindCriticalAttendance, KindLowAttendance,
		KindNegativeTrend, KindPositiveTrend,
		KindSubjectsAtRisk, KindNeutral:
		return true
	default:
		return false
	}
}

// String returns the string form of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsPerformance reports whether the kind concerns grade performance.
func (k Kind) IsPerformance() bool {
	switch k {
	case KindCriticalPerformance, KindLowPerformance,
		KindNegativeTrend, KindPositiveTrend, KindSubjectsAtRisk:
		return true
	default:
		return false
	}
}

// IsAttendance reports whether the kind concerns attendance.
func (k Kind) IsAttendance() bool {
	return k == KindCriticalAttendance || k == KindLowAttendance
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority orders findings for headline selection and notification policy.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// IsValid reports whether the priority is in range.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String returns the string form of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TREND
// ══════════════════════════════════════════════════════════════════════════════

// Trend labels the period-over-period direction. Labels keep the Spanish
// wording of the source school system, which the UI renders verbatim.
type Trend string

const (
	// TrendImproving - current average more than half a point above previous.
	TrendImproving Trend = "mejora"

	// TrendDeclining - current average more than half a point below previous.
	TrendDeclining Trend = "descenso"

	// TrendStable - within half a point either way.
	TrendStable Trend = "estable"

	// TrendNoData - no previous average to compare against.
	TrendNoData Trend = "sin_datos"
)

// String returns the string form of the trend.
func (t Trend) String() string {
	return string(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics are the shared measurements computed once per evaluation and read
// by every rule predicate.
type Metrics struct {
	// CurrentAverage is the arithmetic mean of the current period's grades,
	// 0 when there are none. HasGrades distinguishes a true zero average
	// from an empty period.
	CurrentAverage float64
	HasGrades      bool

	// PreviousAverage is the mean of the previous period's grades.
	// HasPrevious is false when the period is unspecified or empty.
	PreviousAverage float64
	HasPrevious     bool

	// Absences counts attendance records with Present == false.
	Absences int

	// AttendanceRate is presentCount / totalCount × 100, or 100 when there
	// are no attendance records at all.
	AttendanceRate float64

	// Trend is the period-over-period direction label.
	Trend Trend

	// AtRiskSubjects lists subjects whose per-subject mean is below the
	// passing threshold, in first-seen order.
	AtRiskSubjects []string
}

// Delta returns CurrentAverage − PreviousAverage, or 0 when there is no
// previous average.
func (m Metrics) Delta() float64 {
	if !m.HasPrevious {
		return 0
	}
	return m.CurrentAverage - m.PreviousAverage
}

// ══════════════════════════════════════════════════════════════════════════════
// FINDING
// ══════════════════════════════════════════════════════════════════════════════

// Finding is one rule-derived conclusion about a student.
type Finding struct {
	StudentID   student.ID
	Kind        Kind
	Priority    Priority
	Message     string
	Metrics     Metrics
	GeneratedAt time.Time
}

// IsNeutral reports whether the finding is the no-rule-qualified fallback.
func (f Finding) IsNeutral() bool {
	return f.Kind == KindNeutral
}

// String returns a compact form for logging.
func (f Finding) String() string {
	return fmt.Sprintf("Finding{Student: %s, Kind: %s, Priority: %s}",
		f.StudentID, f.Kind, f.Priority)
}
