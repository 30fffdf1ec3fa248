package insight

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

// Thresholds hold the tunable limits the rule table evaluates against.
// Defaults match the source school system; administrators override individual
// values through a configuration document (see ApplyOverrides).
type Thresholds struct {
	// CriticalPerformance - averages strictly below this are critical.
	CriticalPerformance float64

	// LowPerformance - the passing mark; averages in
	// [CriticalPerformance, LowPerformance) are low. Also the per-subject
	// at-risk cutoff.
	LowPerformance float64

	// ExcellentPerformance - averages at or above this earn the excellence
	// wording in the neutral observation.
	ExcellentPerformance float64

	// CriticalAttendance - attendance rates strictly below this percentage
	// are critical.
	CriticalAttendance float64

	// LowAttendance - rates in [CriticalAttendance, LowAttendance] are low.
	LowAttendance float64

	// MaxCriticalAbsences - more absences than this is critical on its own.
	MaxCriticalAbsences int

	// MaxLowAbsences - more absences than this (up to the critical limit)
	// is a low-attendance signal.
	MaxLowAbsences int

	// MinNegativeTrend - a period-over-period drop larger than this fires
	// the negative-trend rule.
	MinNegativeTrend float64

	// MinImprovement - a gain larger than this fires the positive-trend rule.
	MinImprovement float64

	// MinSubjectsAtRisk - at-risk subject count at or above this fires the
	// subjects-at-risk rule.
	MinSubjectsAtRisk int

	// AnalysisWindowDays - how far back the sweep loads grade history.
	AnalysisWindowDays int

	// ReviewInterval - how often the periodic alert sweep runs.
	ReviewInterval time.Duration
}

// DefaultThresholds returns the fixed defaults from the source system.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalPerformance:  5.0,
		LowPerformance:       6.0,
		ExcellentPerformance: 8.5,
		CriticalAttendance:   70,
		LowAttendance:        80,
		MaxCriticalAbsences:  5,
		MaxLowAbsences:       3,
		MinNegativeTrend:     1.0,
		MinImprovement:       1.0,
		MinSubjectsAtRisk:    2,
		AnalysisWindowDays:   30,
		ReviewInterval:       6 * time.Hour,
	}
}

// Override keys recognized in the configuration document. The keys keep the
// Spanish names of the source system so existing configuration documents
// remain valid.
const (
	KeyCriticalPerformance  = "rendimientoCritico"
	KeyLowPerformance       = "rendimientoBajo"
	KeyExcellentPerformance = "rendimientoExcelente"
	KeyCriticalAttendance   = "asistenciaCritica"
	KeyLowAttendance        = "asistenciaBaja"
	KeyMaxCriticalAbsences  = "maxAusenciasCriticas"
	KeyMaxLowAbsences       = "maxAusenciasBajas"
	KeyMinNegativeTrend     = "tendenciaNegativaMinima"
	KeyMinImprovement       = "mejoraSignificativa"
	KeyMinSubjectsAtRisk    = "materiasEnRiesgoMinimas"
	KeyAnalysisWindowDays   = "diasAnalisisRendimiento"
	KeyReviewIntervalHours  = "frecuenciaRevisionAlertas"
)

// ApplyOverrides returns a copy of the thresholds with recognized numeric
// overrides applied. Unknown keys and non-numeric values are ignored, and
// missing keys keep their defaults, so a partial or malformed configuration
// document can never make the engine fail.
func (t Thresholds) ApplyOverrides(overrides map[string]any) Thresholds {
	out := t
	for key, raw := range overrides {
		val, ok := asFloat(raw)
		if !ok {
			continue
		}
		switch key {
		case KeyCriticalPerformance:
			out.CriticalPerformance = val
		case KeyLowPerformance:
			out.LowPerformance = val
		case KeyExcellentPerformance:
			out.ExcellentPerformance = val
		case KeyCriticalAttendance:
			out.CriticalAttendance = val
		case KeyLowAttendance:
			out.LowAttendance = val
		case KeyMaxCriticalAbsences:
			out.MaxCriticalAbsences = int(val)
		case KeyMaxLowAbsences:
			out.MaxLowAbsences = int(val)
		case KeyMinNegativeTrend:
			out.MinNegativeTrend = val
		case KeyMinImprovement:
			out.MinImprovement = val
		case KeyMinSubjectsAtRisk:
			out.MinSubjectsAtRisk = int(val)
		case KeyAnalysisWindowDays:
			out.AnalysisWindowDays = int(val)
		case KeyReviewIntervalHours:
			if val > 0 {
				out.ReviewInterval = time.Duration(val * float64(time.Hour))
			}
		}
	}
	return out
}

// asFloat widens the numeric types a decoded configuration document can carry.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
