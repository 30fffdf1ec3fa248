package notification

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config is the communication configuration the policy decides against.
type Config struct {
	// Enabled is the global alert-notifications flag. When off, nothing
	// is ever notified.
	Enabled bool

	// NotifyCritical / NotifyHigh gate notification by finding priority.
	NotifyCritical bool
	NotifyHigh     bool

	// AttendanceThreshold - critical-attendance findings with at least
	// this many absences notify regardless of priority gates.
	AttendanceThreshold int

	// PerformanceThreshold - performance findings with a current average
	// below this notify regardless of priority gates.
	PerformanceThreshold float64

	// Window is the local time-of-day range during which delivery is
	// permitted.
	Window SendWindow
}

// DefaultConfig returns the policy defaults of the source system.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		NotifyCritical:       true,
		NotifyHigh:           false,
		AttendanceThreshold:  5,
		PerformanceThreshold: 5.0,
		Window:               SendWindow{Start: Clock{8, 0}, End: Clock{20, 0}},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SEND WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// Clock is a local time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// HHMM returns the comparable integer form, hour*100 + minute.
func (c Clock) HHMM() int {
	return c.Hour*100 + c.Minute
}

// String returns the "HH:MM" form.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// SendWindow is the permitted local delivery range. Both boundaries are
// inclusive: with an 08:00-20:00 window, 07:59 is suppressed and 08:00 and
// 20:00 are allowed.
type SendWindow struct {
	Start Clock
	End   Clock
}

// Allows reports whether the local time of day of t falls inside the window.
// The check is a point-in-time policy decision, never a wait.
func (w SendWindow) Allows(t time.Time) bool {
	now := Clock{Hour: t.Hour(), Minute: t.Minute()}.HHMM()
	return now >= w.Start.HHMM() && now <= w.End.HHMM()
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy is the pure decision function set for guardian notifications:
// whether a finding notifies, through which channel, and with what message.
type Policy struct {
	config Config
}

// NewPolicy creates a Policy for the given configuration.
func NewPolicy(config Config) *Policy {
	return &Policy{config: config}
}

// Config returns the configuration the policy decides against.
func (p *Policy) Config() Config {
	return p.config
}

// ShouldNotify decides whether the finding warrants a guardian notification.
// With the global flag on, any one qualifying condition suffices: priority
// gates, the absence threshold for critical attendance, or the performance
// threshold for performance findings.
func (p *Policy) ShouldNotify(f insight.Finding) bool {
	if !p.config.Enabled {
		return false
	}

	switch {
	case f.Priority == insight.PriorityCritical && p.config.NotifyCritical:
		return true
	case f.Priority == insight.PriorityHigh && p.config.NotifyHigh:
		return true
	case f.Kind == insight.KindCriticalAttendance &&
		f.Metrics.Absences >= p.config.AttendanceThreshold:
		return true
	case f.Kind.IsPerformance() &&
		f.Metrics.CurrentAverage < p.config.PerformanceThreshold:
		return true
	default:
		return false
	}
}

// ChannelFor picks the delivery channel for a contact: the guardian's
// explicit preference when satisfiable, both channels when both endpoints
// exist, otherwise whichever endpoint is available, defaulting to email.
func (p *Policy) ChannelFor(contact Contact) Channel {
	switch contact.Preferred {
	case ChannelEmail:
		if contact.HasEmail() {
			return ChannelEmail
		}
	case ChannelSMS:
		if contact.HasPhone() {
			return ChannelSMS
		}
	case ChannelBoth:
		if contact.HasEmail() && contact.HasPhone() {
			return ChannelBoth
		}
	}

	switch {
	case contact.HasEmail() && contact.HasPhone():
		return ChannelBoth
	case contact.HasPhone():
		return ChannelSMS
	default:
		return ChannelEmail
	}
}

// Message is a rendered notification.
type Message struct {
	Title string
	Body  string
}

// Render produces the guardian-facing message for a finding. SMS delivery
// uses Body alone; email uses both fields.
func (p *Policy) Render(f insight.Finding) Message {
	return Message{
		Title: renderTitle(f),
		Body:  renderBody(f),
	}
}

// AllowedNow applies the send-window gate at the given instant. Callers must
// decide explicitly what to do with a suppressed delivery — skip or defer —
// the gate itself never queues.
func (p *Policy) AllowedNow(t time.Time) bool {
	return p.config.Window.Allows(t)
}

func renderTitle(f insight.Finding) string {
	switch f.Kind {
	case insight.KindCriticalPerformance:
		return "Alerta: rendimiento crítico"
	case insight.KindLowPerformance:
		return "Aviso: rendimiento bajo"
	case insight.KindCriticalAttendance:
		return "Alerta: asistencia crítica"
	case insight.KindLowAttendance:
		return "Aviso: asistencia baja"
	case insight.KindNegativeTrend:
		return "Aviso: tendencia negativa"
	case insight.KindPositiveTrend:
		return "Buena noticia: mejora académica"
	case insight.KindSubjectsAtRisk:
		return "Aviso: materias en riesgo"
	default:
		return "Seguimiento académico"
	}
}

func renderBody(f insight.Finding) string {
	var b strings.Builder
	b.WriteString(f.Message)
	if f.Kind.IsPerformance() {
		fmt.Fprintf(&b, " Promedio actual: %.1f.", f.Metrics.CurrentAverage)
		if f.Metrics.HasPrevious {
			fmt.Fprintf(&b, " Promedio anterior: %.1f.", f.Metrics.PreviousAverage)
		}
	}
	if f.Kind.IsAttendance() {
		fmt.Fprintf(&b, " Asistencia: %.0f%% (%d ausencias).",
			f.Metrics.AttendanceRate, f.Metrics.Absences)
	}
	if !f.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, " Fecha: %s.", timeutil.FormatSpanish(f.GeneratedAt))
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidClock - not a valid "HH:MM" time of day.
	ErrInvalidClock = errors.New("notification: invalid HH:MM clock value")
)
