package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
)

func finding(kind insight.Kind, priority insight.Priority, m insight.Metrics) insight.Finding {
	return insight.Finding{
		StudentID: "stu-1",
		Kind:      kind,
		Priority:  priority,
		Message:   "mensaje",
		Metrics:   m,
	}
}

func localTime(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 30, 0, time.Local)
}

func TestShouldNotifyGlobalFlag(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false
	p := NewPolicy(config)

	f := finding(insight.KindCriticalPerformance, insight.PriorityCritical,
		insight.Metrics{CurrentAverage: 2.0, HasGrades: true})
	assert.False(t, p.ShouldNotify(f), "global flag off suppresses everything")
}

func TestShouldNotifyPriorityGates(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	critical := finding(insight.KindCriticalAttendance, insight.PriorityCritical,
		insight.Metrics{Absences: 2, AttendanceRate: 90})
	assert.True(t, p.ShouldNotify(critical))

	// High-priority findings are gated off by default; a low-attendance
	// finding with unremarkable metrics stays silent.
	high := finding(insight.KindLowAttendance, insight.PriorityHigh,
		insight.Metrics{Absences: 4, AttendanceRate: 78, CurrentAverage: 8.0, HasGrades: true})
	assert.False(t, p.ShouldNotify(high))

	config := DefaultConfig()
	config.NotifyHigh = true
	assert.True(t, NewPolicy(config).ShouldNotify(high))
}

func TestShouldNotifyAttendanceThreshold(t *testing.T) {
	config := DefaultConfig()
	config.NotifyCritical = false
	p := NewPolicy(config)

	f := finding(insight.KindCriticalAttendance, insight.PriorityCritical,
		insight.Metrics{Absences: 6, AttendanceRate: 65, CurrentAverage: 8.0, HasGrades: true})
	assert.True(t, p.ShouldNotify(f), "absence count qualifies on its own")

	f.Metrics.Absences = 4
	assert.False(t, p.ShouldNotify(f))
}

func TestShouldNotifyPerformanceThreshold(t *testing.T) {
	config := DefaultConfig()
	config.NotifyCritical = false
	p := NewPolicy(config)

	f := finding(insight.KindCriticalPerformance, insight.PriorityCritical,
		insight.Metrics{CurrentAverage: 4.5, HasGrades: true})
	assert.True(t, p.ShouldNotify(f), "performance average qualifies on its own")

	f.Metrics.CurrentAverage = 5.5
	assert.False(t, p.ShouldNotify(f))

	// The performance threshold never applies to attendance findings.
	a := finding(insight.KindLowAttendance, insight.PriorityHigh,
		insight.Metrics{CurrentAverage: 4.5, AttendanceRate: 78, Absences: 4, HasGrades: true})
	assert.False(t, p.ShouldNotify(a))
}

func TestChannelForPreference(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	tests := []struct {
		name    string
		contact Contact
		want    Channel
	}{
		{"preference honored", Contact{Email: "g@x.es", Phone: "+34600", Preferred: ChannelSMS}, ChannelSMS},
		{"preference unsatisfiable", Contact{Email: "g@x.es", Preferred: ChannelSMS}, ChannelEmail},
		{"both endpoints no preference", Contact{Email: "g@x.es", Phone: "+34600"}, ChannelBoth},
		{"both preferred satisfied", Contact{Email: "g@x.es", Phone: "+34600", Preferred: ChannelBoth}, ChannelBoth},
		{"both preferred missing phone", Contact{Email: "g@x.es", Preferred: ChannelBoth}, ChannelEmail},
		{"phone only", Contact{Phone: "+34600"}, ChannelSMS},
		{"nothing at all", Contact{}, ChannelEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ChannelFor(tt.contact))
		})
	}
}

func TestRenderPerformanceBody(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	msg := p.Render(finding(insight.KindCriticalPerformance, insight.PriorityCritical,
		insight.Metrics{CurrentAverage: 4.2, PreviousAverage: 6.1, HasPrevious: true, HasGrades: true}))

	assert.Equal(t, "Alerta: rendimiento crítico", msg.Title)
	assert.Contains(t, msg.Body, "Promedio actual: 4.2")
	assert.Contains(t, msg.Body, "Promedio anterior: 6.1")
}

func TestRenderAttendanceBody(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	msg := p.Render(finding(insight.KindCriticalAttendance, insight.PriorityCritical,
		insight.Metrics{AttendanceRate: 65, Absences: 7}))

	assert.Equal(t, "Alerta: asistencia crítica", msg.Title)
	assert.Contains(t, msg.Body, "65% (7 ausencias)")
}

func TestSendWindowBoundaries(t *testing.T) {
	p := NewPolicy(DefaultConfig()) // 08:00-20:00

	assert.False(t, p.AllowedNow(localTime(7, 59)))
	assert.True(t, p.AllowedNow(localTime(8, 0)), "start boundary is inclusive")
	assert.True(t, p.AllowedNow(localTime(13, 30)))
	assert.True(t, p.AllowedNow(localTime(20, 0)), "end boundary is inclusive")
	assert.False(t, p.AllowedNow(localTime(20, 1)))
	assert.False(t, p.AllowedNow(localTime(23, 59)))
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 8, Minute: 30}, c)
	assert.Equal(t, 830, c.HHMM())
	assert.Equal(t, "08:30", c.String())

	for _, bad := range []string{"", "8", "25:00", "08:60", "ab:cd", "08:30:00"} {
		_, err := ParseClock(bad)
		assert.ErrorIs(t, err, ErrInvalidClock, "input %q", bad)
	}
}
