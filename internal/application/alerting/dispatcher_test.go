package alerting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memRepo struct {
	mu      sync.Mutex
	records map[notification.RecordID]*notification.Record
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[notification.RecordID]*notification.Record)}
}

func (r *memRepo) Save(_ context.Context, record *notification.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id notification.RecordID) (*notification.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.Clone(), nil
	}
	return nil, notification.ErrRecordNotFound
}

func (r *memRepo) ListRetryable(_ context.Context, limit int) ([]*notification.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notification.Record
	for _, rec := range r.records {
		if rec.State == notification.StatePending && rec.Attempts < notification.MaxAttempts {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListByStudent(_ context.Context, id student.ID, limit int) ([]*notification.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notification.Record
	for _, rec := range r.records {
		if rec.StudentID == id {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memDirectory struct {
	contacts map[student.ID]notification.Contact
}

func (d *memDirectory) ContactFor(_ context.Context, id student.ID) (notification.Contact, error) {
	if c, ok := d.contacts[id]; ok {
		return c, nil
	}
	return notification.Contact{}, notification.ErrContactNotFound
}

// scriptedSender fails the first failures calls, then succeeds.
type scriptedSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	lastTo   string
	lastBody string
}

func (s *scriptedSender) attempt(to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastTo = to
	s.lastBody = body
	if s.calls <= s.failures {
		return errors.New("gateway unavailable")
	}
	return nil
}

func (s *scriptedSender) SendEmail(_ context.Context, to, _, body string) error {
	return s.attempt(to, body)
}

func (s *scriptedSender) SendSMS(_ context.Context, to, body string) error {
	return s.attempt(to, body)
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memCooldown struct {
	mu     sync.Mutex
	active map[string]bool
	marks  int
}

func newMemCooldown() *memCooldown {
	return &memCooldown{active: make(map[string]bool)}
}

func (c *memCooldown) key(id student.ID, kind insight.Kind) string {
	return id.String() + "/" + kind.String()
}

func (c *memCooldown) InCooldown(_ context.Context, id student.ID, kind insight.Kind) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[c.key(id, kind)], nil
}

func (c *memCooldown) MarkDispatched(_ context.Context, id student.ID, kind insight.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[c.key(id, kind)] = true
	c.marks++
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	dispatcher *Dispatcher
	repo       *memRepo
	email      *scriptedSender
	sms        *scriptedSender
	cooldown   *memCooldown
}

func newFixture(t *testing.T, mutate func(*notification.Config)) *fixture {
	t.Helper()

	config := notification.DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}

	f := &fixture{
		repo:     newMemRepo(),
		email:    &scriptedSender{},
		sms:      &scriptedSender{},
		cooldown: newMemCooldown(),
	}
	directory := &memDirectory{contacts: map[student.ID]notification.Contact{
		"stu-1": {StudentID: "stu-1", Email: "tutor@example.es", Enabled: true},
		"stu-2": {StudentID: "stu-2", Phone: "+34600111222", Enabled: true},
		"stu-off": {StudentID: "stu-off", Email: "x@example.es", Enabled: false},
	}}
	f.dispatcher = NewDispatcher(
		notification.NewPolicy(config),
		f.repo, directory, f.email, f.sms, f.cooldown,
		nil, DefaultDispatcherConfig(),
	)
	// Noon local time is always inside the default window.
	f.dispatcher.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	}
	return f
}

func criticalFinding(id student.ID) insight.Finding {
	return insight.Finding{
		StudentID: id,
		Kind:      insight.KindCriticalPerformance,
		Priority:  insight.PriorityCritical,
		Message:   "Rendimiento crítico: promedio actual 4.0, por debajo de 5.0.",
		Metrics:   insight.Metrics{CurrentAverage: 4.0, HasGrades: true},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestDispatchSendsImmediately(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSent, result.Outcome)
	require.NotNil(t, result.Record)
	assert.Equal(t, notification.StateSent, result.Record.State)
	assert.Equal(t, 1, result.Record.Attempts)
	assert.Equal(t, "tutor@example.es", f.email.lastTo)
	assert.Equal(t, 0, f.sms.callCount(), "email-only contact never hits the SMS gateway")
	assert.Equal(t, 1, f.cooldown.marks)
}

func TestDispatchSkippedByPolicy(t *testing.T) {
	f := newFixture(t, func(c *notification.Config) { c.Enabled = false })

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, "policy", result.Reason)
	assert.Nil(t, result.Record)
	assert.Equal(t, 0, f.email.callCount())
}

func TestDispatchSkippedByCooldown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.cooldown.MarkDispatched(context.Background(), "stu-1", insight.KindCriticalPerformance))

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, "cooldown", result.Reason)
}

func TestDispatchSkippedWhenContactMissingOrDisabled(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-unknown"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, "unreachable", result.Reason)

	result, err = f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-off"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Equal(t, "disabled", result.Reason)
}

func TestDispatchDeferredOutsideWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.now = func() time.Time {
		return time.Date(2026, 3, 10, 7, 59, 0, 0, time.Local)
	}

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeferred, result.Outcome)
	require.NotNil(t, result.Record)
	assert.Equal(t, notification.StatePending, result.Record.State)
	assert.Equal(t, 0, result.Record.Attempts, "no attempt outside the window")
	assert.Equal(t, 0, f.email.callCount())

	// The deferred record is what the next in-window sweep picks up.
	retryable, err := f.repo.ListRetryable(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, retryable, 1)
}

func TestDispatchSMSChannel(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-2"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, notification.ChannelSMS, result.Record.Channel)
	assert.Equal(t, "+34600111222", f.sms.lastTo)
	assert.Equal(t, 0, f.email.callCount())
}

func TestAttemptSucceedsOnSecondTry(t *testing.T) {
	f := newFixture(t, nil)
	f.email.failures = 1

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, result.Outcome)

	sweep, err := f.dispatcher.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Processed)
	assert.Equal(t, 1, sweep.Sent)

	stored, err := f.repo.GetByID(context.Background(), result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StateSent, stored.State)
	assert.Equal(t, 2, stored.Attempts, "the successful try counts too")
	assert.Empty(t, stored.LastError)
}

func TestThreeFailuresAreTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.email.failures = 10

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, result.Outcome)

	sweep, err := f.dispatcher.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Retrying)

	sweep, err = f.dispatcher.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Failed)

	stored, err := f.repo.GetByID(context.Background(), result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StateError, stored.State)
	assert.Equal(t, notification.MaxAttempts, stored.Attempts)
	assert.NotEmpty(t, stored.LastError)

	// A fourth sweep never sees the errored record again.
	sweep, err = f.dispatcher.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sweep.Processed)
	assert.Equal(t, 3, f.email.callCount())
}

func TestRetrySweepDefersOutsideWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.email.failures = 1

	_, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-1"))
	require.NoError(t, err)

	f.dispatcher.now = func() time.Time {
		return time.Date(2026, 3, 10, 22, 0, 0, 0, time.Local)
	}
	sweep, err := f.dispatcher.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Processed)
	assert.Equal(t, 1, sweep.Deferred)
	assert.Equal(t, 1, f.email.callCount(), "no delivery outside the window")
}

func TestBothChannelPartialFailureRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.sms.failures = 10

	directory := &memDirectory{contacts: map[student.ID]notification.Contact{
		"stu-3": {StudentID: "stu-3", Email: "t@example.es", Phone: "+34600", Enabled: true},
	}}
	f.dispatcher.directory = directory

	result, err := f.dispatcher.DispatchFinding(context.Background(), criticalFinding("stu-3"))
	require.NoError(t, err)

	assert.Equal(t, notification.ChannelBoth, result.Record.Channel)
	assert.Equal(t, OutcomeRetrying, result.Outcome, "partial failure still counts as failed")
	assert.Equal(t, 1, f.email.callCount())
	assert.Equal(t, 1, f.sms.callCount())
}
