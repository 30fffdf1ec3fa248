package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Turns findings into notification records and drives their delivery through
// the pending → sent | error state machine.
// ══════════════════════════════════════════════════════════════════════════════

// Outcome classifies what happened to one finding or delivery attempt.
type Outcome string

const (
	// OutcomeSent - delivered; the record is final.
	OutcomeSent Outcome = "sent"

	// OutcomeRetrying - the attempt failed but attempts remain; the record
	// stays pending for the retry sweep.
	OutcomeRetrying Outcome = "retrying"

	// OutcomeFailed - the attempt cap is spent; the record is a permanent
	// error.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped - policy, cooldown, or contact state decided against
	// notifying; no record was created.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeDeferred - outside the send window; the record exists and
	// stays pending until a sweep inside the window picks it up.
	OutcomeDeferred Outcome = "deferred"
)

// DispatchResult reports the outcome for one finding.
type DispatchResult struct {
	Outcome Outcome

	// Reason explains a skip in one word: "policy", "cooldown",
	// "disabled", "unreachable".
	Reason string

	// Record is the persisted record, nil when skipped.
	Record *notification.Record
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// SendTimeout bounds one channel delivery call.
	SendTimeout time.Duration

	// SweepLimit is the maximum number of records one retry sweep loads.
	SweepLimit int

	// SweepConcurrency bounds parallel deliveries during a sweep.
	SweepConcurrency int
}

// DefaultDispatcherConfig returns default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		SendTimeout:      10 * time.Second,
		SweepLimit:       100,
		SweepConcurrency: 4,
	}
}

// Dispatcher owns notification delivery. All state transitions for a given
// record happen under that record's lock, so concurrent sweeps and direct
// dispatches never interleave attempts on one record.
type Dispatcher struct {
	policy    *notification.Policy
	repo      notification.Repository
	directory notification.Directory
	email     notification.EmailSender
	sms       notification.SMSSender
	cooldown  notification.CooldownTracker
	logger    *slog.Logger
	config    DispatcherConfig
	now       func() time.Time

	locks recordLocks
}

// NewDispatcher creates a Dispatcher. The cooldown tracker may be nil, in
// which case no suppression window applies.
func NewDispatcher(
	policy *notification.Policy,
	repo notification.Repository,
	directory notification.Directory,
	email notification.EmailSender,
	sms notification.SMSSender,
	cooldown notification.CooldownTracker,
	logger *slog.Logger,
	config DispatcherConfig,
) *Dispatcher {
	if config.SendTimeout <= 0 {
		config = DefaultDispatcherConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		policy:    policy,
		repo:      repo,
		directory: directory,
		email:     email,
		sms:       sms,
		cooldown:  cooldown,
		logger:    logger,
		config:    config,
		// The send window is a school-local rule, so "now" must be in
		// the school timezone regardless of where the server runs.
		now: timeutil.Now,
		locks:     recordLocks{entries: make(map[notification.RecordID]*lockEntry)},
	}
}

// DispatchFinding decides whether a finding notifies and, when it does,
// creates the record and attempts delivery right away. Outside the send
// window the record is created but its first attempt waits for a sweep.
func (d *Dispatcher) DispatchFinding(ctx context.Context, f insight.Finding) (*DispatchResult, error) {
	if !d.policy.ShouldNotify(f) {
		return &DispatchResult{Outcome: OutcomeSkipped, Reason: "policy"}, nil
	}

	if d.cooldown != nil {
		suppressed, err := d.cooldown.InCooldown(ctx, f.StudentID, f.Kind)
		if err != nil {
			// Cooldown is advisory; a tracker outage must not block alerts.
			d.logger.Warn("cooldown check failed", "student_id", f.StudentID.String(), "error", err)
		} else if suppressed {
			return &DispatchResult{Outcome: OutcomeSkipped, Reason: "cooldown"}, nil
		}
	}

	contact, err := d.directory.ContactFor(ctx, f.StudentID)
	if err != nil {
		if errors.Is(err, notification.ErrContactNotFound) {
			return &DispatchResult{Outcome: OutcomeSkipped, Reason: "unreachable"}, nil
		}
		return nil, fmt.Errorf("alerting: resolve contact: %w", err)
	}
	if !contact.Enabled {
		return &DispatchResult{Outcome: OutcomeSkipped, Reason: "disabled"}, nil
	}
	if !contact.Reachable() {
		return &DispatchResult{Outcome: OutcomeSkipped, Reason: "unreachable"}, nil
	}

	msg := d.policy.Render(f)
	record, err := notification.NewRecord(notification.NewRecordParams{
		StudentID:   f.StudentID,
		FindingKind: f.Kind,
		Channel:     d.policy.ChannelFor(contact),
		Priority:    f.Priority,
		Title:       msg.Title,
		Body:        msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("alerting: create record: %w", err)
	}
	if err := d.repo.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("alerting: save record: %w", err)
	}

	if !d.policy.AllowedNow(d.now()) {
		d.logger.Info("delivery deferred outside send window",
			"record_id", record.ID.String(), "student_id", f.StudentID.String())
		return &DispatchResult{Outcome: OutcomeDeferred, Record: record}, nil
	}

	outcome, err := d.Attempt(ctx, record)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Outcome: outcome, Record: record}, nil
}

// Attempt performs one delivery attempt on a record. The attempt is
// accounted for before the send, so a crash mid-delivery can never grant
// extra tries. Attempts on one record are serialized.
func (d *Dispatcher) Attempt(ctx context.Context, record *notification.Record) (Outcome, error) {
	unlock := d.locks.lock(record.ID)
	defer unlock()

	if !record.CanAttempt() {
		switch record.State {
		case notification.StateSent:
			return OutcomeSent, nil
		default:
			return OutcomeFailed, nil
		}
	}

	if err := record.BeginAttempt(); err != nil {
		return "", fmt.Errorf("alerting: begin attempt: %w", err)
	}
	if err := d.repo.Save(ctx, record); err != nil {
		return "", fmt.Errorf("alerting: save record: %w", err)
	}

	sendErr := d.send(ctx, record)
	if sendErr == nil {
		if err := record.MarkSent(); err != nil {
			return "", fmt.Errorf("alerting: mark sent: %w", err)
		}
		if err := d.repo.Save(ctx, record); err != nil {
			return "", fmt.Errorf("alerting: save record: %w", err)
		}
		if d.cooldown != nil && record.FindingKind != "" {
			if err := d.cooldown.MarkDispatched(ctx, record.StudentID, record.FindingKind); err != nil {
				d.logger.Warn("cooldown mark failed", "record_id", record.ID.String(), "error", err)
			}
		}
		d.logger.Info("notification sent",
			"record_id", record.ID.String(),
			"student_id", record.StudentID.String(),
			"channel", record.Channel.String(),
			"attempts", record.Attempts)
		return OutcomeSent, nil
	}

	if err := record.MarkFailed(sendErr); err != nil {
		return "", fmt.Errorf("alerting: mark failed: %w", err)
	}
	if err := d.repo.Save(ctx, record); err != nil {
		return "", fmt.Errorf("alerting: save record: %w", err)
	}

	if record.State == notification.StateError {
		d.logger.Error("notification permanently failed",
			"record_id", record.ID.String(),
			"student_id", record.StudentID.String(),
			"attempts", record.Attempts,
			"error", sendErr)
		return OutcomeFailed, nil
	}

	d.logger.Warn("notification attempt failed",
		"record_id", record.ID.String(),
		"attempt", record.Attempts,
		"error", sendErr)
	return OutcomeRetrying, nil
}

// send delivers through every channel the record names. A "both" record
// succeeds only when every channel accepted the message; partial failures
// count as a failed attempt and retry on all channels.
func (d *Dispatcher) send(ctx context.Context, record *notification.Record) error {
	contact, err := d.directory.ContactFor(ctx, record.StudentID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	var errs []error
	if record.Channel.IncludesEmail() {
		if !contact.HasEmail() {
			errs = append(errs, errors.New("no email endpoint on file"))
		} else if err := d.email.SendEmail(sendCtx, contact.Email, record.Title, record.Body); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if record.Channel.IncludesSMS() {
		if !contact.HasPhone() {
			errs = append(errs, errors.New("no phone endpoint on file"))
		} else if err := d.sms.SendSMS(sendCtx, contact.Phone, record.Body); err != nil {
			errs = append(errs, fmt.Errorf("sms: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRY SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// SweepResult aggregates one retry sweep.
type SweepResult struct {
	Processed int
	Sent      int
	Retrying  int
	Failed    int
	Deferred  int
}

// RetrySweep re-attempts every retryable record. Records that exhausted
// their attempts are final and never show up here. Outside the send window
// the sweep is a no-op that reports everything deferred.
func (d *Dispatcher) RetrySweep(ctx context.Context) (SweepResult, error) {
	records, err := d.repo.ListRetryable(ctx, d.config.SweepLimit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("alerting: list retryable: %w", err)
	}

	result := SweepResult{Processed: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	if !d.policy.AllowedNow(d.now()) {
		result.Deferred = len(records)
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.SweepConcurrency)

	for _, record := range records {
		g.Go(func() error {
			outcome, err := d.Attempt(gctx, record)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeSent:
				result.Sent++
			case OutcomeRetrying:
				result.Retrying++
			case OutcomeFailed:
				result.Failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("alerting: retry sweep: %w", err)
	}

	d.logger.Info("retry sweep finished",
		"processed", result.Processed,
		"sent", result.Sent,
		"retrying", result.Retrying,
		"failed", result.Failed)
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD LOCKS
// ══════════════════════════════════════════════════════════════════════════════

// recordLocks hands out one mutex per in-flight record ID. Entries are
// reference counted and removed when the last holder unlocks.
type recordLocks struct {
	mu      sync.Mutex
	entries map[notification.RecordID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *recordLocks) lock(id notification.RecordID) (unlock func()) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
