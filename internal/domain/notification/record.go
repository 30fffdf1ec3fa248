// Package notification contains the guardian notification domain of Aula
// Insights: delivery records with their retry state machine, guardian
// contact policies, the notification decision policy, and the ports the
// dispatcher drives (channel senders, repositories, cooldown tracking).
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// RecordID identifies a notification record.
type RecordID string

// NewRecordID returns a fresh random record ID.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// IsValid reports whether the ID is non-empty.
func (id RecordID) IsValid() bool {
	return len(id) > 0
}

// String returns the string form of the ID.
func (id RecordID) String() string {
	return string(id)
}

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelBoth  Channel = "both"
)

// IsValid reports whether the channel is known.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelBoth:
		return true
	default:
		return false
	}
}

// String returns the string form of the channel.
func (c Channel) String() string {
	return string(c)
}

// IncludesEmail reports whether delivery goes out by email.
func (c Channel) IncludesEmail() bool {
	return c == ChannelEmail || c == ChannelBoth
}

// IncludesSMS reports whether delivery goes out by SMS.
func (c Channel) IncludesSMS() bool {
	return c == ChannelSMS || c == ChannelBoth
}

// State is the delivery state of a record.
type State string

const (
	// StatePending - created or failed with attempts remaining.
	StatePending State = "pending"

	// StateSent - delivered successfully. Terminal.
	StateSent State = "sent"

	// StateError - failed on the final allowed attempt. Terminal; excluded
	// from every future retry sweep.
	StateError State = "error"
)

// IsValid reports whether the state is known.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateSent, StateError:
		return true
	default:
		return false
	}
}

// IsFinal reports whether the state admits no further transitions.
func (s State) IsFinal() bool {
	return s == StateSent || s == StateError
}

// String returns the string form of the state.
func (s State) String() string {
	return string(s)
}

// MaxAttempts is the delivery attempt cap. Attempts counts every try,
// successful or not; the third failed try is terminal.
const MaxAttempts = 3

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Record is one notification owed to a guardian. Created pending; each
// delivery attempt either marks it sent or accrues a failure until the
// attempt cap turns it into a permanent error.
type Record struct {
	ID        RecordID
	StudentID student.ID

	// FindingKind ties the record back to the finding that produced it.
	// Empty for notifications not derived from a finding.
	FindingKind insight.Kind

	Channel  Channel
	Priority insight.Priority
	Title    string
	Body     string

	State State

	// Attempts counts delivery tries made so far, both failed and
	// successful. A record sent on the second try carries Attempts == 2.
	Attempts  int
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    *time.Time
}

// NewRecordParams carries the inputs for NewRecord.
type NewRecordParams struct {
	StudentID   student.ID
	FindingKind insight.Kind
	Channel     Channel
	Priority    insight.Priority
	Title       string
	Body        string
}

// NewRecord creates a pending record with validation.
func NewRecord(params NewRecordParams) (*Record, error) {
	if !params.StudentID.IsValid() {
		return nil, ErrInvalidRecordStudent
	}
	if !params.Channel.IsValid() {
		return nil, ErrInvalidChannel
	}
	if params.Body == "" {
		return nil, ErrEmptyBody
	}

	priority := params.Priority
	if !priority.IsValid() {
		priority = insight.PriorityMedium
	}

	now := time.Now().UTC()
	return &Record{
		ID:          NewRecordID(),
		StudentID:   params.StudentID,
		FindingKind: params.FindingKind,
		Channel:     params.Channel,
		Priority:    priority,
		Title:       params.Title,
		Body:        params.Body,
		State:       StatePending,
		Attempts:    0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// CanAttempt reports whether another delivery attempt is allowed.
func (r *Record) CanAttempt() bool {
	return r.State == StatePending && r.Attempts < MaxAttempts
}

// BeginAttempt consumes one delivery attempt. It must be called before the
// channel send so the attempt is accounted for even if the process dies
// mid-delivery.
func (r *Record) BeginAttempt() error {
	if r.State.IsFinal() {
		return ErrRecordFinal
	}
	if r.Attempts >= MaxAttempts {
		return ErrAttemptsExhausted
	}
	r.Attempts++
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSent records a successful delivery. Terminal.
func (r *Record) MarkSent() error {
	if r.State.IsFinal() {
		return ErrRecordFinal
	}
	now := time.Now().UTC()
	r.State = StateSent
	r.SentAt = &now
	r.UpdatedAt = now
	r.LastError = ""
	return nil
}

// MarkFailed records a failed attempt. The record stays pending while
// attempts remain and becomes a permanent error on the last one.
func (r *Record) MarkFailed(cause error) error {
	if r.State.IsFinal() {
		return ErrRecordFinal
	}
	if cause != nil {
		r.LastError = cause.Error()
	}
	if r.Attempts >= MaxAttempts {
		r.State = StateError
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.SentAt != nil {
		t := *r.SentAt
		clone.SentAt = &t
	}
	return &clone
}

// String returns a compact form for logging.
func (r *Record) String() string {
	return fmt.Sprintf("Record{ID: %s, Student: %s, Channel: %s, State: %s, Attempts: %d}",
		r.ID, r.StudentID, r.Channel, r.State, r.Attempts)
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores notification records.
type Repository interface {
	// Save inserts or updates a record.
	Save(ctx context.Context, record *Record) error

	// GetByID returns one record, or ErrRecordNotFound.
	GetByID(ctx context.Context, id RecordID) (*Record, error)

	// ListRetryable returns pending records with attempts remaining,
	// oldest first, up to limit.
	ListRetryable(ctx context.Context, limit int) ([]*Record, error)

	// ListByStudent returns the student's records, newest first.
	ListByStudent(ctx context.Context, id student.ID, limit int) ([]*Record, error)
}

// EmailSender delivers a rendered notification by email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a rendered notification by SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// CooldownTracker suppresses repeated alerts of one kind for one student
// inside a suppression window.
type CooldownTracker interface {
	// InCooldown reports whether the (student, kind) pair was dispatched
	// recently enough to suppress another notification.
	InCooldown(ctx context.Context, id student.ID, kind insight.Kind) (bool, error)

	// MarkDispatched starts the suppression window for the pair.
	MarkDispatched(ctx context.Context, id student.ID, kind insight.Kind) error
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidRecordStudent - empty student ID on a record.
	ErrInvalidRecordStudent = errors.New("notification: record student id cannot be empty")

	// ErrInvalidChannel - unknown delivery channel.
	ErrInvalidChannel = errors.New("notification: invalid channel")

	// ErrEmptyBody - empty message body.
	ErrEmptyBody = errors.New("notification: body cannot be empty")

	// ErrRecordFinal - transition attempted on a sent or errored record.
	ErrRecordFinal = errors.New("notification: record is in a final state")

	// ErrAttemptsExhausted - the attempt cap has been reached.
	ErrAttemptsExhausted = errors.New("notification: delivery attempts exhausted")

	// ErrRecordNotFound - no record with the given ID.
	ErrRecordNotFound = errors.New("notification: record not found")
)
