package notification

import (
	"context"
	"errors"

	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTACT
// ══════════════════════════════════════════════════════════════════════════════

// Contact is the guardian contact record for one student. Read-only input
// to the notification policy; the directory that produces it is external.
type Contact struct {
	StudentID student.ID

	// Email and Phone are the guardian's reachable endpoints; either may
	// be empty.
	Email string
	Phone string

	// Preferred is the guardian's explicit channel choice, empty when the
	// guardian expressed none.
	Preferred Channel

	// Enabled gates all notifications for this student.
	Enabled bool
}

// HasEmail reports whether an email endpoint is configured.
func (c Contact) HasEmail() bool {
	return c.Email != ""
}

// HasPhone reports whether an SMS endpoint is configured.
func (c Contact) HasPhone() bool {
	return c.Phone != ""
}

// Reachable reports whether any endpoint is configured.
func (c Contact) Reachable() bool {
	return c.HasEmail() || c.HasPhone()
}

// Directory resolves guardian contacts by student.
type Directory interface {
	// ContactFor returns the contact for a student, or ErrContactNotFound.
	ContactFor(ctx context.Context, id student.ID) (Contact, error)
}

var (
	// ErrContactNotFound - no guardian contact on file for the student.
	ErrContactNotFound = errors.New("notification: contact not found")
)
