package postgres

import (
	"context"
	"fmt"

	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTACT DIRECTORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ContactRepository implements notification.Directory for PostgreSQL.
type ContactRepository struct {
	conn *Connection
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(conn *Connection) *ContactRepository {
	return &ContactRepository{conn: conn}
}

// ContactFor returns the guardian contact for a student.
func (r *ContactRepository) ContactFor(ctx context.Context, id student.ID) (notification.Contact, error) {
	query := `
		SELECT student_id, email, phone, preferred_channel, enabled
		FROM guardian_contacts
		WHERE student_id = $1
	`

	var contact notification.Contact
	var studentID, preferred string
	err := r.conn.QueryRow(ctx, query, id.String()).Scan(
		&studentID, &contact.Email, &contact.Phone, &preferred, &contact.Enabled,
	)
	if err != nil {
		if IsNoRows(err) {
			return notification.Contact{}, notification.ErrContactNotFound
		}
		return notification.Contact{}, fmt.Errorf("failed to get contact: %w", err)
	}

	contact.StudentID = student.ID(studentID)
	contact.Preferred = notification.Channel(preferred)
	return contact, nil
}

// Upsert stores a guardian contact.
func (r *ContactRepository) Upsert(ctx context.Context, contact notification.Contact) error {
	query := `
		INSERT INTO guardian_contacts (student_id, email, phone, preferred_channel, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (student_id) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			preferred_channel = EXCLUDED.preferred_channel,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`

	_, err := r.conn.Exec(ctx, query,
		contact.StudentID.String(),
		contact.Email,
		contact.Phone,
		contact.Preferred.String(),
		contact.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}
