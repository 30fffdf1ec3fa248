package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/notification"
	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// NotificationRepository implements notification.Repository for PostgreSQL.
type NotificationRepository struct {
	conn *Connection
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

const recordColumns = `
	id, student_id, finding_kind, channel, priority, title, body,
	state, attempts, last_error, created_at, updated_at, sent_at
`

// Save inserts or updates a record.
func (r *NotificationRepository) Save(ctx context.Context, record *notification.Record) error {
	query := `
		INSERT INTO notification_records (
			id, student_id, finding_kind, channel, priority, title, body,
			state, attempts, last_error, created_at, updated_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at,
			sent_at = EXCLUDED.sent_at
	`

	_, err := r.conn.Exec(ctx, query,
		record.ID.String(),
		record.StudentID.String(),
		record.FindingKind.String(),
		record.Channel.String(),
		int(record.Priority),
		record.Title,
		record.Body,
		record.State.String(),
		record.Attempts,
		record.LastError,
		record.CreatedAt,
		record.UpdatedAt,
		record.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save notification record: %w", err)
	}
	return nil
}

// GetByID returns one record.
func (r *NotificationRepository) GetByID(ctx context.Context, id notification.RecordID) (*notification.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM notification_records WHERE id = $1`

	record, err := scanRecord(r.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, notification.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}
	return record, nil
}

// ListRetryable returns pending records with attempts remaining, oldest
// first.
func (r *NotificationRepository) ListRetryable(ctx context.Context, limit int) ([]*notification.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM notification_records
		WHERE state = 'pending' AND attempts < $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, notification.MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListByStudent returns the student's records, newest first.
func (r *NotificationRepository) ListByStudent(ctx context.Context, id student.ID, limit int) ([]*notification.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM notification_records
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, id.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list student records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// DeleteOlderThan removes finalized records created before the cutoff.
// Pending records are kept regardless of age; they still carry attempts.
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_records
		WHERE state IN ('sent', 'error') AND created_at < $1
	`

	tag, err := r.conn.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

type rowIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecord(row rowScanner) (*notification.Record, error) {
	var record notification.Record
	var id, studentID, findingKind, channel, state string
	var priority int
	var sentAt *time.Time

	err := row.Scan(
		&id, &studentID, &findingKind, &channel, &priority,
		&record.Title, &record.Body, &state, &record.Attempts,
		&record.LastError, &record.CreatedAt, &record.UpdatedAt, &sentAt,
	)
	if err != nil {
		return nil, err
	}

	record.ID = notification.RecordID(id)
	record.StudentID = student.ID(studentID)
	record.FindingKind = insight.Kind(findingKind)
	record.Channel = notification.Channel(channel)
	record.Priority = insight.Priority(priority)
	record.State = notification.State(state)
	record.SentAt = sentAt
	return &record, nil
}

func collectRecords(rows rowIterator) ([]*notification.Record, error) {
	var records []*notification.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
