package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: ACADEMIC RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create academic record tables
-- Version: 001

CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    group_name VARCHAR(50) NOT NULL DEFAULT '',
    guardian VARCHAR(200) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_students_group ON students(group_name);

CREATE TABLE IF NOT EXISTS grades (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    subject VARCHAR(100) NOT NULL,
    value DECIMAL(4,2) NOT NULL,
    period VARCHAR(20) NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_grade CHECK (value >= 0 AND value <= 10)
);

CREATE INDEX IF NOT EXISTS idx_grades_student ON grades(student_id, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_grades_student_period ON grades(student_id, period);

CREATE TABLE IF NOT EXISTS attendance (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    date DATE NOT NULL,
    present BOOLEAN NOT NULL,
    justified BOOLEAN NOT NULL DEFAULT FALSE,

    UNIQUE(student_id, date)
);

CREATE INDEX IF NOT EXISTS idx_attendance_student_date ON attendance(student_id, date DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS attendance;
DROP TABLE IF EXISTS grades;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create notification tables
-- Version: 002

CREATE TABLE IF NOT EXISTS notification_records (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    finding_kind VARCHAR(40) NOT NULL DEFAULT '',
    channel VARCHAR(10) NOT NULL,
    priority SMALLINT NOT NULL,
    title VARCHAR(200) NOT NULL,
    body TEXT NOT NULL,
    state VARCHAR(10) NOT NULL DEFAULT 'pending',
    attempts SMALLINT NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    sent_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_channel CHECK (channel IN ('email', 'sms', 'both')),
    CONSTRAINT valid_state CHECK (state IN ('pending', 'sent', 'error')),
    CONSTRAINT valid_attempts CHECK (attempts >= 0 AND attempts <= 3)
);

CREATE INDEX IF NOT EXISTS idx_notification_records_student
    ON notification_records(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notification_records_retryable
    ON notification_records(created_at) WHERE state = 'pending';

CREATE TABLE IF NOT EXISTS guardian_contacts (
    student_id VARCHAR(64) PRIMARY KEY REFERENCES students(id) ON DELETE CASCADE,
    email VARCHAR(200) NOT NULL DEFAULT '',
    phone VARCHAR(30) NOT NULL DEFAULT '',
    preferred_channel VARCHAR(10) NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration002Down = `
DROP TABLE IF EXISTS guardian_contacts;
DROP TABLE IF EXISTS notification_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: DOCUMENT STORE
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create the document store with change notifications
-- Version: 003

CREATE TABLE IF NOT EXISTS documents (
    collection VARCHAR(100) NOT NULL,
    id VARCHAR(128) NOT NULL,
    fields JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_fields ON documents USING GIN (fields);

-- Every write to a collection notifies its channel so live subscriptions
-- can requery without polling.
CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
DECLARE
    target_collection TEXT;
BEGIN
    IF TG_OP = 'DELETE' THEN
        target_collection := OLD.collection;
    ELSE
        target_collection := NEW.collection;
    END IF;
    PERFORM pg_notify('doc_' || target_collection, TG_OP);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify
    AFTER INSERT OR UPDATE OR DELETE ON documents
    FOR EACH ROW EXECUTE FUNCTION notify_document_change();
`

const migration003Down = `
DROP TRIGGER IF EXISTS documents_notify ON documents;
DROP FUNCTION IF EXISTS notify_document_change();
DROP TABLE IF EXISTS documents;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION RUNNER
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	IsApplied bool
	AppliedAt time.Time
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_academic_records", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_notifications", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_document_store", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

// Migrate applies every pending migration inside a transaction each.
func Migrate(ctx context.Context, conn *Connection) error {
	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%w: create migrations table: %v", ErrMigrationFailed, err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range GetMigrations() {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		err := conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.UpSQL); err != nil {
				return fmt.Errorf("apply %03d_%s: %w", m.Version, m.Name, err)
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
	}
	return nil
}

// Status returns every migration with its applied state.
func Status(ctx context.Context, conn *Connection) ([]Migration, error) {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	result := GetMigrations()
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// appliedVersions returns the versions already recorded.
func appliedVersions(ctx context.Context, conn *Connection) (map[int]time.Time, error) {
	rows, err := conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: read applied versions: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("%w: scan version: %v", ErrMigrationFailed, err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}
