package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURGE RECORDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RecordPurger deletes notification records older than a cutoff.
type RecordPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeRecordsJob removes notification records past their retention window.
// Final states only carry audit value for so long; the pending queue is
// never purged by age alone because pending records are still actionable.
type PurgeRecordsJob struct {
	purger    RecordPurger
	logger    *slog.Logger
	retention time.Duration
}

// DefaultRecordRetention is how long delivered and failed records are kept.
const DefaultRecordRetention = 90 * 24 * time.Hour

// NewPurgeRecordsJob creates a new purge job.
func NewPurgeRecordsJob(purger RecordPurger, logger *slog.Logger, retention time.Duration) *PurgeRecordsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultRecordRetention
	}

	return &PurgeRecordsJob{
		purger:    purger,
		logger:    logger,
		retention: retention,
	}
}

// Name returns the job name.
func (j *PurgeRecordsJob) Name() string {
	return "purge_notification_records"
}

// Description returns a human-readable description.
func (j *PurgeRecordsJob) Description() string {
	return "Deletes notification records past the retention window"
}

// Run executes one purge pass.
func (j *PurgeRecordsJob) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.retention)

	deleted, err := j.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge records: %w", err)
	}

	if deleted > 0 {
		j.logger.Info("purged notification records",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}

	return nil
}
