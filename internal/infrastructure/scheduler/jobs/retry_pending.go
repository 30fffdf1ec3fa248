package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aula-hub/aula-insights/internal/application/alerting"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRY PENDING NOTIFICATIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RetryPendingJob re-attempts delivery of pending notification records.
// Records exhaust their attempt budget here when a gateway stays down.
type RetryPendingJob struct {
	dispatcher *alerting.Dispatcher
	logger     *slog.Logger
	timeout    time.Duration
}

// NewRetryPendingJob creates a new retry job.
func NewRetryPendingJob(dispatcher *alerting.Dispatcher, logger *slog.Logger) *RetryPendingJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryPendingJob{
		dispatcher: dispatcher,
		logger:     logger,
		timeout:    5 * time.Minute,
	}
}

// Name returns the job name.
func (j *RetryPendingJob) Name() string {
	return "retry_pending_notifications"
}

// Description returns a human-readable description.
func (j *RetryPendingJob) Description() string {
	return "Re-attempts delivery of pending notification records"
}

// Run executes one retry sweep.
func (j *RetryPendingJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	result, err := j.dispatcher.RetrySweep(ctx)
	if err != nil {
		return fmt.Errorf("retry sweep: %w", err)
	}

	if result.Processed == 0 && result.Deferred == 0 {
		return nil
	}

	j.logger.Info("retry sweep completed",
		"processed", result.Processed,
		"sent", result.Sent,
		"retrying", result.Retrying,
		"failed", result.Failed,
		"deferred", result.Deferred,
	)

	return nil
}
