// Package jobs contains implementations of scheduled jobs for Aula Insights.
// The jobs cover the three periodic concerns of the alert pipeline: rule
// evaluation, delivery retries, and record retention.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aula-hub/aula-insights/internal/application/alerting"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReviewSweepJob runs the rule engine over every student and dispatches
// notifications for the findings. This is the heartbeat of the alerting
// pipeline.
type ReviewSweepJob struct {
	sweeper *alerting.Sweeper
	logger  *slog.Logger
	config  ReviewSweepConfig
}

// ReviewSweepConfig contains configuration for the review sweep job.
type ReviewSweepConfig struct {
	// Timeout is the maximum duration for one full sweep.
	Timeout time.Duration
}

// DefaultReviewSweepConfig returns sensible defaults.
func DefaultReviewSweepConfig() ReviewSweepConfig {
	return ReviewSweepConfig{
		Timeout: 10 * time.Minute,
	}
}

// NewReviewSweepJob creates a new review sweep job.
func NewReviewSweepJob(sweeper *alerting.Sweeper, logger *slog.Logger, config ReviewSweepConfig) *ReviewSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	return &ReviewSweepJob{
		sweeper: sweeper,
		logger:  logger,
		config:  config,
	}
}

// Name returns the job name.
func (j *ReviewSweepJob) Name() string {
	return "review_sweep"
}

// Description returns a human-readable description.
func (j *ReviewSweepJob) Description() string {
	return "Evaluates alert rules for all students and dispatches notifications"
}

// Run executes one full review sweep.
func (j *ReviewSweepJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	report, err := j.sweeper.Run(ctx)
	if err != nil {
		return fmt.Errorf("review sweep: %w", err)
	}

	j.logger.Info("review sweep completed",
		"students", report.Students,
		"findings", report.Findings,
		"dispatched", report.Dispatched,
		"skipped", report.Skipped,
		"deferred", report.Deferred,
		"errors", report.Errors,
		"elapsed", report.Elapsed.String(),
	)

	// A handful of per-student failures is tolerable; a majority means
	// something upstream is broken.
	if report.Students > 0 && report.Errors*2 > report.Students {
		return fmt.Errorf("review sweep failed for %d of %d students", report.Errors, report.Students)
	}

	return nil
}
