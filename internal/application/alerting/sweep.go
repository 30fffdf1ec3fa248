package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/student"
	"github.com/aula-hub/aula-insights/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT SWEEP
// Periodic evaluation of every student's series against the rule engine,
// dispatching whatever findings the notification policy lets through.
// ══════════════════════════════════════════════════════════════════════════════

// SweeperConfig contains configuration for the Sweeper.
type SweeperConfig struct {
	// Concurrency bounds parallel student evaluations.
	Concurrency int

	// CurrentPeriod and PreviousPeriod pin the evaluation's period pair.
	// Zero values let the repository pick the two most recent.
	CurrentPeriod  student.Period
	PreviousPeriod student.Period
}

// DefaultSweeperConfig returns default configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Concurrency: 8}
}

// Sweeper runs one full evaluation pass over the student body.
type Sweeper struct {
	students   student.Repository
	engine     *insight.Engine
	dispatcher *Dispatcher
	logger     *slog.Logger
	config     SweeperConfig
	now        func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	students student.Repository,
	engine *insight.Engine,
	dispatcher *Dispatcher,
	logger *slog.Logger,
	config SweeperConfig,
) *Sweeper {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultSweeperConfig().Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		students:   students,
		engine:     engine,
		dispatcher: dispatcher,
		logger:     logger,
		config:     config,
		now:        timeutil.Now,
	}
}

// SweepReport aggregates one evaluation pass.
type SweepReport struct {
	Students   int
	Findings   int
	Dispatched int
	Skipped    int
	Deferred   int
	Errors     int
	Elapsed    time.Duration
}

// Run evaluates every student and dispatches the qualifying findings. One
// student's failure is counted and logged, never fatal for the pass; only a
// failure to list the student body aborts the sweep.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	started := s.now()

	all, err := s.students.List(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("alerting: list students: %w", err)
	}

	window := s.engine.Thresholds().AnalysisWindowDays
	since := started.AddDate(0, 0, -window)

	var mu sync.Mutex
	report := SweepReport{Students: len(all)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, stu := range all {
		g.Go(func() error {
			partial := s.evaluateStudent(gctx, stu.ID, since)
			mu.Lock()
			defer mu.Unlock()
			report.Findings += partial.Findings
			report.Dispatched += partial.Dispatched
			report.Skipped += partial.Skipped
			report.Deferred += partial.Deferred
			report.Errors += partial.Errors
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = s.now().Sub(started)
	s.logger.Info("alert sweep finished",
		"students", report.Students,
		"findings", report.Findings,
		"dispatched", report.Dispatched,
		"skipped", report.Skipped,
		"deferred", report.Deferred,
		"errors", report.Errors,
		"elapsed", report.Elapsed)
	return report, nil
}

// evaluateStudent loads one series, evaluates it, and dispatches every
// non-neutral finding.
func (s *Sweeper) evaluateStudent(ctx context.Context, id student.ID, since time.Time) SweepReport {
	var report SweepReport

	series, err := s.students.GetSeries(ctx, id, student.SeriesQuery{
		Since:          since,
		CurrentPeriod:  s.config.CurrentPeriod,
		PreviousPeriod: s.config.PreviousPeriod,
	})
	if err != nil {
		s.logger.Error("load series", "student_id", id.String(), "error", err)
		report.Errors++
		return report
	}

	for _, finding := range s.engine.Evaluate(series) {
		if finding.IsNeutral() {
			continue
		}
		report.Findings++

		result, err := s.dispatcher.DispatchFinding(ctx, finding)
		if err != nil {
			s.logger.Error("dispatch finding",
				"student_id", id.String(), "kind", finding.Kind.String(), "error", err)
			report.Errors++
			continue
		}
		switch result.Outcome {
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeDeferred:
			report.Deferred++
		default:
			report.Dispatched++
		}
	}
	return report
}
