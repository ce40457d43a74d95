package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/ledgerline/invoicing/internal/jobs"
	"github.com/ledgerline/invoicing/internal/schedule"
	"github.com/ledgerline/invoicing/internal/shared"
)

// ScheduleRunner generates the invoices of due schedules.
type ScheduleRunner interface {
	RunDue(ctx context.Context, now time.Time) (schedule.RunResult, error)
}

// ScheduleGenerateJob drives the schedule generator from the cron task.
type ScheduleGenerateJob struct {
	Runner  ScheduleRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewScheduleGenerateJob constructs the job handler.
func NewScheduleGenerateJob(runner ScheduleRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ScheduleGenerateJob {
	return &ScheduleGenerateJob{
		Runner:  runner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a generation run for an asynq task. A run skipped because
// another worker holds the lock is not an error.
func (j *ScheduleGenerateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if _, err := decodeRun(t); err != nil {
		return err
	}
	_, err := j.Run(ctx)
	if errors.Is(err, shared.ErrLockHeld) {
		j.log().Info("schedule generation already running elsewhere")
		return nil
	}
	return err
}

// Run generates the due invoices once.
func (j *ScheduleGenerateJob) Run(ctx context.Context) (result schedule.RunResult, err error) {
	if j == nil || j.Runner == nil {
		return result, errors.New("schedule generate: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskScheduleGenerate)
	defer func() {
		if errors.Is(err, shared.ErrLockHeld) {
			return
		}
		err = tracker.End(err)
	}()

	start := j.now()
	result, err = j.Runner.RunDue(ctx, start)
	if err != nil {
		if !errors.Is(err, shared.ErrLockHeld) {
			j.log().Error("schedule generation failed", slog.Any("error", err))
		}
		return result, err
	}
	j.metrics().AddScheduleRun(result.Generated, result.Skipped, result.Failed)
	j.log().Info("schedule generation finished",
		slog.Int("generated", result.Generated),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (j *ScheduleGenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ScheduleGenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskScheduleGenerate))
	}
	return slog.Default().With(slog.String("job", TaskScheduleGenerate))
}

func (j *ScheduleGenerateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ScheduleGenerateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
