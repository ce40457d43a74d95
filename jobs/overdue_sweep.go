package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/ledgerline/invoicing/internal/jobs"
	"github.com/ledgerline/invoicing/internal/shared"
)

// OverdueSweeper moves past-due invoices to OVERDUE.
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// Locker serializes singleton jobs across workers.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// OverdueSweepJob runs the overdue sweep under a Redis lock.
type OverdueSweepJob struct {
	Sweeper OverdueSweeper
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueSweepJob constructs the job handler.
func NewOverdueSweepJob(sweeper OverdueSweeper, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueSweepJob {
	return &OverdueSweepJob{
		Sweeper: sweeper,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep for an asynq task.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if _, err := decodeRun(t); err != nil {
		return err
	}
	_, err := j.Run(ctx)
	if errors.Is(err, shared.ErrLockHeld) {
		return nil
	}
	return err
}

// Run sweeps once and returns how many invoices became OVERDUE. It returns
// ErrLockHeld without sweeping when another worker holds the lock.
func (j *OverdueSweepJob) Run(ctx context.Context) (count int, err error) {
	if j == nil || j.Sweeper == nil {
		return 0, errors.New("overdue sweep: dependencies not configured")
	}
	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx, shared.JobLockKey(TaskOverdueSweep))
		if err != nil {
			if errors.Is(err, shared.ErrLockHeld) {
				j.log().Info("overdue sweep already running elsewhere")
			}
			return 0, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log().Warn("release overdue lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.metrics().Track(TaskOverdueSweep)
	defer func() {
		err = tracker.End(err)
	}()

	start := j.now()
	count, err = j.Sweeper.SweepOverdue(ctx, start)
	if err != nil {
		j.log().Error("overdue sweep failed", slog.Any("error", err))
		return 0, err
	}
	j.metrics().AddOverdue(count)
	j.log().Info("overdue sweep finished", slog.Int("marked", count), slog.Duration("duration", time.Since(start)))
	return count, nil
}

func (j *OverdueSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *OverdueSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOverdueSweep))
	}
	return slog.Default().With(slog.String("job", TaskOverdueSweep))
}

func (j *OverdueSweepJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *OverdueSweepJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
