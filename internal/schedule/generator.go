package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// GenerateJob names the generation run for locks and metrics.
const GenerateJob = "schedule-generate"

const defaultBatchSize = 200

// InvoiceCreator creates the invoice of a due schedule inside the caller's transaction.
type InvoiceCreator interface {
	CreateScheduled(ctx context.Context, in invoice.ScheduledInput) (*invoice.Invoice, invoice.FollowUp, error)
}

// Locker serializes runs across workers.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Generator creates the invoices of due schedules.
type Generator struct {
	repo      Repository
	tx        db.Transactor
	invoices  InvoiceCreator
	locker    Locker
	logger    *slog.Logger
	batchSize int
}

// NewGenerator constructs a Generator. A nil locker runs without the
// cross-worker lock.
func NewGenerator(repo Repository, tx db.Transactor, invoices InvoiceCreator, locker Locker, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		repo:      repo,
		tx:        tx,
		invoices:  invoices,
		locker:    locker,
		logger:    logger.With(slog.String("component", "schedule.generator")),
		batchSize: defaultBatchSize,
	}
}

// RunDue generates one invoice for every active schedule due at now. A
// failing schedule is counted and the run moves on. Payroll schedules
// already invoiced this month are skipped and stay due. ErrLockHeld is
// returned when another worker is running.
func (g *Generator) RunDue(ctx context.Context, now time.Time) (RunResult, error) {
	var result RunResult
	if g.locker != nil {
		release, err := g.locker.Acquire(ctx, shared.JobLockKey(GenerateJob))
		if err != nil {
			return result, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				g.logger.Warn("release generation lock", slog.Any("error", err))
			}
		}()
	}

	ids, err := g.repo.ListDue(ctx, now, g.batchSize)
	if err != nil {
		return result, fmt.Errorf("list due schedules: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := g.generate(ctx, id, now)
		switch {
		case err == nil:
			result.Generated++
		case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrNotFound):
			result.Skipped++
			g.logger.Info("schedule skipped", slog.Int64("schedule_id", id), slog.Any("reason", err))
		default:
			result.Failed++
			g.logger.Warn("schedule generation failed", slog.Int64("schedule_id", id), slog.Any("error", err))
		}
	}
	g.logger.Info("schedule run finished",
		slog.Int("due", len(ids)),
		slog.Int("generated", result.Generated),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (g *Generator) generate(ctx context.Context, id int64, now time.Time) error {
	followUp := invoice.FollowUp(func(context.Context) {})
	err := g.tx.WithTx(ctx, func(ctx context.Context) error {
		sched, err := g.repo.GetDueForUpdate(ctx, id, now)
		if err != nil {
			return err
		}
		inv, fu, err := g.invoices.CreateScheduled(ctx, sched.invoiceInput())
		if err != nil {
			return err
		}
		if fu != nil {
			followUp = fu
		}
		next := NextAfterRun(now, sched.Rule)
		if err := g.repo.MarkGenerated(ctx, sched.ID, now, next); err != nil {
			return err
		}
		g.logger.Info("schedule generated invoice",
			slog.Int64("schedule_id", sched.ID),
			slog.String("invoice_number", inv.Number),
			slog.Time("next_generate_date", next))
		return nil
	})
	if err != nil {
		return err
	}
	followUp(ctx)
	return nil
}
