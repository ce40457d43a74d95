// Package cli implements invoicectl, the operator command line for the
// invoicing service.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ledgerline/invoicing/internal/app"
	"github.com/ledgerline/invoicing/internal/platform/cache"
	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/platform/migrate"
	"github.com/ledgerline/invoicing/jobs"
)

// Options lets tests replace the configuration and connections the
// commands open.
type Options struct {
	LoadConfig func() (*app.Config, error)
	OpenJobs   func(cfg *app.Config) *JobsCLI
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.LoadConfig == nil {
		o.LoadConfig = app.LoadConfig
	}
	if o.OpenJobs == nil {
		o.OpenJobs = func(cfg *app.Config) *JobsCLI {
			return NewJobsCLI(redisOpts(cfg))
		}
	}
	return o
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand(Options{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "invoicectl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand assembles the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts = opts.withDefaults()
	root := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Operate the invoicing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCommand(opts),
		newSweepCommand(opts),
		newGenerateCommand(opts),
		newJobsCommand(opts),
	)
	return root
}

type env struct {
	cfg      *app.Config
	pool     *pgxpool.Pool
	redis    *redis.Client
	services *app.Services
	logger   *slog.Logger
}

func (r *env) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

func openEnv(ctx context.Context, opts Options, withServices bool) (*env, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = app.NewLogger(cfg)
	}
	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		return nil, err
	}
	rt := &env{cfg: cfg, pool: pool, logger: logger}
	if !withServices {
		return rt, nil
	}
	rt.redis, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.services = app.BuildServices(app.ServiceDeps{
		Config: cfg,
		Pool:   pool,
		Redis:  rt.redis,
		Logger: logger,
	})
	return rt, nil
}

func newMigrateCommand(opts Options) *cobra.Command {
	steps := map[string]func(context.Context, *pgxpool.Pool) error{
		"up":     migrate.Up,
		"down":   migrate.Down,
		"status": migrate.Status,
	}
	return &cobra.Command{
		Use:       "migrate {up|down|status}",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openEnv(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := steps[args[0]](cmd.Context(), rt.pool); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", args[0])
			return nil
		},
	}
}

func newSweepCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark past-due invoices OVERDUE now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openEnv(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			job := jobs.NewOverdueSweepJob(rt.services.Invoices, rt.services.JobLocker(), rt.logger, rt.services.JobMetrics)
			count, err := job.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d invoice(s) marked overdue\n", count)
			return nil
		},
	}
}

func newGenerateCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-due",
		Short: "Generate the invoices of all due schedules now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openEnv(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			job := jobs.NewScheduleGenerateJob(rt.services.Generator, rt.logger, rt.services.JobMetrics)
			result, err := job.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated=%d skipped=%d failed=%d\n", result.Generated, result.Skipped, result.Failed)
			return nil
		},
	}
}

func newJobsCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	withJobs := func(run func(cmd *cobra.Command, c *JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			c := opts.OpenJobs(cfg)
			defer c.Close()
			return run(cmd, c, args)
		}
	}

	trigger := &cobra.Command{
		Use:       "trigger <task-type>",
		Short:     "Enqueue a periodic job for immediate processing",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: TriggerableJobs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", args[0], info.ID, info.Queue)
			return nil
		}),
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			s, err := c.InspectQueue()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			return w.Flush()
		}),
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List upcoming scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			tasks, err := c.ListScheduled(size)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		}),
	}
	scheduled.Flags().IntVar(&size, "size", 10, "number of tasks to list")

	cmd.AddCommand(trigger, stats, scheduled)
	return cmd
}

func printTasks(out io.Writer, tasks []*asynq.TaskInfo) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no scheduled tasks")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNEXT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	_ = w.Flush()
}
