package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerline/invoicing/internal/audit"
	"github.com/ledgerline/invoicing/internal/bill"
	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/internal/invoice/numbering"
	jobmetrics "github.com/ledgerline/invoicing/internal/jobs"
	"github.com/ledgerline/invoicing/internal/notify"
	"github.com/ledgerline/invoicing/internal/party"
	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/schedule"
	"github.com/ledgerline/invoicing/internal/shared"
	"github.com/ledgerline/invoicing/jobs"
)

// ServiceDeps are the connections shared by the server, the worker and the CLI.
type ServiceDeps struct {
	Config     *Config
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Queue      notify.Enqueuer
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Services is the wired domain layer.
type Services struct {
	DB          *db.Client
	Invoices    *invoice.Service
	Schedules   *schedule.Service
	Generator   *schedule.Generator
	Idempotency *shared.IdempotencyStore
	Locker      *shared.Locker
	JobMetrics  *jobmetrics.Metrics
}

// BuildServices wires repositories and services. A nil Queue disables
// mail notifications and a nil Redis client runs jobs without the
// cross-worker lock.
func BuildServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{}
	}

	client := db.NewClient(deps.Pool)
	metrics := jobmetrics.NewMetrics(deps.Registerer)
	parties := party.NewRepository(client)
	idempotency := shared.NewIdempotencyStore(client)

	invoiceCfg := invoice.Config{
		Repo:             invoice.NewRepository(client),
		Tx:               client,
		Numbers:          numbering.NewGenerator(numbering.NewRepository(client)),
		Parties:          parties,
		Bills:            bill.NewService(client),
		Audit:            shared.NewAuditLogger(client),
		AuditTrail:       audit.NewService(audit.NewRepository(client)),
		Idempotency:      idempotency,
		Metrics:          metrics,
		Logger:           logger,
		PayrollNumbering: cfg.NumberingMode(),
		PublicBaseURL:    cfg.PublicBaseURL,
	}
	if deps.Queue != nil {
		invoiceCfg.Notifier = notify.NewMailNotifier(deps.Queue, logger)
	}
	invoices := invoice.NewService(invoiceCfg)

	var locker *shared.Locker
	var generatorLock schedule.Locker
	if deps.Redis != nil {
		locker = shared.NewLocker(deps.Redis, cfg.JobLockTTL)
		generatorLock = locker
	}
	scheduleRepo := schedule.NewRepository(client)

	return &Services{
		DB:          client,
		Invoices:    invoices,
		Schedules:   schedule.NewService(scheduleRepo, parties, client, logger),
		Generator:   schedule.NewGenerator(scheduleRepo, client, invoices, generatorLock, logger),
		Idempotency: idempotency,
		Locker:      locker,
		JobMetrics:  metrics,
	}
}

// JobLocker returns the Redis lock as the jobs.Locker interface, or nil
// when Redis is not configured.
func (s *Services) JobLocker() jobs.Locker {
	if s == nil || s.Locker == nil {
		return nil
	}
	return s.Locker
}
