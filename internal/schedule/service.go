package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/internal/party"
	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// Repository persists schedules, joining the transaction carried by ctx.
type Repository interface {
	Insert(ctx context.Context, s *Schedule) (int64, error)
	Get(ctx context.Context, id int64) (*Schedule, error)
	GetDueForUpdate(ctx context.Context, id int64, now time.Time) (*Schedule, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	List(ctx context.Context, companyIDs []int64, filter ListFilter) ([]Schedule, int, error)
	Update(ctx context.Context, s *Schedule) error
	MarkGenerated(ctx context.Context, id int64, at, next time.Time) error
	Delete(ctx context.Context, id int64) error
}

// Parties checks that a schedule's payroll or client belongs to its company.
type Parties interface {
	GetClient(ctx context.Context, id, companyID int64) (party.Client, error)
	GetPayroll(ctx context.Context, id, companyID int64) (party.Payroll, error)
}

// Service manages schedules on behalf of company members.
type Service struct {
	repo    Repository
	parties Parties
	tx      db.Transactor
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService constructs the schedule service.
func NewService(repo Repository, parties Parties, tx db.Transactor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		parties: parties,
		tx:      tx,
		logger:  logger.With(slog.String("component", "schedule")),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Create validates and stores a new active schedule.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateRequest) (*Schedule, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	if (req.PayrollID == nil) == (req.ClientID == nil) {
		return nil, shared.Invalid("payrollId", "exactly one of payrollId or clientId is required")
	}
	if !actor.MemberOf(req.CompanyID) {
		return nil, fmt.Errorf("%w: company %d", shared.ErrNotFound, req.CompanyID)
	}
	template, err := checkTemplate(req.Template, req.ClientID != nil)
	if err != nil {
		return nil, err
	}
	if err := s.checkSubject(ctx, req); err != nil {
		return nil, err
	}

	now := s.clock()
	rule := req.rule()
	sched := &Schedule{
		UUID:             uuid.New(),
		CompanyID:        req.CompanyID,
		PayrollID:        req.PayrollID,
		ClientID:         req.ClientID,
		Rule:             rule,
		AutoSend:         req.AutoSend,
		IsActive:         true,
		NextGenerateDate: NextGenerateDate(now, rule),
		Template:         template,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	id, err := s.repo.Insert(ctx, sched)
	if err != nil {
		return nil, err
	}
	sched.ID = id
	s.logger.Info("schedule created",
		slog.Int64("schedule_id", id),
		slog.Int64("company_id", sched.CompanyID),
		slog.String("frequency", string(rule.Frequency)),
		slog.Time("next_generate_date", sched.NextGenerateDate))
	return sched, nil
}

func (s *Service) checkSubject(ctx context.Context, req CreateRequest) error {
	if req.PayrollID != nil {
		_, err := s.parties.GetPayroll(ctx, *req.PayrollID, req.CompanyID)
		return err
	}
	_, err := s.parties.GetClient(ctx, *req.ClientID, req.CompanyID)
	return err
}

// checkTemplate normalizes the currency and validates the item amounts.
// Client schedules generate B2B invoices, which need a currency and items.
func checkTemplate(t Template, client bool) (Template, error) {
	if err := shared.ValidateStruct(t); err != nil {
		return t, err
	}
	if t.Currency != "" {
		code, err := invoice.NormalizeCurrency(t.Currency)
		if err != nil {
			return t, err
		}
		t.Currency = code
	}
	if client {
		if t.Currency == "" {
			return t, shared.Invalid("template.currency", "is required for client schedules")
		}
		if len(t.Items) == 0 {
			return t, shared.Invalid("template.items", "at least one item is required for client schedules")
		}
	}
	for i, item := range t.Items {
		if err := item.Validate(); err != nil {
			return t, fmt.Errorf("template.items[%d]: %w", i, err)
		}
	}
	return t, nil
}

// owned loads a schedule and hides it from non-members.
func (s *Service) owned(ctx context.Context, actor shared.Actor, id int64) (*Schedule, error) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.MemberOf(sched.CompanyID) {
		return nil, fmt.Errorf("%w: schedule %d", shared.ErrNotFound, id)
	}
	return sched, nil
}

// Get returns a schedule of one of the actor's companies.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (*Schedule, error) {
	return s.owned(ctx, actor, id)
}

// List pages through the schedules of the actor's companies.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) (shared.Page[Schedule], error) {
	page := shared.NormalizePage(filter.Page, filter.Limit)
	filter.Page, filter.Limit = page.Page, page.Limit
	if filter.CompanyID > 0 && !actor.MemberOf(filter.CompanyID) {
		return shared.Page[Schedule]{Items: []Schedule{}, Pagination: shared.NewPagination(page.Page, page.Limit, 0)}, nil
	}
	items, total, err := s.repo.List(ctx, actor.CompanyIDs, filter)
	if err != nil {
		return shared.Page[Schedule]{}, err
	}
	return shared.Page[Schedule]{Items: items, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// Update applies a partial update. A changed rule recomputes the next
// generation date.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, req UpdateRequest) (*Schedule, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	var out *Schedule
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		sched, err := s.owned(ctx, actor, id)
		if err != nil {
			return err
		}
		rule := sched.Rule
		if req.Frequency != nil {
			rule.Frequency = *req.Frequency
		}
		if req.DayOfMonth != nil {
			rule.DayOfMonth = req.DayOfMonth
		}
		if req.DayOfWeek != nil {
			rule.DayOfWeek = req.DayOfWeek
		}
		if req.GenerateDaysBefore != nil {
			rule.GenerateDaysBefore = *req.GenerateDaysBefore
		}
		if req.AutoSend != nil {
			sched.AutoSend = *req.AutoSend
		}
		if req.Template != nil {
			template, err := checkTemplate(*req.Template, sched.ClientID != nil)
			if err != nil {
				return err
			}
			sched.Template = template
		}
		now := s.clock()
		if !rule.equal(sched.Rule) {
			sched.NextGenerateDate = NextGenerateDate(now, rule)
		}
		sched.Rule = rule
		sched.UpdatedAt = now
		if err := s.repo.Update(ctx, sched); err != nil {
			return err
		}
		out = sched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Toggle flips isActive. Reactivating a schedule whose next date has already
// passed moves it to the next date from now.
func (s *Service) Toggle(ctx context.Context, actor shared.Actor, id int64) (*Schedule, error) {
	var out *Schedule
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		sched, err := s.owned(ctx, actor, id)
		if err != nil {
			return err
		}
		now := s.clock()
		sched.IsActive = !sched.IsActive
		if sched.IsActive && sched.NextGenerateDate.Before(startOfDay(now)) {
			sched.NextGenerateDate = NextGenerateDate(now, sched.Rule)
		}
		sched.UpdatedAt = now
		if err := s.repo.Update(ctx, sched); err != nil {
			return err
		}
		out = sched
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule toggled", slog.Int64("schedule_id", id), slog.Bool("active", out.IsActive))
	return out, nil
}

// Delete removes a schedule.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.owned(ctx, actor, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, id)
	})
}
