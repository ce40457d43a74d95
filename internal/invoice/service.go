package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/audit"
	"github.com/ledgerline/invoicing/internal/bill"
	"github.com/ledgerline/invoicing/internal/invoice/calc"
	"github.com/ledgerline/invoicing/internal/invoice/numbering"
	"github.com/ledgerline/invoicing/internal/party"
	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// Repository persists invoices and their items. Implementations join the
// transaction carried by ctx.
type Repository interface {
	InsertInvoice(ctx context.Context, inv *Invoice) (int64, error)
	Get(ctx context.Context, id int64) (*Invoice, error)
	GetForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetByUUID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByUUIDForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	FindByNumber(ctx context.Context, number string, vis Visibility) ([]Invoice, error)
	List(ctx context.Context, vis Visibility, filter ListFilter) ([]Invoice, int, error)
	CountByStatus(ctx context.Context, vis Visibility, filter ListFilter) ([]StatusCount, error)
	SumByCurrency(ctx context.Context, vis Visibility, filter ListFilter) ([]CurrencyTotal, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error
	SetConfirmTokenHash(ctx context.Context, id int64, hash string) error
	UpdateTotals(ctx context.Context, id int64, totals calc.Totals) error
	Delete(ctx context.Context, id int64) error
	MarkOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	LatestPayrollIssueDate(ctx context.Context, payrollID int64) (*time.Time, error)

	ListItems(ctx context.Context, invoiceID int64) ([]Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, invoiceID, itemID int64) error
	DeleteItems(ctx context.Context, invoiceID int64) error
	UpdateItemOrders(ctx context.Context, invoiceID int64, orders []ItemOrder) error
}

// Parties resolves the counterparties of an invoice.
type Parties interface {
	GetCompany(ctx context.Context, id int64) (party.Company, error)
	GetClient(ctx context.Context, id, companyID int64) (party.Client, error)
	GetPayroll(ctx context.Context, id, companyID int64) (party.Payroll, error)
}

// Numbers issues invoice numbers inside the creating transaction.
type Numbers interface {
	Payroll(ctx context.Context, payrollID, employeeID int64) (numbering.Number, error)
	Monthly(ctx context.Context, companyID int64, at time.Time) (numbering.Number, error)
	B2B(ctx context.Context, senderID int64, recipient numbering.Recipient) (numbering.Number, error)
}

// AuditRecorder writes audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditReader reads the audit trail of an entity.
type AuditReader interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error)
}

// IdempotencyGuard rejects replayed creation requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// SideEffectRecorder counts failed best-effort side effects.
type SideEffectRecorder interface {
	SideEffectFailed(effect string)
}

// Config wires the service dependencies.
type Config struct {
	Repo             Repository
	Tx               db.Transactor
	Numbers          Numbers
	Parties          Parties
	Bills            bill.Linker
	Notifier         Notifier
	Audit            AuditRecorder
	AuditTrail       AuditReader
	Idempotency      IdempotencyGuard
	Metrics          SideEffectRecorder
	Logger           *slog.Logger
	PayrollNumbering numbering.Mode
	PublicBaseURL    string
}

// Service implements invoice creation, the lifecycle state machine, item
// maintenance and queries.
type Service struct {
	repo          Repository
	tx            db.Transactor
	numbers       Numbers
	parties       Parties
	bills         bill.Linker
	notifier      Notifier
	audit         AuditRecorder
	auditTrail    AuditReader
	idempotency   IdempotencyGuard
	metrics       SideEffectRecorder
	logger        *slog.Logger
	payrollMode   numbering.Mode
	publicBaseURL string
	clock         func() time.Time
}

// NewService constructs the invoice service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.PayrollNumbering
	if mode == "" {
		mode = numbering.ModePerPayroll
	}
	return &Service{
		repo:          cfg.Repo,
		tx:            cfg.Tx,
		numbers:       cfg.Numbers,
		parties:       cfg.Parties,
		bills:         cfg.Bills,
		notifier:      cfg.Notifier,
		audit:         cfg.Audit,
		auditTrail:    cfg.AuditTrail,
		idempotency:   cfg.Idempotency,
		metrics:       cfg.Metrics,
		logger:        logger.With(slog.String("component", "invoice")),
		payrollMode:   mode,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

func (s *Service) now() time.Time {
	return s.clock()
}

const idempotencyModule = "invoice.create"

// CreatePayrollInvoice creates a DRAFT EMPLOYEE invoice for a payroll run.
func (s *Service) CreatePayrollInvoice(ctx context.Context, actor shared.Actor, req CreatePayrollRequest, idempotencyKey string) (*Invoice, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	if !actor.MemberOf(req.CompanyID) {
		return nil, fmt.Errorf("%w: company %d", shared.ErrNotFound, req.CompanyID)
	}
	var inv *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.guardReplay(ctx, idempotencyKey); err != nil {
			return err
		}
		created, err := s.createPayroll(ctx, payrollInput{
			CompanyID: req.CompanyID,
			PayrollID: req.PayrollID,
			Currency:  req.Currency,
			IssueDate: req.IssueDate.Ptr(),
			DueDate:   req.DueDate.Ptr(),
			Discount:  req.Discount,
			TaxRate:   req.TaxRate,
			Notes:     req.Notes,
			Items:     req.Items,
		})
		if err != nil {
			return err
		}
		inv = created
		return s.record(ctx, actor, inv, "invoice.create", "", inv.Status, nil)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateB2BInvoice creates a DRAFT B2B invoice from the actor's company.
func (s *Service) CreateB2BInvoice(ctx context.Context, actor shared.Actor, req CreateB2BRequest, idempotencyKey string) (*Invoice, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.recipientCount() != 1 {
		return nil, shared.Invalid("toCompanyId", "exactly one of toCompanyId, toClientId or toName is required")
	}
	if !actor.MemberOf(req.CompanyID) {
		return nil, fmt.Errorf("%w: company %d", shared.ErrNotFound, req.CompanyID)
	}
	var inv *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.guardReplay(ctx, idempotencyKey); err != nil {
			return err
		}
		created, err := s.createB2B(ctx, b2bInput{
			CompanyID:      req.CompanyID,
			ToCompanyID:    req.ToCompanyID,
			ToClientID:     req.ToClientID,
			To:             PartyDetails{Name: strings.TrimSpace(req.ToName), Email: req.ToEmail, Address: req.ToAddress, TaxID: req.ToTaxID},
			Currency:       req.Currency,
			IssueDate:      req.IssueDate.Ptr(),
			DueDate:        req.DueDate.Ptr(),
			Discount:       req.Discount,
			TaxRate:        req.TaxRate,
			PaymentNetwork: req.PaymentNetwork,
			PaymentToken:   req.PaymentToken,
			WalletAddress:  req.WalletAddress,
			Notes:          req.Notes,
			Items:          req.Items,
		})
		if err != nil {
			return err
		}
		inv = created
		return s.record(ctx, actor, inv, "invoice.create", "", inv.Status, nil)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) guardReplay(ctx context.Context, key string) error {
	if key == "" || s.idempotency == nil {
		return nil
	}
	return s.idempotency.CheckAndInsert(ctx, key, idempotencyModule)
}

type payrollInput struct {
	CompanyID  int64
	PayrollID  int64
	ScheduleID *int64
	Currency   string
	IssueDate  *time.Time
	DueDate    *time.Time
	Discount   decimal.Decimal
	TaxRate    decimal.Decimal
	Notes      string
	Items      []ItemInput
}

func (s *Service) createPayroll(ctx context.Context, in payrollInput) (*Invoice, error) {
	p, err := s.parties.GetPayroll(ctx, in.PayrollID, in.CompanyID)
	if err != nil {
		return nil, err
	}
	code := in.Currency
	if code == "" {
		code = p.Currency
	}
	cur, err := NormalizeCurrency(code)
	if err != nil {
		return nil, err
	}
	issue, due, err := resolveDates(s.now(), in.IssueDate, in.DueDate)
	if err != nil {
		return nil, err
	}
	items := in.Items
	if len(items) == 0 {
		items = []ItemInput{payrollLine(p)}
	}

	var num numbering.Number
	if s.payrollMode == numbering.ModeMonthly {
		num, err = s.numbers.Monthly(ctx, p.CompanyID, issue)
	} else {
		num, err = s.numbers.Payroll(ctx, p.ID, p.EmployeeID)
	}
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		UUID:        uuid.New(),
		Number:      num.Value,
		NumberScope: num.Scope,
		Status:      StatusDraft,
		CompanyID:   p.CompanyID,
		Subject: PayrollSubject{
			PayrollID:     p.ID,
			EmployeeID:    p.EmployeeID,
			EmployeeEmail: p.EmployeeEmail,
		},
		ScheduleID:     in.ScheduleID,
		IssueDate:      issue,
		DueDate:        due,
		Currency:       cur,
		Discount:       in.Discount,
		TaxRate:        in.TaxRate,
		From:           companyDetails(p.Company),
		To:             PartyDetails{Name: p.EmployeeName, Email: p.EmployeeEmail, Address: p.EmployeeAddress},
		PaymentNetwork: p.PaymentNetwork,
		PaymentToken:   p.PaymentToken,
		WalletAddress:  p.WalletAddress,
		Notes:          in.Notes,
	}
	if err := s.insert(ctx, inv, items); err != nil {
		return nil, err
	}
	return inv, nil
}

func payrollLine(p party.Payroll) ItemInput {
	desc := "Payroll"
	if p.PeriodStart != nil && p.PeriodEnd != nil {
		desc = fmt.Sprintf("Payroll %s to %s", p.PeriodStart.Format(dateLayout), p.PeriodEnd.Format(dateLayout))
	}
	return ItemInput{Description: desc, Quantity: decimal.NewFromInt(1), UnitPrice: p.Amount}
}

type b2bInput struct {
	CompanyID      int64
	ScheduleID     *int64
	ToCompanyID    *int64
	ToClientID     *int64
	To             PartyDetails
	Currency       string
	IssueDate      *time.Time
	DueDate        *time.Time
	Discount       decimal.Decimal
	TaxRate        decimal.Decimal
	PaymentNetwork string
	PaymentToken   string
	WalletAddress  string
	Notes          string
	Items          []ItemInput
}

func (s *Service) createB2B(ctx context.Context, in b2bInput) (*Invoice, error) {
	if len(in.Items) == 0 {
		return nil, shared.Invalid("items", "at least one item is required")
	}
	cur, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	issue, due, err := resolveDates(s.now(), in.IssueDate, in.DueDate)
	if err != nil {
		return nil, err
	}
	sender, err := s.parties.GetCompany(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}

	subject := B2BSubject{}
	to := in.To
	switch {
	case in.ToCompanyID != nil:
		if *in.ToCompanyID == in.CompanyID {
			return nil, shared.Invalid("toCompanyId", "must differ from the sending company")
		}
		recipient, err := s.parties.GetCompany(ctx, *in.ToCompanyID)
		if err != nil {
			return nil, err
		}
		id := recipient.ID
		subject.ToCompanyID = &id
		to = mergeDetails(companyDetails(recipient), to)
	case in.ToClientID != nil:
		client, err := s.parties.GetClient(ctx, *in.ToClientID, in.CompanyID)
		if err != nil {
			return nil, err
		}
		id := client.ID
		subject.ToClientID = &id
		if client.RegisteredCompanyID != nil && *client.RegisteredCompanyID != in.CompanyID {
			registered := *client.RegisteredCompanyID
			subject.ToCompanyID = &registered
		}
		to = mergeDetails(PartyDetails{Name: client.Name, Email: client.Email, Address: client.Address, TaxID: client.TaxID}, to)
	default:
		if to.Name == "" {
			return nil, shared.Invalid("toName", "is required")
		}
	}
	subject.ToName = to.Name
	subject.ToEmail = to.Email

	recipient := numbering.Recipient{Name: to.Name}
	if subject.ToCompanyID != nil {
		recipient.CompanyID = *subject.ToCompanyID
	}
	num, err := s.numbers.B2B(ctx, in.CompanyID, recipient)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		UUID:           uuid.New(),
		Number:         num.Value,
		NumberScope:    num.Scope,
		Status:         StatusDraft,
		CompanyID:      in.CompanyID,
		Subject:        subject,
		ScheduleID:     in.ScheduleID,
		IssueDate:      issue,
		DueDate:        due,
		Currency:       cur,
		Discount:       in.Discount,
		TaxRate:        in.TaxRate,
		From:           companyDetails(sender),
		To:             to,
		PaymentNetwork: in.PaymentNetwork,
		PaymentToken:   in.PaymentToken,
		WalletAddress:  in.WalletAddress,
		Notes:          in.Notes,
	}
	if err := s.insert(ctx, inv, in.Items); err != nil {
		return nil, err
	}
	return inv, nil
}

// insert computes amounts through the single aggregation path and persists
// the invoice with its items.
func (s *Service) insert(ctx context.Context, inv *Invoice, inputs []ItemInput) error {
	items := make([]Item, 0, len(inputs))
	amounts := make([]calc.ItemAmounts, 0, len(inputs))
	for i, in := range inputs {
		if err := shared.ValidateStruct(in); err != nil {
			return err
		}
		item, a, err := buildItem(in, i)
		if err != nil {
			return prefixItemError(err, i)
		}
		items = append(items, item)
		amounts = append(amounts, a)
	}
	totals, err := calc.Aggregate(amounts, inv.Discount, inv.TaxRate)
	if err != nil {
		return err
	}
	applyTotals(inv, totals)

	id, err := s.repo.InsertInvoice(ctx, inv)
	if err != nil {
		return err
	}
	inv.ID = id
	for i := range items {
		items[i].InvoiceID = id
		itemID, err := s.repo.InsertItem(ctx, items[i])
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
		items[i].ID = itemID
	}
	inv.Items = items
	return nil
}

func buildItem(in ItemInput, position int) (Item, calc.ItemAmounts, error) {
	a, err := calc.CalculateItem(in.amounts())
	if err != nil {
		return Item{}, calc.ItemAmounts{}, err
	}
	order := position
	if in.SortOrder != nil {
		order = *in.SortOrder
	}
	return Item{
		Description: strings.TrimSpace(in.Description),
		Unit:        in.Unit,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		Discount:    in.Discount,
		TaxRate:     in.TaxRate,
		Subtotal:    a.Subtotal,
		TaxAmount:   a.Tax,
		Total:       a.Total,
		SortOrder:   order,
	}, a, nil
}

func prefixItemError(err error, index int) error {
	var verr *shared.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	out := &shared.ValidationError{}
	for _, f := range verr.Fields {
		out.Fields = append(out.Fields, shared.FieldError{Field: fmt.Sprintf("items[%d].%s", index, f.Field), Message: f.Message})
	}
	return out
}

func applyTotals(inv *Invoice, t calc.Totals) {
	inv.Subtotal = t.Subtotal
	inv.Discount = t.Discount
	inv.TaxRate = t.TaxRate
	inv.TaxAmount = t.TaxAmount
	inv.Total = t.Total
}

func companyDetails(c party.Company) PartyDetails {
	return PartyDetails{Name: c.Name, Email: c.Email, Address: c.Address, TaxID: c.TaxID}
}

// mergeDetails fills empty fields of override from base.
func mergeDetails(base, override PartyDetails) PartyDetails {
	if override.Name == "" {
		override.Name = base.Name
	}
	if override.Email == "" {
		override.Email = base.Email
	}
	if override.Address == "" {
		override.Address = base.Address
	}
	if override.TaxID == "" {
		override.TaxID = base.TaxID
	}
	return override
}

func (s *Service) record(ctx context.Context, actor shared.Actor, inv *Invoice, action string, from, to Status, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["invoice_number"] = inv.Number
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:    actor.UserID,
		ActorEmail: actor.Email,
		Action:     action,
		Entity:     AuditEntity,
		EntityID:   inv.UUID.String(),
		FromStatus: string(from),
		ToStatus:   string(to),
		Meta:       meta,
		At:         s.now(),
	})
}
