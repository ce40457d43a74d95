// Package bill keeps the payable record created for the paying party of a confirmed B2B invoice.
package bill

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// Status enumerates bill states.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusPaid
}

// Bill is the payable counterpart of an invoice.
type Bill struct {
	ID        int64           `json:"id"`
	UUID      uuid.UUID       `json:"uuid"`
	InvoiceID int64           `json:"invoiceId"`
	CompanyID int64           `json:"companyId"`
	Status    Status          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	DueDate   time.Time       `json:"dueDate"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

//go:generate mockgen -destination=billmock/linker.go -package=billmock . Linker

// Linker is the contract the invoice lifecycle uses to keep bills in sync.
type Linker interface {
	CreateFromInvoice(ctx context.Context, invoiceUUID uuid.UUID, beneficiaryCompanyID int64) (Bill, error)
	UpdateStatus(ctx context.Context, billID, companyID int64, status Status) error
	Delete(ctx context.Context, billUUID uuid.UUID, companyID int64) error
}

// Service is the PostgreSQL backed Linker.
type Service struct {
	db    shared.QuerierSource
	clock func() time.Time
}

// NewService constructs a Service.
func NewService(source shared.QuerierSource) *Service {
	return &Service{db: source, clock: func() time.Time { return time.Now().UTC() }}
}

const (
	billColumns         = `id, uuid, invoice_id, company_id, status, amount::text, currency, due_date, paid_at, created_at, updated_at`
	prefixedBillColumns = `b.id, b.uuid, b.invoice_id, b.company_id, b.status, b.amount::text, b.currency, b.due_date, b.paid_at, b.created_at, b.updated_at`
)

// CreateFromInvoice creates the bill of an invoice for the paying company. A
// second call for the same invoice returns the existing bill.
func (s *Service) CreateFromInvoice(ctx context.Context, invoiceUUID uuid.UUID, beneficiaryCompanyID int64) (Bill, error) {
	if beneficiaryCompanyID <= 0 {
		return Bill{}, fmt.Errorf("%w: beneficiary company required", shared.ErrBadRequest)
	}
	q := s.db.Querier(ctx)
	row := q.QueryRow(ctx, `
		INSERT INTO bills (uuid, invoice_id, company_id, status, amount, currency, due_date, created_at, updated_at)
		SELECT $1, i.id, $3, 'PENDING', i.total, i.currency, i.due_date, $4, $4
		FROM invoices i
		WHERE i.uuid = $2
		ON CONFLICT (invoice_id) DO NOTHING
		RETURNING `+billColumns,
		uuid.New(), invoiceUUID, beneficiaryCompanyID, s.clock())
	b, err := scanBill(row)
	if err == nil {
		return b, nil
	}
	if !db.IsNoRows(err) {
		return Bill{}, fmt.Errorf("bill: create from invoice %s: %w", invoiceUUID, err)
	}
	// Either the invoice is unknown or its bill already exists.
	row = q.QueryRow(ctx, `
		SELECT `+prefixedBillColumns+`
		FROM bills b JOIN invoices i ON i.id = b.invoice_id
		WHERE i.uuid = $1`, invoiceUUID)
	b, err = scanBill(row)
	if db.IsNoRows(err) {
		return Bill{}, fmt.Errorf("%w: invoice %s", shared.ErrNotFound, invoiceUUID)
	}
	return b, err
}

// UpdateStatus moves a bill owned by companyID to status.
func (s *Service) UpdateStatus(ctx context.Context, billID, companyID int64, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: bill status %q", shared.ErrBadRequest, status)
	}
	tag, err := s.db.Querier(ctx).Exec(ctx, `
		UPDATE bills
		SET status = $3,
		    paid_at = CASE WHEN $3 = 'PAID' THEN $4 ELSE NULL END,
		    updated_at = $4
		WHERE id = $1 AND company_id = $2
	`, billID, companyID, string(status), s.clock())
	if err != nil {
		return fmt.Errorf("bill: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bill %d", shared.ErrNotFound, billID)
	}
	return nil
}

// Delete removes a bill owned by companyID.
func (s *Service) Delete(ctx context.Context, billUUID uuid.UUID, companyID int64) error {
	tag, err := s.db.Querier(ctx).Exec(ctx, `DELETE FROM bills WHERE uuid = $1 AND company_id = $2`, billUUID, companyID)
	if err != nil {
		return fmt.Errorf("bill: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bill %s", shared.ErrNotFound, billUUID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBill(row scanner) (Bill, error) {
	var (
		b      Bill
		status string
		amount string
	)
	if err := row.Scan(&b.ID, &b.UUID, &b.InvoiceID, &b.CompanyID, &status, &amount, &b.Currency,
		&b.DueDate, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Bill{}, err
	}
	b.Status = Status(status)
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return Bill{}, fmt.Errorf("bill: amount: %w", err)
	}
	b.Amount = amt
	return b, nil
}
