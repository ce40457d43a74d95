// Package party resolves the companies, clients and payroll runs invoices are issued for.
package party

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// Company is a registered tenant.
type Company struct {
	ID      int64
	Name    string
	Email   string
	Address string
	TaxID   string
}

// Client is an external counterparty owned by a company. RegisteredCompanyID
// is set when the client is itself a registered company.
type Client struct {
	ID                  int64
	CompanyID           int64
	Name                string
	Email               string
	Address             string
	TaxID               string
	RegisteredCompanyID *int64
}

// Payroll is the employee and company snapshot of one payroll run.
type Payroll struct {
	ID              int64
	CompanyID       int64
	EmployeeID      int64
	EmployeeEmail   string
	EmployeeName    string
	EmployeeAddress string
	Amount          decimal.Decimal
	Currency        string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	PaymentNetwork  string
	PaymentToken    string
	WalletAddress   string
	Company         Company
}

// Repository reads party records, joining the transaction carried by ctx.
type Repository struct {
	db shared.QuerierSource
}

// NewRepository constructs a repository.
func NewRepository(source shared.QuerierSource) *Repository {
	return &Repository{db: source}
}

// GetCompany loads a company by id.
func (r *Repository) GetCompany(ctx context.Context, id int64) (Company, error) {
	var c Company
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, name, email, address, tax_id FROM companies WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Address, &c.TaxID)
	if db.IsNoRows(err) {
		return Company{}, fmt.Errorf("%w: company %d", shared.ErrNotFound, id)
	}
	return c, err
}

// GetClient loads a client owned by companyID.
func (r *Repository) GetClient(ctx context.Context, id, companyID int64) (Client, error) {
	var c Client
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, company_id, name, email, address, tax_id, registered_company_id
		FROM clients WHERE id = $1 AND company_id = $2
	`, id, companyID).Scan(&c.ID, &c.CompanyID, &c.Name, &c.Email, &c.Address, &c.TaxID, &c.RegisteredCompanyID)
	if db.IsNoRows(err) {
		return Client{}, fmt.Errorf("%w: client %d", shared.ErrNotFound, id)
	}
	return c, err
}

// GetPayroll loads a payroll run owned by companyID together with its company.
func (r *Repository) GetPayroll(ctx context.Context, id, companyID int64) (Payroll, error) {
	var (
		p      Payroll
		amount string
	)
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT p.id, p.company_id, p.employee_id, p.employee_email, p.employee_name, p.employee_address,
		       p.amount::text, p.currency, p.period_start, p.period_end,
		       p.payment_network, p.payment_token, p.wallet_address,
		       c.id, c.name, c.email, c.address, c.tax_id
		FROM payrolls p
		JOIN companies c ON c.id = p.company_id
		WHERE p.id = $1 AND p.company_id = $2
	`, id, companyID).Scan(
		&p.ID, &p.CompanyID, &p.EmployeeID, &p.EmployeeEmail, &p.EmployeeName, &p.EmployeeAddress,
		&amount, &p.Currency, &p.PeriodStart, &p.PeriodEnd,
		&p.PaymentNetwork, &p.PaymentToken, &p.WalletAddress,
		&p.Company.ID, &p.Company.Name, &p.Company.Email, &p.Company.Address, &p.Company.TaxID,
	)
	if db.IsNoRows(err) {
		return Payroll{}, fmt.Errorf("%w: payroll %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Payroll{}, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Payroll{}, fmt.Errorf("party: payroll %d amount: %w", id, err)
	}
	return p, nil
}
