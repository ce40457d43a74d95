package numbering

import (
	"context"
	"time"

	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// Repository is the PostgreSQL Store. It joins the transaction carried by ctx.
type Repository struct {
	db shared.QuerierSource
}

// NewRepository constructs a repository.
func NewRepository(source shared.QuerierSource) *Repository {
	return &Repository{db: source}
}

// Next upserts the counter row. The row lock taken by ON CONFLICT DO UPDATE
// serializes concurrent creators in the same scope.
func (r *Repository) Next(ctx context.Context, scope string, floor int64) (int64, error) {
	const query = `
		INSERT INTO invoice_number_counters (scope, last_value, updated_at)
		VALUES ($1, $2 + 1, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET last_value = GREATEST(invoice_number_counters.last_value, $2) + 1,
		    updated_at = NOW()
		RETURNING last_value
	`
	var value int64
	if err := r.db.Querier(ctx).QueryRow(ctx, query, scope, floor).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

// CountPayrollInvoices counts invoices already issued for a payroll and employee.
func (r *Repository) CountPayrollInvoices(ctx context.Context, payrollID, employeeID int64) (int64, error) {
	var count int64
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE invoice_type = 'EMPLOYEE' AND payroll_id = $1 AND employee_id = $2
	`, payrollID, employeeID).Scan(&count)
	return count, err
}

// CountCompanyInvoicesInMonth counts every invoice of the company, of either
// type, issued in [from, to).
func (r *Repository) CountCompanyInvoicesInMonth(ctx context.Context, companyID int64, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE company_id = $1
		  AND issue_date >= $2 AND issue_date < $3
	`, companyID, from, to).Scan(&count)
	return count, err
}

// LatestB2BNumber returns the highest INV-B2B- number issued to the
// recipient, or "".
func (r *Repository) LatestB2BNumber(ctx context.Context, senderID int64, recipient Recipient) (string, error) {
	query := `
		SELECT invoice_number FROM invoices
		WHERE invoice_type = 'B2B' AND company_id = $1 AND to_company_id = $2
		  AND invoice_number LIKE 'INV-B2B-%'
		ORDER BY invoice_number DESC
		LIMIT 1
	`
	var arg any = recipient.CompanyID
	if recipient.CompanyID <= 0 {
		query = `
			SELECT invoice_number FROM invoices
			WHERE invoice_type = 'B2B' AND company_id = $1 AND to_company_id IS NULL
			  AND LOWER(TRIM(to_name)) = LOWER(TRIM($2))
			  AND invoice_number LIKE 'INV-B2B-%'
			ORDER BY invoice_number DESC
			LIMIT 1
		`
		arg = recipient.Name
	}
	var number string
	err := r.db.Querier(ctx).QueryRow(ctx, query, senderID, arg).Scan(&number)
	if db.IsNoRows(err) {
		return "", nil
	}
	return number, err
}
