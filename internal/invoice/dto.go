package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/ledgerline/invoicing/internal/invoice/calc"
	"github.com/ledgerline/invoicing/internal/shared"
)

// ItemInput describes a line item to create or replace.
type ItemInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Unit        string          `json:"unit" validate:"max=32"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	SortOrder   *int            `json:"sortOrder" validate:"omitempty,min=-2147483648,max=2147483647"`
}

func (in ItemInput) amounts() calc.ItemInput {
	return calc.ItemInput{Quantity: in.Quantity, UnitPrice: in.UnitPrice, Discount: in.Discount, TaxRate: in.TaxRate}
}

// Validate checks the amounts of the item without storing it.
func (in ItemInput) Validate() error {
	_, err := calc.CalculateItem(in.amounts())
	return err
}

// ItemPatch is a partial item update; nil fields are left unchanged.
type ItemPatch struct {
	Description *string          `json:"description" validate:"omitempty,min=1,max=500"`
	Unit        *string          `json:"unit" validate:"omitempty,max=32"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unitPrice"`
	Discount    *decimal.Decimal `json:"discount"`
	TaxRate     *decimal.Decimal `json:"taxRate"`
	SortOrder   *int             `json:"sortOrder" validate:"omitempty,min=-2147483648,max=2147483647"`
}

// ItemOrder assigns a sort order to an item. Orders must fit the INT
// sort_order column.
type ItemOrder struct {
	ItemID    int64 `json:"itemId" validate:"required,gt=0"`
	SortOrder int   `json:"sortOrder" validate:"min=-2147483648,max=2147483647"`
}

// ReorderItemsRequest carries the new item orders.
type ReorderItemsRequest struct {
	Items []ItemOrder `json:"items" validate:"required,min=1,dive"`
}

// ReplaceItemsRequest replaces every item of an invoice.
type ReplaceItemsRequest struct {
	Items []ItemInput `json:"items" validate:"dive"`
}

// CreatePayrollRequest creates an EMPLOYEE invoice for a payroll run. When
// Items is empty a single line for the payroll amount is used.
type CreatePayrollRequest struct {
	CompanyID int64           `json:"companyId" validate:"required,gt=0"`
	PayrollID int64           `json:"payrollId" validate:"required,gt=0"`
	Currency  string          `json:"currency" validate:"omitempty,len=3"`
	IssueDate *Date           `json:"issueDate"`
	DueDate   *Date           `json:"dueDate"`
	Discount  decimal.Decimal `json:"discount"`
	TaxRate   decimal.Decimal `json:"taxRate"`
	Notes     string          `json:"notes" validate:"max=2000"`
	Items     []ItemInput     `json:"items" validate:"dive"`
}

// CreateB2BRequest creates a B2B invoice. Exactly one of ToCompanyID,
// ToClientID or ToName identifies the recipient.
type CreateB2BRequest struct {
	CompanyID      int64           `json:"companyId" validate:"required,gt=0"`
	ToCompanyID    *int64          `json:"toCompanyId" validate:"omitempty,gt=0"`
	ToClientID     *int64          `json:"toClientId" validate:"omitempty,gt=0"`
	ToName         string          `json:"toName" validate:"max=200"`
	ToEmail        string          `json:"toEmail" validate:"omitempty,email"`
	ToAddress      string          `json:"toAddress" validate:"max=500"`
	ToTaxID        string          `json:"toTaxId" validate:"max=64"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	IssueDate      *Date           `json:"issueDate"`
	DueDate        *Date           `json:"dueDate"`
	Discount       decimal.Decimal `json:"discount"`
	TaxRate        decimal.Decimal `json:"taxRate"`
	PaymentNetwork string          `json:"paymentNetwork" validate:"max=64"`
	PaymentToken   string          `json:"paymentToken" validate:"max=64"`
	WalletAddress  string          `json:"walletAddress" validate:"max=128"`
	Notes          string          `json:"notes" validate:"max=2000"`
	Items          []ItemInput     `json:"items" validate:"required,min=1,dive"`
}

func (r CreateB2BRequest) recipientCount() int {
	n := 0
	if r.ToCompanyID != nil {
		n++
	}
	if r.ToClientID != nil {
		n++
	}
	if r.ToCompanyID == nil && r.ToClientID == nil && strings.TrimSpace(r.ToName) != "" {
		n++
	}
	return n
}

// Date accepts either a calendar date or an RFC 3339 timestamp.
type Date struct {
	time.Time
}

// UnmarshalJSON parses "2006-01-02" or RFC 3339.
func (d *Date) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", raw)
}

// MarshalJSON renders the calendar date.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// Ptr returns the wrapped time, or nil for a nil Date.
func (d *Date) Ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", shared.Invalid("currency", fmt.Sprintf("%q is not an ISO 4217 code", code))
	}
	return unit.String(), nil
}

// truncateDate drops the clock part of t in its own location.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// resolveDates defaults the issue date to today and the due date to
// DefaultDueDays later.
func resolveDates(now time.Time, issue, due *time.Time) (time.Time, time.Time, error) {
	issueDate := truncateDate(now)
	if issue != nil {
		issueDate = truncateDate(*issue)
	}
	dueDate := issueDate.AddDate(0, 0, DefaultDueDays)
	if due != nil {
		dueDate = truncateDate(*due)
	}
	if dueDate.Before(issueDate) {
		return time.Time{}, time.Time{}, shared.Invalid("dueDate", "must not be before issueDate")
	}
	return issueDate, dueDate, nil
}

// DefaultDueDays is the payment term used when no due date is given.
const DefaultDueDays = 30
