// Package numbering issues invoice numbers from atomic per-scope counters.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects the payroll numbering scheme.
type Mode string

const (
	// ModePerPayroll numbers invoices per (payroll, employee): INV-0001.
	ModePerPayroll Mode = "per_payroll"
	// ModeMonthly numbers invoices per company and month: INV-202401-7-0001.
	ModeMonthly Mode = "monthly"
)

// ParseMode validates a configured mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModePerPayroll:
		return ModePerPayroll, nil
	case ModeMonthly:
		return ModeMonthly, nil
	}
	return "", fmt.Errorf("numbering: unknown mode %q", raw)
}

// Number is an issued invoice number and the counter scope it was drawn from.
type Number struct {
	Value string
	Scope string
}

// Recipient identifies the counterparty of a B2B sequence, by company id or by name.
type Recipient struct {
	CompanyID int64
	Name      string
}

func (r Recipient) key() string {
	if r.CompanyID > 0 {
		return "company:" + strconv.FormatInt(r.CompanyID, 10)
	}
	return "name:" + strings.ToLower(strings.TrimSpace(r.Name))
}

// Store advances counters and reports legacy state used to seed them.
type Store interface {
	// Next atomically sets the counter to max(current, floor)+1 and returns it.
	Next(ctx context.Context, scope string, floor int64) (int64, error)
	CountPayrollInvoices(ctx context.Context, payrollID, employeeID int64) (int64, error)
	CountCompanyInvoicesInMonth(ctx context.Context, companyID int64, from, to time.Time) (int64, error)
	LatestB2BNumber(ctx context.Context, senderID int64, recipient Recipient) (string, error)
}

// Generator issues numbers. Calls must run inside the transaction that inserts the invoice.
type Generator struct {
	store Store
}

// NewGenerator constructs a Generator.
func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// Payroll issues INV-{seq} scoped to a payroll and employee.
func (g *Generator) Payroll(ctx context.Context, payrollID, employeeID int64) (Number, error) {
	if payrollID <= 0 {
		return Number{}, errors.New("numbering: payroll id required")
	}
	floor, err := g.store.CountPayrollInvoices(ctx, payrollID, employeeID)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: count payroll invoices: %w", err)
	}
	scope := PayrollScope(payrollID, employeeID)
	seq, err := g.store.Next(ctx, scope, floor)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: advance %s: %w", scope, err)
	}
	return Number{Value: FormatPayroll(seq), Scope: scope}, nil
}

// Monthly issues INV-{yyyy}{mm}-{companyId}-{seq} scoped to a company and calendar month of at.
func (g *Generator) Monthly(ctx context.Context, companyID int64, at time.Time) (Number, error) {
	if companyID <= 0 {
		return Number{}, errors.New("numbering: company id required")
	}
	from := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
	to := from.AddDate(0, 1, 0)
	floor, err := g.store.CountCompanyInvoicesInMonth(ctx, companyID, from, to)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: count monthly invoices: %w", err)
	}
	scope := MonthlyScope(companyID, at)
	seq, err := g.store.Next(ctx, scope, floor)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: advance %s: %w", scope, err)
	}
	return Number{Value: FormatMonthly(at, companyID, seq), Scope: scope}, nil
}

// B2B issues INV-B2B-{seq} scoped to a sender and recipient.
func (g *Generator) B2B(ctx context.Context, senderID int64, recipient Recipient) (Number, error) {
	if senderID <= 0 {
		return Number{}, errors.New("numbering: sender company id required")
	}
	if recipient.CompanyID <= 0 && strings.TrimSpace(recipient.Name) == "" {
		return Number{}, errors.New("numbering: recipient company or name required")
	}
	latest, err := g.store.LatestB2BNumber(ctx, senderID, recipient)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: latest b2b number: %w", err)
	}
	floor, _ := ParseSequence(latest)
	scope := B2BScope(senderID, recipient)
	seq, err := g.store.Next(ctx, scope, floor)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: advance %s: %w", scope, err)
	}
	return Number{Value: FormatB2B(seq), Scope: scope}, nil
}

// PayrollScope is the counter key of a payroll sequence.
func PayrollScope(payrollID, employeeID int64) string {
	return fmt.Sprintf("payroll:%d:%d", payrollID, employeeID)
}

// MonthlyScope is the counter key of a monthly company sequence.
func MonthlyScope(companyID int64, at time.Time) string {
	return fmt.Sprintf("monthly:%d:%04d%02d", companyID, at.Year(), int(at.Month()))
}

// B2BScope is the counter key of a sender/recipient sequence.
func B2BScope(senderID int64, recipient Recipient) string {
	return fmt.Sprintf("b2b:%d:%s", senderID, recipient.key())
}

// FormatPayroll renders INV-0001.
func FormatPayroll(seq int64) string {
	return fmt.Sprintf("INV-%04d", seq)
}

// FormatMonthly renders INV-202401-7-0001.
func FormatMonthly(at time.Time, companyID, seq int64) string {
	return fmt.Sprintf("INV-%04d%02d-%d-%04d", at.Year(), int(at.Month()), companyID, seq)
}

// FormatB2B renders INV-B2B-0001.
func FormatB2B(seq int64) string {
	return fmt.Sprintf("INV-B2B-%04d", seq)
}

// ParseSequence extracts the trailing numeric segment of an invoice number.
func ParseSequence(number string) (int64, bool) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, false
	}
	seq, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
