package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/shared"
)

// ScheduledInput describes an invoice generated from a recurring schedule.
// Exactly one of PayrollID and ClientID is set.
type ScheduledInput struct {
	ScheduleID     int64
	CompanyID      int64
	PayrollID      *int64
	ClientID       *int64
	Currency       string
	DueDays        int
	Discount       decimal.Decimal
	TaxRate        decimal.Decimal
	PaymentNetwork string
	PaymentToken   string
	WalletAddress  string
	Notes          string
	Items          []ItemInput
	AutoSend       bool
}

// FollowUp runs the side effects of a scheduled creation once the
// surrounding transaction has committed.
type FollowUp func(ctx context.Context)

func noFollowUp(context.Context) {}

// CreateScheduled creates the invoice of a due schedule as the system actor.
// It joins the transaction in ctx so the caller can commit the invoice
// together with the schedule bookkeeping. A payroll that already has an
// invoice issued in the current month yields ErrConflict.
func (s *Service) CreateScheduled(ctx context.Context, in ScheduledInput) (*Invoice, FollowUp, error) {
	if (in.PayrollID == nil) == (in.ClientID == nil) {
		return nil, nil, fmt.Errorf("%w: schedule %d must bind exactly one of payroll or client", shared.ErrBadRequest, in.ScheduleID)
	}
	now := s.now()
	issue := truncateDate(now)
	dueDays := in.DueDays
	if dueDays <= 0 {
		dueDays = DefaultDueDays
	}
	due := issue.AddDate(0, 0, dueDays)
	scheduleID := in.ScheduleID

	var (
		inv   *Invoice
		token string
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if in.PayrollID != nil {
			if err := s.guardDuplicatePeriod(ctx, *in.PayrollID, now); err != nil {
				return err
			}
			inv, err = s.createPayroll(ctx, payrollInput{
				CompanyID:  in.CompanyID,
				PayrollID:  *in.PayrollID,
				ScheduleID: &scheduleID,
				Currency:   in.Currency,
				IssueDate:  &issue,
				DueDate:    &due,
				Discount:   in.Discount,
				TaxRate:    in.TaxRate,
				Notes:      in.Notes,
				Items:      in.Items,
			})
		} else {
			inv, err = s.createB2B(ctx, b2bInput{
				CompanyID:      in.CompanyID,
				ScheduleID:     &scheduleID,
				ToClientID:     in.ClientID,
				Currency:       in.Currency,
				IssueDate:      &issue,
				DueDate:        &due,
				Discount:       in.Discount,
				TaxRate:        in.TaxRate,
				PaymentNetwork: in.PaymentNetwork,
				PaymentToken:   in.PaymentToken,
				WalletAddress:  in.WalletAddress,
				Notes:          in.Notes,
				Items:          in.Items,
			})
		}
		if err != nil {
			return err
		}
		meta := map[string]any{"schedule_id": in.ScheduleID}
		if err := s.record(ctx, shared.System, inv, "invoice.create", "", inv.Status, meta); err != nil {
			return err
		}
		if !in.AutoSend {
			return nil
		}
		return s.advance(ctx, shared.System, inv, ActionSend, func(ctx context.Context, inv *Invoice, _ time.Time) error {
			t, err := s.issueConfirmToken(ctx, inv)
			token = t
			return err
		})
	})
	if err != nil {
		return nil, nil, err
	}
	if !in.AutoSend {
		return inv, noFollowUp, nil
	}
	sent := inv
	return inv, func(ctx context.Context) { s.notifySent(ctx, sent, token) }, nil
}

func (s *Service) guardDuplicatePeriod(ctx context.Context, payrollID int64, now time.Time) error {
	latest, err := s.repo.LatestPayrollIssueDate(ctx, payrollID)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}
	ly, lm, _ := latest.Date()
	ny, nm, _ := now.Date()
	if ly == ny && lm == nm {
		return fmt.Errorf("%w: payroll %d already invoiced for %04d-%02d", shared.ErrConflict, payrollID, ny, nm)
	}
	return nil
}
