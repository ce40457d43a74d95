package invoice

import (
	"context"
	"log/slog"
	"time"

	"github.com/ledgerline/invoicing/internal/bill"
)

// NotificationKind names the lifecycle event a notification announces.
type NotificationKind string

const (
	NotifySent      NotificationKind = "invoice.sent"
	NotifyConfirmed NotificationKind = "invoice.confirmed"
)

// Notification is handed to the Notifier after a transition commits.
type Notification struct {
	Kind       NotificationKind
	Invoice    *Invoice
	To         string
	ConfirmURL string
}

//go:generate mockgen -source=effects.go -destination=mock_notifier_test.go -package=invoice

// Notifier delivers lifecycle notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

const sideEffectTimeout = 10 * time.Second

// detached keeps side effects alive after the request context is cancelled.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func (s *Service) sideEffectFailed(effect string, inv *Invoice, err error) {
	s.logger.Warn("invoice side effect failed",
		slog.String("effect", effect),
		slog.String("invoice_uuid", inv.UUID.String()),
		slog.String("invoice_number", inv.Number),
		slog.Any("error", err))
	if s.metrics != nil {
		s.metrics.SideEffectFailed(effect)
	}
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil || n.To == "" {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.sideEffectFailed("notify."+string(n.Kind), n.Invoice, err)
	}
}

func (s *Service) notifySent(ctx context.Context, inv *Invoice, token string) {
	n := Notification{Kind: NotifySent, Invoice: inv, To: inv.To.Email}
	if p, ok := inv.Payroll(); ok {
		n.To = p.EmployeeEmail
	}
	if token != "" {
		n.ConfirmURL = s.ConfirmURL(inv, token)
	}
	s.notify(ctx, n)
}

func (s *Service) notifyConfirmed(ctx context.Context, inv *Invoice) {
	s.notify(ctx, Notification{Kind: NotifyConfirmed, Invoice: inv, To: inv.From.Email})
}

// ConfirmURL is the public link a B2B recipient follows to confirm inv.
func (s *Service) ConfirmURL(inv *Invoice, token string) string {
	return s.publicBaseURL + "/public/invoices/" + inv.UUID.String() + "?token=" + token
}

// createBill opens the payable for the recipient company of a confirmed B2B
// invoice. Recipients outside the platform have no bill.
func (s *Service) createBill(ctx context.Context, inv *Invoice) {
	sub, ok := inv.B2B()
	if !ok || sub.ToCompanyID == nil || s.bills == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	b, err := s.bills.CreateFromInvoice(ctx, inv.UUID, *sub.ToCompanyID)
	if err != nil {
		s.sideEffectFailed("bill.create", inv, err)
		return
	}
	inv.Bill = &BillRef{ID: b.ID, UUID: b.UUID, CompanyID: b.CompanyID, Status: string(b.Status)}
}

func (s *Service) markBillPaid(ctx context.Context, inv *Invoice) {
	if inv.Bill == nil || s.bills == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.bills.UpdateStatus(ctx, inv.Bill.ID, inv.Bill.CompanyID, bill.StatusPaid); err != nil {
		s.sideEffectFailed("bill.mark_paid", inv, err)
		return
	}
	inv.Bill.Status = string(bill.StatusPaid)
}

func (s *Service) deleteBill(ctx context.Context, inv *Invoice) {
	if inv.Bill == nil || s.bills == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.bills.Delete(ctx, inv.Bill.UUID, inv.Bill.CompanyID); err != nil {
		s.sideEffectFailed("bill.delete", inv, err)
		return
	}
	inv.Bill = nil
}
