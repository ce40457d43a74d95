// Package notify turns invoice lifecycle notifications into queued mail tasks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/jobs"
)

// Enqueuer queues mail:send tasks.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// MailNotifier implements invoice.Notifier on top of the task queue.
type MailNotifier struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewMailNotifier constructs a MailNotifier.
func NewMailNotifier(queue Enqueuer, logger *slog.Logger) *MailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailNotifier{queue: queue, logger: logger}
}

// Notify enqueues the mail for n.
func (m *MailNotifier) Notify(ctx context.Context, n invoice.Notification) error {
	if n.Invoice == nil {
		return fmt.Errorf("notify %s: missing invoice", n.Kind)
	}
	payload := Compose(n)
	info, err := m.queue.EnqueueSendEmail(ctx, payload)
	if err != nil {
		return fmt.Errorf("enqueue %s mail: %w", n.Kind, err)
	}
	m.logger.Debug("mail queued",
		slog.String("kind", payload.Kind),
		slog.String("invoice_number", payload.InvoiceNumber),
		slog.String("task_id", info.ID))
	return nil
}

// Compose renders the plain text mail for a notification.
func Compose(n invoice.Notification) jobs.SendEmailPayload {
	inv := n.Invoice
	payload := jobs.SendEmailPayload{
		Kind:          string(n.Kind),
		To:            n.To,
		InvoiceUUID:   inv.UUID.String(),
		InvoiceNumber: inv.Number,
		ConfirmURL:    n.ConfirmURL,
	}
	amount := inv.Total.StringFixed(2) + " " + inv.Currency

	var body strings.Builder
	switch n.Kind {
	case invoice.NotifyConfirmed:
		payload.Subject = fmt.Sprintf("Invoice %s was confirmed", inv.Number)
		fmt.Fprintf(&body, "%s confirmed invoice %s over %s.\n", recipientName(inv), inv.Number, amount)
	default:
		payload.Subject = fmt.Sprintf("Invoice %s from %s", inv.Number, inv.From.Name)
		fmt.Fprintf(&body, "%s sent you invoice %s over %s, due %s.\n",
			inv.From.Name, inv.Number, amount, inv.DueDate.Format("2006-01-02"))
		if n.ConfirmURL != "" {
			fmt.Fprintf(&body, "\nReview and confirm it at %s\n", n.ConfirmURL)
		}
	}
	payload.Body = body.String()
	return payload
}

func recipientName(inv *invoice.Invoice) string {
	if inv.To.Name != "" {
		return inv.To.Name
	}
	return "The recipient"
}
