package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/invoicing/internal/shared"
)

type loader func(ctx context.Context) (*Invoice, error)

// transitionHook runs inside the transaction before the status is written.
type transitionHook func(ctx context.Context, inv *Invoice, at time.Time) error

func (s *Service) byID(id int64) loader {
	return func(ctx context.Context) (*Invoice, error) {
		return s.repo.GetForUpdate(ctx, id)
	}
}

// apply loads and locks the invoice, runs check, moves it along the
// lifecycle table and records the audit entry in one transaction.
func (s *Service) apply(ctx context.Context, actor shared.Actor, action Action, load loader, check func(*Invoice) error, hook transitionHook) (*Invoice, error) {
	var out *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		inv, err := load(ctx)
		if err != nil {
			return err
		}
		if err := check(inv); err != nil {
			return err
		}
		if err := s.advance(ctx, actor, inv, action, hook); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) advance(ctx context.Context, actor shared.Actor, inv *Invoice, action Action, hook transitionHook) error {
	next, err := NextStatus(inv, action)
	if err != nil {
		return err
	}
	now := s.now()
	if hook != nil {
		if err := hook(ctx, inv, now); err != nil {
			return err
		}
	}
	from := inv.Status
	if err := s.repo.UpdateStatus(ctx, inv.ID, from, next, now); err != nil {
		return err
	}
	inv.Status = next
	inv.UpdatedAt = now
	stamp(inv, next, now)
	return s.record(ctx, actor, inv, "invoice."+string(action), from, next, nil)
}

func stamp(inv *Invoice, status Status, at time.Time) {
	t := at
	switch status {
	case StatusSent:
		inv.SentAt = &t
	case StatusReviewed:
		inv.ReviewedAt = &t
	case StatusConfirmed:
		inv.ConfirmedAt = &t
	case StatusPaid:
		inv.PaidAt = &t
	case StatusCancelled:
		inv.CancelledAt = &t
	}
}

func authorizer(actor shared.Actor, action Action) func(*Invoice) error {
	return func(inv *Invoice) error {
		return Authorize(actor, inv, action)
	}
}

// Send moves a DRAFT invoice to SENT and notifies the recipient. B2B
// invoices receive a public confirmation token.
func (s *Service) Send(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error) {
	var token string
	inv, err := s.apply(ctx, actor, ActionSend, s.byID(id), authorizer(actor, ActionSend),
		func(ctx context.Context, inv *Invoice, _ time.Time) error {
			t, err := s.issueConfirmToken(ctx, inv)
			token = t
			return err
		})
	if err != nil {
		return nil, err
	}
	s.notifySent(ctx, inv, token)
	return inv, nil
}

// issueConfirmToken stores the hash of a fresh token for B2B invoices.
func (s *Service) issueConfirmToken(ctx context.Context, inv *Invoice) (string, error) {
	if inv.Type() != TypeB2B {
		return "", nil
	}
	token, hash, err := newConfirmToken()
	if err != nil {
		return "", err
	}
	if err := s.repo.SetConfirmTokenHash(ctx, inv.ID, hash); err != nil {
		return "", err
	}
	inv.ConfirmTokenHash = hash
	return token, nil
}

// Review marks a SENT EMPLOYEE invoice as reviewed by its employee.
func (s *Service) Review(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error) {
	return s.apply(ctx, actor, ActionReview, s.byID(id), authorizer(actor, ActionReview), nil)
}

// Confirm confirms an invoice as its counterparty: the employee after review,
// or a member of the recipient company of a SENT B2B invoice.
func (s *Service) Confirm(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error) {
	inv, err := s.apply(ctx, actor, ActionConfirm, s.byID(id), authorizer(actor, ActionConfirm), nil)
	if err != nil {
		return nil, err
	}
	s.afterConfirm(ctx, inv)
	return inv, nil
}

// ConfirmPublic confirms a SENT B2B invoice with the token mailed to its recipient.
func (s *Service) ConfirmPublic(ctx context.Context, invoiceUUID uuid.UUID, token string) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		loaded, err := s.repo.GetByUUIDForUpdate(ctx, invoiceUUID)
		if err != nil {
			return err
		}
		if err := verifyConfirmToken(loaded, token); err != nil {
			return err
		}
		recipient := shared.Actor{Email: loaded.To.Email}
		if err := s.advance(ctx, recipient, loaded, ActionConfirm, nil); err != nil {
			return err
		}
		inv = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterConfirm(ctx, inv)
	return inv, nil
}

func (s *Service) afterConfirm(ctx context.Context, inv *Invoice) {
	if inv.Type() == TypeB2B {
		s.createBill(ctx, inv)
	}
	s.notifyConfirmed(ctx, inv)
}

// MarkPaid marks a CONFIRMED B2B invoice as paid by its sender and
// propagates the payment to the linked bill.
func (s *Service) MarkPaid(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error) {
	inv, err := s.apply(ctx, actor, ActionMarkPaid, s.byID(id), authorizer(actor, ActionMarkPaid), nil)
	if err != nil {
		return nil, err
	}
	s.markBillPaid(ctx, inv)
	return inv, nil
}

// Cancel cancels a non-terminal invoice and removes its bill.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) (*Invoice, error) {
	inv, err := s.apply(ctx, actor, ActionCancel, s.byID(id), authorizer(actor, ActionCancel), nil)
	if err != nil {
		return nil, err
	}
	s.deleteBill(ctx, inv)
	return inv, nil
}

// Delete removes a DRAFT invoice and its items.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		inv, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, inv, ActionDelete); err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return fmt.Errorf("%w: only DRAFT invoices can be deleted, invoice %d is %s", shared.ErrInvalidState, inv.ID, inv.Status)
		}
		if err := s.repo.Delete(ctx, inv.ID); err != nil {
			return err
		}
		return s.record(ctx, actor, inv, "invoice.delete", inv.Status, "", nil)
	})
}

// SweepOverdue moves every SENT, REVIEWED or CONFIRMED invoice due on or
// before now to OVERDUE and returns how many changed.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		marked, err := s.repo.MarkOverdue(ctx, now)
		if err != nil {
			return err
		}
		count = len(marked)
		if s.audit == nil {
			return nil
		}
		for _, id := range marked {
			if err := s.audit.Record(ctx, shared.AuditLog{
				ActorEmail: shared.System.Email,
				Action:     "invoice.overdue",
				Entity:     AuditEntity,
				EntityID:   id.String(),
				ToStatus:   string(StatusOverdue),
				At:         now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
