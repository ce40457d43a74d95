package invoice

import (
	"fmt"
	"slices"

	"github.com/ledgerline/invoicing/internal/shared"
)

// Action is something an actor attempts on an invoice.
type Action string

const (
	ActionView      Action = "view"
	ActionSend      Action = "send"
	ActionReview    Action = "review"
	ActionConfirm   Action = "confirm"
	ActionMarkPaid  Action = "mark_paid"
	ActionCancel    Action = "cancel"
	ActionDelete    Action = "delete"
	ActionEditItems Action = "edit_items"
)

// Authorize decides whether actor may perform action on inv. It returns
// ErrNotFound when the invoice is outside the actor's visibility and
// ErrForbidden when it is visible but the action belongs to another party.
func Authorize(actor shared.Actor, inv *Invoice, action Action) error {
	if inv == nil {
		return shared.ErrNotFound
	}
	owner := actor.MemberOf(inv.CompanyID)
	counterparty := false
	switch s := inv.Subject.(type) {
	case PayrollSubject:
		counterparty = actor.EmailMatches(s.EmployeeEmail)
	case B2BSubject:
		counterparty = s.ToCompanyID != nil && actor.MemberOf(*s.ToCompanyID)
	}
	if !owner && !counterparty {
		return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, inv.ID)
	}

	allowed := false
	switch action {
	case ActionView:
		allowed = true
	case ActionSend, ActionCancel, ActionDelete, ActionEditItems, ActionMarkPaid:
		allowed = owner
	case ActionReview, ActionConfirm:
		allowed = counterparty
	}
	if !allowed {
		return fmt.Errorf("%w: %s not permitted on invoice %d", shared.ErrForbidden, action, inv.ID)
	}
	return nil
}

// VisibilityOf returns the listing scope of an actor.
func VisibilityOf(actor shared.Actor) Visibility {
	return Visibility{CompanyIDs: actor.CompanyIDs, Email: actor.Email}
}

type transition struct {
	from    []Status
	to      Status
	variant Type
}

// transitions is the lifecycle table. An empty variant applies to both.
var transitions = map[Action]transition{
	ActionSend:     {from: []Status{StatusDraft}, to: StatusSent},
	ActionReview:   {from: []Status{StatusSent}, to: StatusReviewed, variant: TypeEmployee},
	ActionMarkPaid: {from: []Status{StatusConfirmed}, to: StatusPaid, variant: TypeB2B},
	ActionCancel: {
		from: []Status{StatusDraft, StatusSent, StatusReviewed, StatusConfirmed, StatusOverdue},
		to:   StatusCancelled,
	},
}

// confirmSources differ per variant: employees confirm after review, B2B
// recipients confirm what was sent.
var confirmSources = map[Type]Status{
	TypeEmployee: StatusReviewed,
	TypeB2B:      StatusSent,
}

// NextStatus returns the status inv moves to under action.
func NextStatus(inv *Invoice, action Action) (Status, error) {
	if inv.Status.IsTerminal() {
		return "", fmt.Errorf("%w: invoice %d is %s", shared.ErrInvalidState, inv.ID, inv.Status)
	}
	if action == ActionConfirm {
		from, ok := confirmSources[inv.Type()]
		if !ok {
			return "", fmt.Errorf("%w: unknown invoice type", shared.ErrBadRequest)
		}
		if inv.Status != from {
			return "", fmt.Errorf("%w: cannot confirm invoice %d from %s", shared.ErrInvalidState, inv.ID, inv.Status)
		}
		return StatusConfirmed, nil
	}
	t, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: %s is not a status transition", shared.ErrBadRequest, action)
	}
	if t.variant != "" && t.variant != inv.Type() {
		return "", fmt.Errorf("%w: %s applies to %s invoices only", shared.ErrBadRequest, action, t.variant)
	}
	if !slices.Contains(t.from, inv.Status) {
		return "", fmt.Errorf("%w: cannot %s invoice %d from %s", shared.ErrInvalidState, action, inv.ID, inv.Status)
	}
	return t.to, nil
}
