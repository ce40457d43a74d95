package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/invoicing/internal/shared"
)

func payrollInvoice(status Status) *Invoice {
	return &Invoice{
		ID:        1,
		Status:    status,
		CompanyID: 1,
		Subject:   PayrollSubject{PayrollID: 10, EmployeeID: 100, EmployeeEmail: "jane@acme.test"},
	}
}

func b2bInvoice(status Status) *Invoice {
	to := int64(3)
	return &Invoice{
		ID:        2,
		Status:    status,
		CompanyID: 2,
		Subject:   B2BSubject{ToCompanyID: &to, ToName: "Initech"},
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		actor  shared.Actor
		inv    *Invoice
		action Action
		want   error
	}{
		{"owner sends payroll", employer, payrollInvoice(StatusDraft), ActionSend, nil},
		{"employee views payroll", employee, payrollInvoice(StatusSent), ActionView, nil},
		{"employee reviews", employee, payrollInvoice(StatusSent), ActionReview, nil},
		{"employee email with padding", shared.Actor{Email: " jane@acme.test "}, payrollInvoice(StatusSent), ActionReview, nil},
		{"employee email differs in case", shared.Actor{Email: "Jane@acme.test"}, payrollInvoice(StatusSent), ActionView, shared.ErrNotFound},
		{"employee cannot send", employee, payrollInvoice(StatusDraft), ActionSend, shared.ErrForbidden},
		{"owner cannot review", employer, payrollInvoice(StatusSent), ActionReview, shared.ErrForbidden},
		{"outsider sees nothing", outsider, payrollInvoice(StatusSent), ActionView, shared.ErrNotFound},
		{"recipient confirms", recipient, b2bInvoice(StatusSent), ActionConfirm, nil},
		{"sender cannot confirm", sender, b2bInvoice(StatusSent), ActionConfirm, shared.ErrForbidden},
		{"sender marks paid", sender, b2bInvoice(StatusConfirmed), ActionMarkPaid, nil},
		{"recipient cannot mark paid", recipient, b2bInvoice(StatusConfirmed), ActionMarkPaid, shared.ErrForbidden},
		{"recipient cannot edit items", recipient, b2bInvoice(StatusDraft), ActionEditItems, shared.ErrForbidden},
		{"nil invoice", sender, nil, ActionView, shared.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.inv, tt.action)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name   string
		inv    *Invoice
		action Action
		want   Status
		err    error
	}{
		{"send draft", b2bInvoice(StatusDraft), ActionSend, StatusSent, nil},
		{"send twice", b2bInvoice(StatusSent), ActionSend, "", shared.ErrInvalidState},
		{"review payroll", payrollInvoice(StatusSent), ActionReview, StatusReviewed, nil},
		{"review b2b", b2bInvoice(StatusSent), ActionReview, "", shared.ErrBadRequest},
		{"confirm reviewed payroll", payrollInvoice(StatusReviewed), ActionConfirm, StatusConfirmed, nil},
		{"confirm sent payroll", payrollInvoice(StatusSent), ActionConfirm, "", shared.ErrInvalidState},
		{"confirm draft payroll", payrollInvoice(StatusDraft), ActionConfirm, "", shared.ErrInvalidState},
		{"confirm sent b2b", b2bInvoice(StatusSent), ActionConfirm, StatusConfirmed, nil},
		{"mark paid b2b", b2bInvoice(StatusConfirmed), ActionMarkPaid, StatusPaid, nil},
		{"mark paid payroll", payrollInvoice(StatusConfirmed), ActionMarkPaid, "", shared.ErrBadRequest},
		{"mark paid overdue", b2bInvoice(StatusOverdue), ActionMarkPaid, "", shared.ErrInvalidState},
		{"cancel overdue", b2bInvoice(StatusOverdue), ActionCancel, StatusCancelled, nil},
		{"cancel draft", payrollInvoice(StatusDraft), ActionCancel, StatusCancelled, nil},
		{"cancel paid", b2bInvoice(StatusPaid), ActionCancel, "", shared.ErrInvalidState},
		{"anything on cancelled", payrollInvoice(StatusCancelled), ActionSend, "", shared.ErrInvalidState},
		{"delete is not a transition", b2bInvoice(StatusDraft), ActionDelete, "", shared.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStatus(tt.inv, tt.action)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyConfirmToken(t *testing.T) {
	token, hash, err := newConfirmToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, hash)

	inv := b2bInvoice(StatusSent)
	assert.ErrorIs(t, verifyConfirmToken(inv, token), shared.ErrNotFound, "no hash stored yet")

	inv.ConfirmTokenHash = hash
	assert.NoError(t, verifyConfirmToken(inv, token))
	assert.ErrorIs(t, verifyConfirmToken(inv, token+"x"), shared.ErrNotFound)
	assert.ErrorIs(t, verifyConfirmToken(inv, ""), shared.ErrNotFound)

	payroll := payrollInvoice(StatusSent)
	payroll.ConfirmTokenHash = hash
	assert.ErrorIs(t, verifyConfirmToken(payroll, token), shared.ErrNotFound)
}
