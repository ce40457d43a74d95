package invoice

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type distinguishes the invoice variants.
type Type string

const (
	TypeEmployee Type = "EMPLOYEE"
	TypeB2B      Type = "B2B"
)

// Status enumerates the lifecycle states of an invoice.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusReviewed  Status = "REVIEWED"
	StatusConfirmed Status = "CONFIRMED"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusSent, StatusReviewed, StatusConfirmed, StatusPaid, StatusOverdue, StatusCancelled}

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	return slices.Contains(Statuses, s)
}

// IsTerminal reports whether no further action is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// CanEdit reports whether items and amounts may still change.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

// overdueSources are the statuses swept to OVERDUE once past due.
var overdueSources = []Status{StatusSent, StatusReviewed, StatusConfirmed}

// PartyDetails is the name/address snapshot printed on an invoice.
type PartyDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
}

// Subject is the variant-specific part of an invoice: PayrollSubject or B2BSubject.
type Subject interface {
	Type() Type
	isSubject()
}

// PayrollSubject binds an EMPLOYEE invoice to a payroll run and its employee.
type PayrollSubject struct {
	PayrollID     int64  `json:"payrollId"`
	EmployeeID    int64  `json:"employeeId"`
	EmployeeEmail string `json:"employeeEmail"`
}

func (PayrollSubject) Type() Type { return TypeEmployee }
func (PayrollSubject) isSubject() {}

// B2BSubject binds a B2B invoice to its recipient. At least one of
// ToCompanyID, ToClientID or ToName identifies the recipient.
type B2BSubject struct {
	ToCompanyID *int64 `json:"toCompanyId,omitempty"`
	ToClientID  *int64 `json:"toClientId,omitempty"`
	ToName      string `json:"toName"`
	ToEmail     string `json:"toEmail,omitempty"`
}

func (B2BSubject) Type() Type { return TypeB2B }
func (B2BSubject) isSubject() {}

// BillRef points at the bill created for a confirmed B2B invoice.
type BillRef struct {
	ID        int64     `json:"id"`
	UUID      uuid.UUID `json:"uuid"`
	CompanyID int64     `json:"companyId"`
	Status    string    `json:"status"`
}

// Invoice is the aggregate root. CompanyID is the issuing company: the
// employer of an EMPLOYEE invoice or the sender of a B2B invoice.
type Invoice struct {
	ID               int64
	UUID             uuid.UUID
	Number           string
	NumberScope      string
	Status           Status
	CompanyID        int64
	Subject          Subject
	ScheduleID       *int64
	IssueDate        time.Time
	DueDate          time.Time
	Currency         string
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	TaxRate          decimal.Decimal
	TaxAmount        decimal.Decimal
	Total            decimal.Decimal
	From             PartyDetails
	To               PartyDetails
	PaymentNetwork   string
	PaymentToken     string
	WalletAddress    string
	Notes            string
	ConfirmTokenHash string
	SentAt           *time.Time
	ReviewedAt       *time.Time
	ConfirmedAt      *time.Time
	PaidAt           *time.Time
	CancelledAt      *time.Time
	Bill             *BillRef
	Items            []Item
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Type returns the variant of the invoice.
func (i *Invoice) Type() Type {
	if i == nil || i.Subject == nil {
		return ""
	}
	return i.Subject.Type()
}

// Payroll returns the EMPLOYEE variant.
func (i *Invoice) Payroll() (PayrollSubject, bool) {
	if i == nil {
		return PayrollSubject{}, false
	}
	s, ok := i.Subject.(PayrollSubject)
	return s, ok
}

// B2B returns the B2B variant.
func (i *Invoice) B2B() (B2BSubject, bool) {
	if i == nil {
		return B2BSubject{}, false
	}
	s, ok := i.Subject.(B2BSubject)
	return s, ok
}

// invoiceJSON is the wire shape of an invoice.
type invoiceJSON struct {
	ID             int64           `json:"id"`
	UUID           uuid.UUID       `json:"uuid"`
	Number         string          `json:"invoiceNumber"`
	Type           Type            `json:"invoiceType"`
	Status         Status          `json:"status"`
	CompanyID      int64           `json:"companyId"`
	Payroll        *PayrollSubject `json:"payroll,omitempty"`
	B2B            *B2BSubject     `json:"b2b,omitempty"`
	ScheduleID     *int64          `json:"scheduleId,omitempty"`
	IssueDate      string          `json:"issueDate"`
	DueDate        string          `json:"dueDate"`
	Currency       string          `json:"currency"`
	Subtotal       string          `json:"subtotal"`
	Discount       string          `json:"discount"`
	TaxRate        string          `json:"taxRate"`
	TaxAmount      string          `json:"taxAmount"`
	Total          string          `json:"total"`
	From           PartyDetails    `json:"fromDetails"`
	To             PartyDetails    `json:"toDetails"`
	PaymentNetwork string          `json:"paymentNetwork,omitempty"`
	PaymentToken   string          `json:"paymentToken,omitempty"`
	WalletAddress  string          `json:"walletAddress,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewedAt,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmedAt,omitempty"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	CancelledAt    *time.Time      `json:"cancelledAt,omitempty"`
	Bill           *BillRef        `json:"bill,omitempty"`
	Items          []Item          `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

const dateLayout = "2006-01-02"

// MarshalJSON renders money as fixed two-decimal strings and nests the variant.
func (i Invoice) MarshalJSON() ([]byte, error) {
	out := invoiceJSON{
		ID:             i.ID,
		UUID:           i.UUID,
		Number:         i.Number,
		Type:           i.Type(),
		Status:         i.Status,
		CompanyID:      i.CompanyID,
		ScheduleID:     i.ScheduleID,
		IssueDate:      i.IssueDate.Format(dateLayout),
		DueDate:        i.DueDate.Format(dateLayout),
		Currency:       i.Currency,
		Subtotal:       i.Subtotal.StringFixed(2),
		Discount:       i.Discount.StringFixed(2),
		TaxRate:        i.TaxRate.String(),
		TaxAmount:      i.TaxAmount.StringFixed(2),
		Total:          i.Total.StringFixed(2),
		From:           i.From,
		To:             i.To,
		PaymentNetwork: i.PaymentNetwork,
		PaymentToken:   i.PaymentToken,
		WalletAddress:  i.WalletAddress,
		Notes:          i.Notes,
		SentAt:         i.SentAt,
		ReviewedAt:     i.ReviewedAt,
		ConfirmedAt:    i.ConfirmedAt,
		PaidAt:         i.PaidAt,
		CancelledAt:    i.CancelledAt,
		Bill:           i.Bill,
		Items:          i.Items,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
	switch s := i.Subject.(type) {
	case PayrollSubject:
		out.Payroll = &s
	case B2BSubject:
		out.B2B = &s
	}
	return json.Marshal(out)
}

// Item is one invoice line. Quantity, UnitPrice, Discount and TaxRate are
// inputs; Subtotal, TaxAmount and Total are derived.
type Item struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoiceId"`
	Description string          `json:"description"`
	Unit        string          `json:"unit,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
	Total       decimal.Decimal `json:"total"`
	SortOrder   int             `json:"sortOrder"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Direction filters listings by the actor's side of the invoice.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	DirectionBoth     Direction = "both"
)

// Visibility is the set of invoices an actor can see.
type Visibility struct {
	CompanyIDs []int64
	Email      string
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Status    Status
	Type      Type
	PayrollID int64
	ClientID  int64
	Currency  string
	Search    string
	Direction Direction
	Page      int
	Limit     int
}

// StatusCount is the number of invoices in one status.
type StatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// CurrencyTotal sums invoice totals in one currency.
type CurrencyTotal struct {
	Currency string          `json:"currency"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

// Stats summarizes the invoices visible to an actor.
type Stats struct {
	Counts      map[Status]int  `json:"counts"`
	Total       int             `json:"total"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ByCurrency  []CurrencyTotal `json:"byCurrency,omitempty"`
}
