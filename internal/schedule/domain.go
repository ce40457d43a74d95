// Package schedule maintains recurring invoice schedules and generates the
// invoices of the schedules that fall due.
package schedule

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/invoice"
)

// Frequency is the cadence of a schedule.
type Frequency string

const (
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyBiweekly  Frequency = "BIWEEKLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
)

const (
	defaultDayOfMonth = 1
	defaultDayOfWeek  = int(time.Monday)
)

// Rule decides when a schedule generates its next invoice.
type Rule struct {
	Frequency          Frequency `json:"frequency"`
	DayOfMonth         *int      `json:"dayOfMonth,omitempty"`
	DayOfWeek          *int      `json:"dayOfWeek,omitempty"`
	GenerateDaysBefore int       `json:"generateDaysBefore"`
}

func (r Rule) dayOfMonth() int {
	if r.DayOfMonth == nil {
		return defaultDayOfMonth
	}
	return *r.DayOfMonth
}

func (r Rule) dayOfWeek() int {
	if r.DayOfWeek == nil {
		return defaultDayOfWeek
	}
	return *r.DayOfWeek
}

func (r Rule) equal(o Rule) bool {
	return r.Frequency == o.Frequency &&
		r.dayOfMonth() == o.dayOfMonth() &&
		r.dayOfWeek() == o.dayOfWeek() &&
		r.GenerateDaysBefore == o.GenerateDaysBefore
}

// Template holds the invoice fields copied into every generated invoice.
type Template struct {
	Currency       string              `json:"currency,omitempty" validate:"omitempty,len=3"`
	DueDays        int                 `json:"dueDays,omitempty" validate:"min=0,max=365"`
	Discount       decimal.Decimal     `json:"discount"`
	TaxRate        decimal.Decimal     `json:"taxRate"`
	PaymentNetwork string              `json:"paymentNetwork,omitempty" validate:"max=64"`
	PaymentToken   string              `json:"paymentToken,omitempty" validate:"max=64"`
	WalletAddress  string              `json:"walletAddress,omitempty" validate:"max=128"`
	Notes          string              `json:"notes,omitempty" validate:"max=2000"`
	Items          []invoice.ItemInput `json:"items,omitempty" validate:"dive"`
}

// Schedule generates invoices for one payroll or one client on a cadence.
type Schedule struct {
	ID               int64      `json:"id"`
	UUID             uuid.UUID  `json:"uuid"`
	CompanyID        int64      `json:"companyId"`
	PayrollID        *int64     `json:"payrollId,omitempty"`
	ClientID         *int64     `json:"clientId,omitempty"`
	Rule             Rule       `json:"rule"`
	AutoSend         bool       `json:"autoSend"`
	IsActive         bool       `json:"isActive"`
	NextGenerateDate time.Time  `json:"nextGenerateDate"`
	LastGeneratedAt  *time.Time `json:"lastGeneratedAt,omitempty"`
	Template         Template   `json:"template"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// invoiceInput builds the generation request for the schedule.
func (s *Schedule) invoiceInput() invoice.ScheduledInput {
	t := s.Template
	return invoice.ScheduledInput{
		ScheduleID:     s.ID,
		CompanyID:      s.CompanyID,
		PayrollID:      s.PayrollID,
		ClientID:       s.ClientID,
		Currency:       t.Currency,
		DueDays:        t.DueDays,
		Discount:       t.Discount,
		TaxRate:        t.TaxRate,
		PaymentNetwork: t.PaymentNetwork,
		PaymentToken:   t.PaymentToken,
		WalletAddress:  t.WalletAddress,
		Notes:          t.Notes,
		Items:          t.Items,
		AutoSend:       s.AutoSend,
	}
}

// CreateRequest creates a schedule. Exactly one of PayrollID and ClientID is set.
type CreateRequest struct {
	CompanyID          int64     `json:"companyId" validate:"required,gt=0"`
	PayrollID          *int64    `json:"payrollId" validate:"omitempty,gt=0"`
	ClientID           *int64    `json:"clientId" validate:"omitempty,gt=0"`
	Frequency          Frequency `json:"frequency" validate:"required,oneof=MONTHLY WEEKLY BIWEEKLY QUARTERLY"`
	DayOfMonth         *int      `json:"dayOfMonth" validate:"omitempty,min=1,max=31"`
	DayOfWeek          *int      `json:"dayOfWeek" validate:"omitempty,min=0,max=6"`
	GenerateDaysBefore int       `json:"generateDaysBefore" validate:"min=0,max=90"`
	AutoSend           bool      `json:"autoSend"`
	Template           Template  `json:"template"`
}

func (r CreateRequest) rule() Rule {
	return Rule{
		Frequency:          r.Frequency,
		DayOfMonth:         r.DayOfMonth,
		DayOfWeek:          r.DayOfWeek,
		GenerateDaysBefore: r.GenerateDaysBefore,
	}
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Frequency          *Frequency `json:"frequency" validate:"omitempty,oneof=MONTHLY WEEKLY BIWEEKLY QUARTERLY"`
	DayOfMonth         *int       `json:"dayOfMonth" validate:"omitempty,min=1,max=31"`
	DayOfWeek          *int       `json:"dayOfWeek" validate:"omitempty,min=0,max=6"`
	GenerateDaysBefore *int       `json:"generateDaysBefore" validate:"omitempty,min=0,max=90"`
	AutoSend           *bool      `json:"autoSend"`
	Template           *Template  `json:"template"`
}

// ListFilter narrows schedule listings.
type ListFilter struct {
	CompanyID int64
	Active    *bool
	PayrollID int64
	ClientID  int64
	Page      int
	Limit     int
}

// RunResult counts the outcome of one generation run.
type RunResult struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
