// Package calc implements invoice line item and aggregate arithmetic on fixed-point decimals.
package calc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/shared"
)

const (
	// MaxInputScale is the number of fractional digits accepted on inputs.
	MaxInputScale = 8
	// MoneyScale is the number of fractional digits of every computed amount.
	MoneyScale = 2
)

var hundred = decimal.NewFromInt(100)

// ItemInput holds the raw monetary inputs of one line item.
type ItemInput struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	TaxRate   decimal.Decimal
}

// ItemAmounts holds the computed amounts of one line item, rounded to MoneyScale.
type ItemAmounts struct {
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	AfterDiscount decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
}

// Totals is the invoice aggregate.
type Totals struct {
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// Round rounds half away from zero to MoneyScale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// CheckScale rejects values with more than MaxInputScale significant fractional digits.
func CheckScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MaxInputScale)) {
		return shared.Invalid(field, fmt.Sprintf("at most %d decimal places allowed", MaxInputScale))
	}
	return nil
}

// CheckRate validates a percentage rate.
func CheckRate(field string, rate decimal.Decimal) error {
	if err := CheckScale(field, rate); err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return shared.Invalid(field, "must be between 0 and 100")
	}
	return nil
}

// Validate checks the ranges and scale of an item input.
func (in ItemInput) Validate() error {
	verr := &shared.ValidationError{}
	add := func(err error) {
		if e, ok := err.(*shared.ValidationError); ok {
			verr.Fields = append(verr.Fields, e.Fields...)
		}
	}
	add(CheckScale("quantity", in.Quantity))
	add(CheckScale("unitPrice", in.UnitPrice))
	add(CheckScale("discount", in.Discount))
	add(CheckRate("taxRate", in.TaxRate))
	if !in.Quantity.IsPositive() {
		verr.Fields = append(verr.Fields, shared.FieldError{Field: "quantity", Message: "must be greater than 0"})
	}
	if in.UnitPrice.IsNegative() {
		verr.Fields = append(verr.Fields, shared.FieldError{Field: "unitPrice", Message: "must not be negative"})
	}
	if in.Discount.IsNegative() {
		verr.Fields = append(verr.Fields, shared.FieldError{Field: "discount", Message: "must not be negative"})
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// CalculateItem validates the input and computes its amounts:
// subtotal = qty*price, afterDiscount = subtotal-discount,
// tax = afterDiscount*rate/100, total = afterDiscount+tax.
func CalculateItem(in ItemInput) (ItemAmounts, error) {
	if err := in.Validate(); err != nil {
		return ItemAmounts{}, err
	}
	subtotal := Round(in.Quantity.Mul(in.UnitPrice))
	discount := Round(in.Discount)
	if discount.GreaterThan(subtotal) {
		return ItemAmounts{}, shared.Invalid("discount", "exceeds item subtotal")
	}
	after := subtotal.Sub(discount)
	tax := Round(after.Mul(in.TaxRate).Div(hundred))
	return ItemAmounts{
		Subtotal:      subtotal,
		Discount:      discount,
		AfterDiscount: after,
		Tax:           tax,
		Total:         after.Add(tax),
	}, nil
}

// Aggregate sums item amounts and applies the invoice-level discount and tax rate.
// The invoice total equals the sum of item totals minus the invoice discount
// plus the invoice-level tax.
func Aggregate(items []ItemAmounts, discount, taxRate decimal.Decimal) (Totals, error) {
	if err := CheckScale("discount", discount); err != nil {
		return Totals{}, err
	}
	if discount.IsNegative() {
		return Totals{}, shared.Invalid("discount", "must not be negative")
	}
	if err := CheckRate("taxRate", taxRate); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	after := decimal.Zero
	itemTax := decimal.Zero
	itemTotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal)
		after = after.Add(it.AfterDiscount)
		itemTax = itemTax.Add(it.Tax)
		itemTotal = itemTotal.Add(it.Total)
	}

	discount = Round(discount)
	if discount.GreaterThan(after) {
		return Totals{}, shared.Invalid("discount", "exceeds invoice amount")
	}
	invoiceTax := Round(after.Sub(discount).Mul(taxRate).Div(hundred))

	return Totals{
		Subtotal:  subtotal,
		Discount:  discount,
		TaxRate:   taxRate,
		TaxAmount: itemTax.Add(invoiceTax),
		Total:     itemTotal.Sub(discount).Add(invoiceTax),
	}, nil
}
