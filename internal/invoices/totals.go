package invoices

import (
	"github.com/shopspring/decimal"

	"crm-import-service/internal/models"
)

var (
	roundingArtifact = decimal.RequireFromString("0.02")
	hundred          = decimal.NewFromInt(100)
)

// Totals are the reconciled header figures of an invoice.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	TaxRate   decimal.Decimal
	Total     decimal.Decimal
	Balance   decimal.Decimal
}

// Reconcile infers the tax on inv from the gap between its recorded total
// and lineTotal, the freshly computed sum of its items.
//
// A recorded total of zero or less is replaced by lineTotal. A negative gap
// of at most 0.02 is a rounding artifact and is absorbed into the subtotal. A
// larger negative gap means the detail outgrew the stale total; the detail
// wins and the tax is zero. The second result reports whether subtotal,
// total or tax amount differ from what inv records. A lineTotal of zero or
// less leaves everything untouched.
func Reconcile(inv *models.Invoice, lineTotal decimal.Decimal) (Totals, bool) {
	recordedSubtotal := inv.Subtotal.Round(2)
	recordedTotal := inv.Total.Round(2)
	recordedTax := inv.TaxAmount.Round(2)

	if !lineTotal.IsPositive() {
		return Totals{
			Subtotal:  inv.Subtotal,
			TaxAmount: inv.TaxAmount,
			TaxRate:   inv.TaxRate,
			Total:     inv.Total,
			Balance:   inv.Balance,
		}, false
	}

	lineTotal = lineTotal.Round(2)
	originalTotal := recordedTotal
	if !originalTotal.IsPositive() {
		originalTotal = lineTotal
	}

	tax := originalTotal.Sub(lineTotal).Round(2)
	if tax.IsNegative() && tax.Abs().LessThanOrEqual(roundingArtifact) {
		lineTotal = lineTotal.Add(tax).Round(2)
		tax = decimal.Zero
	}
	if tax.IsNegative() {
		tax = decimal.Zero
	}

	rate := decimal.Zero
	if lineTotal.IsPositive() {
		rate = tax.Div(lineTotal).Mul(hundred).Round(4)
	}
	total := lineTotal.Add(tax).Round(2)

	totals := Totals{
		Subtotal:  lineTotal,
		TaxAmount: tax,
		TaxRate:   rate,
		Total:     total,
		Balance:   total.Sub(inv.PaidAmount).Round(2),
	}
	changed := !lineTotal.Equal(recordedSubtotal) || !total.Equal(recordedTotal) || !tax.Equal(recordedTax)
	return totals, changed
}

// Apply copies t onto inv.
func (t Totals) Apply(inv *models.Invoice) {
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.TaxRate = t.TaxRate
	inv.Total = t.Total
	inv.Balance = t.Balance
}
