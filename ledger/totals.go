package ledger

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of minor-unit digits totals are rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// SaleTotals is the money summary of a sale.
//
//	Subtotal   = Σ Quantity × UnitPrice (exact)
//	TaxAmount  = round((Subtotal - Discount) × TaxRate / 100, 2)
//	GrandTotal = Subtotal - Discount + TaxAmount
type SaleTotals struct {
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	TaxRate    decimal.Decimal
	TaxAmount  decimal.Decimal
	GrandTotal decimal.Decimal
}

// LineTotal is quantity × price, never rounded.
func LineTotal(qty int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty))
}

// ComputeSaleTotals fills LineTotal on every line and derives the totals.
func ComputeSaleTotals(lines []SaleLine, discount, taxRate decimal.Decimal) ([]SaleLine, SaleTotals) {
	out := make([]SaleLine, len(lines))
	subtotal := decimal.Zero
	for i, l := range lines {
		l.LineTotal = LineTotal(l.Quantity, l.UnitPrice)
		subtotal = subtotal.Add(l.LineTotal)
		out[i] = l
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(taxRate).Div(hundred).Round(MoneyPlaces)

	return out, SaleTotals{
		Subtotal:   subtotal,
		Discount:   discount,
		TaxRate:    taxRate,
		TaxAmount:  tax,
		GrandTotal: taxable.Add(tax),
	}
}

// ComputePurchaseTotal fills LineTotal on every line and returns the sum.
func ComputePurchaseTotal(lines []PurchaseLine) ([]PurchaseLine, decimal.Decimal) {
	out := make([]PurchaseLine, len(lines))
	total := decimal.Zero
	for i, l := range lines {
		l.LineTotal = LineTotal(l.Quantity, l.CostPrice)
		total = total.Add(l.LineTotal)
		out[i] = l
	}
	return out, total
}
