package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSaleTotals(t *testing.T) {
	tests := []struct {
		name     string
		lines    []SaleLine
		discount string
		rate     string
		subtotal string
		tax      string
		grand    string
	}{
		{
			name:     "no tax no discount",
			lines:    []SaleLine{{Quantity: 2, UnitPrice: decimal.RequireFromString("1.50")}},
			discount: "0", rate: "0",
			subtotal: "3.00", tax: "0.00", grand: "3.00",
		},
		{
			name: "tax rounds half away from zero",
			lines: []SaleLine{
				{Quantity: 1, UnitPrice: decimal.RequireFromString("0.10")},
			},
			discount: "0", rate: "5",
			subtotal: "0.10", tax: "0.01", grand: "0.11",
		},
		{
			name: "discount applied before tax",
			lines: []SaleLine{
				{Quantity: 4, UnitPrice: decimal.RequireFromString("2.50")},
				{Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
			},
			discount: "5", rate: "10",
			subtotal: "15.00", tax: "1.00", grand: "11.00",
		},
		{
			name:     "sub-cent unit price kept exact",
			lines:    []SaleLine{{Quantity: 3, UnitPrice: decimal.RequireFromString("0.333")}},
			discount: "0", rate: "0",
			subtotal: "1.00", tax: "0.00", grand: "1.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, totals := ComputeSaleTotals(tt.lines, decimal.RequireFromString(tt.discount), decimal.RequireFromString(tt.rate))

			require.Len(t, lines, len(tt.lines))
			for i, l := range lines {
				assert.True(t, l.LineTotal.Equal(tt.lines[i].UnitPrice.Mul(decimal.NewFromInt(l.Quantity))))
			}
			assert.Equal(t, tt.subtotal, totals.Subtotal.StringFixed(2))
			assert.Equal(t, tt.tax, totals.TaxAmount.StringFixed(2))
			assert.Equal(t, tt.grand, totals.GrandTotal.StringFixed(2))
		})
	}
}

func TestComputeSaleTotals_DoesNotMutateInput(t *testing.T) {
	in := []SaleLine{{Quantity: 2, UnitPrice: decimal.NewFromInt(3)}}
	_, _ = ComputeSaleTotals(in, decimal.Zero, decimal.Zero)
	assert.True(t, in[0].LineTotal.IsZero())
}

func TestComputePurchaseTotal(t *testing.T) {
	lines, total := ComputePurchaseTotal([]PurchaseLine{
		{Quantity: 50, CostPrice: decimal.RequireFromString("12.00")},
		{Quantity: 3, CostPrice: decimal.RequireFromString("0.99")},
	})
	assert.Equal(t, "600.00", lines[0].LineTotal.StringFixed(2))
	assert.Equal(t, "602.97", total.StringFixed(2))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw    string
		region string
		want   string
		ok     bool
	}{
		{"", "US", "", true},
		{"(650) 253-0000", "US", "+16502530000", true},
		{"+44 20 7031 3000", "US", "+442070313000", true},
		{"020 7031 3000", "GB", "+442070313000", true},
		{"650 253 0000", "", "+16502530000", true},
		{"not a phone", "US", "", false},
		{"123", "US", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := normalizePhone(tt.raw, tt.region)
			if !tt.ok {
				var valErr *ValidationError
				require.ErrorAs(t, err, &valErr)
				assert.Equal(t, "customer_phone", valErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
