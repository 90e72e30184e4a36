/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Sale creation, rejection mapping (400/404/409) and idempotent replay
- Purchases and voids over HTTP
- Settings and next invoice number
- Health and metrics endpoints
*/
package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// SALES
// =============================================================================

func TestCreateSale_Created(t *testing.T) {
	// GIVEN: Tenant "shop" with next invoice 1001 and 5 tea in stock
	// WHEN: A sale of 2 tea is posted
	// THEN: 201 with INV001001, totals computed, stock now 3

	s := setupTestServer(t)
	s.seedShop()

	rec := s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sale := decodeBody[SaleDTO](t, rec)
	assert.Equal(t, "INV001001", sale.InvoiceNumber)
	assert.Equal(t, "sequential", sale.InvoiceKind)
	assert.Equal(t, int64(1001), sale.InvoiceSequence)
	require.Len(t, sale.Lines, 1)
	assert.Equal(t, "Green Tea", sale.Lines[0].ProductName)
	assert.Equal(t, "4.00", sale.Subtotal.StringFixed(2))
	assert.Equal(t, "0.40", sale.TaxAmount.StringFixed(2))
	assert.Equal(t, "4.40", sale.GrandTotal.StringFixed(2))
	assert.False(t, sale.Voided)

	rec = s.do(http.MethodGet, "/api/tenants/shop/products/tea", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[ProductDTO](t, rec)
	assert.Equal(t, int64(3), p.CurrentStock)
	assert.False(t, p.LowStock)
}

func TestCreateSale_InsufficientStock_Conflict(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	rec := s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(6))
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", resp.Code)
	assert.Equal(t, "tea", resp.ProductID)
	require.NotNil(t, resp.Available)
	require.NotNil(t, resp.Requested)
	assert.Equal(t, int64(5), *resp.Available)
	assert.Equal(t, int64(6), *resp.Requested)

	settings := decodeBody[TenantSettingsDTO](t, s.do(http.MethodGet, "/api/tenants/shop/settings", nil))
	assert.Equal(t, int64(1001), settings.NextInvoiceNumber, "rejected sale consumes no number")
}

func TestCreateSale_BadRequests(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	noCustomer := teaSale(1)
	delete(noCustomer, "customer_name")

	zeroQty := teaSale(0)
	hugeQty := teaSale(ledger.MaxLineQuantity + 1)

	blankName := teaSale(1)
	blankName["customer_name"] = "   "

	badMethod := teaSale(1)
	badMethod["payment_method"] = "barter"

	badPhone := teaSale(1)
	badPhone["customer_phone"] = "call me"

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"malformed json", `{"lines": [`, ""},
		{"unknown field", `{"customer_name":"x","bogus":1}`, ""},
		{"no customer", noCustomer, "CreateSaleRequest.CustomerName"},
		{"zero quantity", zeroQty, "CreateSaleRequest.Lines[0].Quantity"},
		{"quantity above line cap", hugeQty, "CreateSaleRequest.Lines[0].Quantity"},
		{"blank customer name", blankName, "customer"},
		{"payment method", badMethod, "CreateSaleRequest.PaymentMethod"},
		{"phone", badPhone, "customer_phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/tenants/shop/sales", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestCreateSale_UnknownProduct_NotFound(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	body := teaSale(1)
	body["lines"] = []map[string]any{{"product_id": "coffee", "quantity": 1}}

	rec := s.do(http.MethodPost, "/api/tenants/shop/sales", body)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/tenants/other-shop/sales", teaSale(1))
	assert.Equal(t, http.StatusNotFound, rec.Code, "products are tenant scoped")
}

func TestCreateSale_IdempotencyKeyHeader_Replays(t *testing.T) {
	// GIVEN: The same request posted twice with one Idempotency-Key
	// THEN: Both return the same sale, stock moves once

	s := setupTestServer(t)
	s.seedShop()

	first := s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(1), IdempotencyKeyHeader, "till-3-0042")
	require.Equal(t, http.StatusCreated, first.Code)
	second := s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(1), IdempotencyKeyHeader, "till-3-0042")
	require.Equal(t, http.StatusCreated, second.Code)

	a := decodeBody[SaleDTO](t, first)
	b := decodeBody[SaleDTO](t, second)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.InvoiceNumber, b.InvoiceNumber)
	assert.Equal(t, "till-3-0042", a.IdempotencyKey)

	p := decodeBody[ProductDTO](t, s.do(http.MethodGet, "/api/tenants/shop/products/tea", nil))
	assert.Equal(t, int64(4), p.CurrentStock)

	list := decodeBody[[]SaleDTO](t, s.do(http.MethodGet, "/api/tenants/shop/sales", nil))
	assert.Len(t, list, 1)
}

func TestValidateSale_DoesNotCommit(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	rec := s.do(http.MethodPost, "/api/tenants/shop/sales/validate", teaSale(5))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quote := decodeBody[SaleQuoteDTO](t, rec)
	assert.True(t, quote.Valid)
	assert.Equal(t, "11.00", quote.GrandTotal.StringFixed(2))

	rec = s.do(http.MethodPost, "/api/tenants/shop/sales/validate", teaSale(6))
	assert.Equal(t, http.StatusConflict, rec.Code)

	p := decodeBody[ProductDTO](t, s.do(http.MethodGet, "/api/tenants/shop/products/tea", nil))
	assert.Equal(t, int64(5), p.CurrentStock)
	assert.Empty(t, decodeBody[[]SaleDTO](t, s.do(http.MethodGet, "/api/tenants/shop/sales", nil)))
}

func TestVoidSale(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	sale := decodeBody[SaleDTO](t, s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(3)))

	rec := s.do(http.MethodPost, "/api/tenants/shop/sales/"+sale.ID+"/void", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = s.do(http.MethodPost, "/api/tenants/shop/sales/"+sale.ID+"/void", map[string]string{"reason": "customer returned"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	voided := decodeBody[SaleDTO](t, rec)
	assert.True(t, voided.Voided)
	require.NotNil(t, voided.Reversal)
	assert.Equal(t, "customer returned", voided.Reversal.Reason)

	rec = s.do(http.MethodPost, "/api/tenants/shop/sales/"+sale.ID+"/void", map[string]string{"reason": "again"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_voided", decodeBody[ErrorResponse](t, rec).Code)

	p := decodeBody[ProductDTO](t, s.do(http.MethodGet, "/api/tenants/shop/products/tea", nil))
	assert.Equal(t, int64(5), p.CurrentStock)

	rec = s.do(http.MethodGet, "/api/tenants/shop/sales/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PURCHASES
// =============================================================================

func TestCreatePurchase_RestocksAndUpdatesCost(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	body := map[string]any{
		"supplier_id":   "sup",
		"purchase_date": "2025-03-01",
		"lines":         []map[string]any{{"product_id": "tea", "quantity": 20, "cost_price": "0.95"}},
	}
	rec := s.do(http.MethodPost, "/api/tenants/shop/purchases", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	purchase := decodeBody[PurchaseDTO](t, rec)
	assert.Equal(t, "2025-03-01", purchase.PurchaseDate)
	assert.Equal(t, "19.00", purchase.Total.StringFixed(2))

	p := decodeBody[ProductDTO](t, s.do(http.MethodGet, "/api/tenants/shop/products/tea", nil))
	assert.Equal(t, int64(25), p.CurrentStock)
	assert.Equal(t, "0.95", p.CostPrice.StringFixed(2))

	got := s.do(http.MethodGet, "/api/tenants/shop/purchases/"+purchase.ID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, purchase.ID, decodeBody[PurchaseDTO](t, got).ID)

	settings := decodeBody[TenantSettingsDTO](t, s.do(http.MethodGet, "/api/tenants/shop/settings", nil))
	assert.Equal(t, int64(1001), settings.NextInvoiceNumber, "purchases take no invoice number")
}

func TestCreatePurchase_Rejections(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	line := []map[string]any{{"product_id": "tea", "quantity": 1, "cost_price": "1.00"}}
	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"bad date", map[string]any{"supplier_id": "sup", "purchase_date": "03/01/2025", "lines": line}, http.StatusBadRequest},
		{"unknown supplier", map[string]any{"supplier_id": "ghost", "lines": line}, http.StatusNotFound},
		{"zero cost", map[string]any{"supplier_id": "sup", "lines": []map[string]any{{"product_id": "tea", "quantity": 1}}}, http.StatusBadRequest},
		{"no lines", map[string]any{"supplier_id": "sup", "lines": []map[string]any{}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/tenants/shop/purchases", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestVoidPurchase_AfterStockSold_Conflict(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	purchase := decodeBody[PurchaseDTO](t, s.do(http.MethodPost, "/api/tenants/shop/purchases", map[string]any{
		"supplier_id": "sup",
		"lines":       []map[string]any{{"product_id": "tea", "quantity": 4, "cost_price": "1.00"}},
	}))
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(8)).Code)

	rec := s.do(http.MethodPost, "/api/tenants/shop/purchases/"+purchase.ID+"/void", map[string]string{"reason": "wrong delivery"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// PRODUCTS & SETTINGS
// =============================================================================

func TestListLowStock(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	assert.Empty(t, decodeBody[[]ProductDTO](t, s.do(http.MethodGet, "/api/tenants/shop/products/low-stock", nil)))

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(3)).Code)

	low := decodeBody[[]ProductDTO](t, s.do(http.MethodGet, "/api/tenants/shop/products/low-stock", nil))
	require.Len(t, low, 1)
	assert.Equal(t, "tea", low[0].ID)
	assert.True(t, low[0].LowStock)
}

func TestSetNextInvoiceNumber(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(1)).Code)

	rec := s.do(http.MethodPut, "/api/tenants/shop/settings/next-invoice-number", map[string]int64{"next_invoice_number": 1001})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "next_invoice_number", decodeBody[ErrorResponse](t, rec).Field)

	rec = s.do(http.MethodPut, "/api/tenants/shop/settings/next-invoice-number", map[string]int64{"next_invoice_number": 5000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settings := decodeBody[TenantSettingsDTO](t, rec)
	assert.Equal(t, int64(5000), settings.NextInvoiceNumber)
	assert.Equal(t, "INV005000", settings.NextInvoice)

	sale := decodeBody[SaleDTO](t, s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(1)))
	assert.Equal(t, "INV005000", sale.InvoiceNumber)

	rec = s.do(http.MethodPut, "/api/tenants/missing/settings/next-invoice-number", map[string]int64{"next_invoice_number": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSale_WithoutSettings_FallbackInvoice(t *testing.T) {
	// GIVEN: Tenant "stall" has a product but no settings row
	// THEN: The sale commits with a TMP- number and settings stay absent

	s := setupTestServer(t)
	require.NoError(t, s.store.SaveProduct(t.Context(), ledger.Product{
		ID: "tea", TenantID: "stall", Name: "Tea", CurrentStock: 3, Active: true,
		CostPrice: decimal.NewFromInt(1), SellingPrice: decimal.NewFromInt(2),
	}))

	rec := s.do(http.MethodPost, "/api/tenants/stall/sales", teaSale(1))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sale := decodeBody[SaleDTO](t, rec)
	assert.Equal(t, "fallback", sale.InvoiceKind)
	assert.True(t, strings.HasPrefix(sale.InvoiceNumber, ledger.FallbackInvoicePrefix))
	assert.Zero(t, sale.InvoiceSequence)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/tenants/stall/settings", nil).Code)
}

// =============================================================================
// HEALTH & METRICS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := setupTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestMetricsEndpoint_CountsRequestsByRoute(t *testing.T) {
	s := setupTestServer(t)
	s.seedShop()

	s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(1))
	s.do(http.MethodPost, "/api/tenants/shop/sales", teaSale(99))

	rec := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `retail_ledger_sales_total{outcome="committed"} 1`)
	assert.Contains(t, body, `retail_ledger_sales_total{outcome="rejected"} 1`)
	assert.Contains(t, body, `route="/api/tenants/{tenantID}/sales`)
	assert.NotContains(t, body, `route="/api/tenants/shop/sales"`)
}
