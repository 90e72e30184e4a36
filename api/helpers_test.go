package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/ledger/store"
	"github.com/warp/retail-ledger/metrics"
)

type testServer struct {
	t       *testing.T
	handler *Handler
	store   *store.Memory
	router  http.Handler
	reg     *prometheus.Registry
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := store.NewMemory()
	reg := prometheus.NewRegistry()

	coord := ledger.NewCoordinator(st,
		ledger.WithLogger(log),
		ledger.WithRecorder(metrics.NewLedger(reg)),
	)
	tenants := ledger.NewTenantConfig(st, st, ledger.SystemClock{}, log)
	h := NewHandler(coord, tenants, st, st, log)

	router := NewRouter(h, RouterConfig{
		Metrics:        metrics.NewHTTP(reg),
		MetricsHandler: metrics.Handler(reg),
	})
	return &testServer{t: t, handler: h, store: st, router: router, reg: reg}
}

// seedShop creates tenant "shop" with prefix INV, next 1001, tax 10%
// and product "tea" (stock 5, price 2.00).
func (s *testServer) seedShop() {
	s.t.Helper()
	ctx := context.Background()
	require.NoError(s.t, s.store.SaveTenantSettings(ctx, ledger.TenantSettings{
		TenantID: "shop", InvoicePrefix: "INV", NextInvoiceNumber: 1001, TaxRate: decimal.NewFromInt(10),
	}))
	require.NoError(s.t, s.store.SaveProduct(ctx, ledger.Product{
		ID: "tea", TenantID: "shop", Name: "Green Tea", CurrentStock: 5, LowStockThreshold: 2, Active: true,
		CostPrice: decimal.RequireFromString("0.80"), SellingPrice: decimal.RequireFromString("2.00"),
	}))
	require.NoError(s.t, s.store.SaveSupplier(ctx, ledger.Supplier{ID: "sup", TenantID: "shop", Name: "Tea Co", Active: true}))
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func teaSale(qty int64) map[string]any {
	return map[string]any{
		"customer_name":  "Walk-in",
		"lines":          []map[string]any{{"product_id": "tea", "quantity": qty}},
		"payment_method": "cash",
		"payment_status": "paid",
	}
}
