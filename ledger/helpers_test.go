package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/retail-ledger/ledger"
	memstore "github.com/warp/retail-ledger/ledger/store"
	"github.com/warp/retail-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const tenant ledger.TenantID = "shop-1"

var errInjected = errors.New("injected storage failure")

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

// store is what the fixture needs from a backend.
type store interface {
	ledger.TxStore
	ledger.Catalog
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   store
	coord   *ledger.Coordinator
	tenants *ledger.TenantConfig
}

// backends lists every store the coordinator tests run against.
func backends() map[string]func(t *testing.T) store {
	return map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store { return memstore.NewMemory() },
		"sqlite": func(t *testing.T) store {
			st, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { st.Close() })
			return st
		},
	}
}

// forEachBackend runs fn once per store with a fresh fixture.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, open(t)))
		})
	}
}

func newFixture(t *testing.T, st store, opts ...ledger.Option) *fixture {
	log := zaptest.NewLogger(t)
	clock := fixedClock{t: testNow}
	opts = append([]ledger.Option{ledger.WithLogger(log), ledger.WithClock(clock)}, opts...)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		coord:   ledger.NewCoordinator(st, opts...),
		tenants: ledger.NewTenantConfig(st, st, clock, log),
	}
}

// withCoordinator rebuilds the coordinator over a different TxStore, for
// fault injection.
func (f *fixture) withCoordinator(txs ledger.TxStore, opts ...ledger.Option) *ledger.Coordinator {
	opts = append([]ledger.Option{ledger.WithClock(fixedClock{t: testNow})}, opts...)
	return ledger.NewCoordinator(txs, opts...)
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func (f *fixture) settings(prefix string, next int64, taxRate string) {
	f.t.Helper()
	require.NoError(f.t, f.tenants.Put(f.ctx, ledger.TenantSettings{
		TenantID:          tenant,
		InvoicePrefix:     prefix,
		NextInvoiceNumber: next,
		TaxRate:           dec(taxRate),
	}))
}

func (f *fixture) product(id ledger.ProductID, stock int64, price string) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveProduct(f.ctx, ledger.Product{
		ID:                id,
		TenantID:          tenant,
		Name:              "Product " + string(id),
		Unit:              "pc",
		CostPrice:         dec("1.00"),
		SellingPrice:      dec(price),
		CurrentStock:      stock,
		LowStockThreshold: 2,
		Active:            true,
	}))
}

func (f *fixture) supplier(id ledger.SupplierID) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveSupplier(f.ctx, ledger.Supplier{
		ID: id, TenantID: tenant, Name: "Supplier " + string(id), Active: true,
	}))
}

func (f *fixture) stockOf(id ledger.ProductID) int64 {
	f.t.Helper()
	p, err := f.store.GetProduct(f.ctx, tenant, id)
	require.NoError(f.t, err)
	return p.CurrentStock
}

func (f *fixture) nextInvoice() int64 {
	f.t.Helper()
	s, err := f.store.GetTenantSettings(f.ctx, tenant)
	require.NoError(f.t, err)
	return s.NextInvoiceNumber
}

func (f *fixture) sales() []ledger.SaleRecord {
	f.t.Helper()
	out, err := f.store.ListSales(f.ctx, tenant)
	require.NoError(f.t, err)
	return out
}

func saleOf(lines ...ledger.SaleLineInput) ledger.SaleInput {
	return ledger.SaleInput{
		CustomerName:  "Walk-in",
		Lines:         lines,
		PaymentMethod: ledger.PaymentCash,
		PaymentStatus: ledger.PaymentPaid,
	}
}

func line(id ledger.ProductID, qty int64) ledger.SaleLineInput {
	return ledger.SaleLineInput{ProductID: id, Quantity: qty}
}

func pricedLine(id ledger.ProductID, qty int64, price string) ledger.SaleLineInput {
	return ledger.SaleLineInput{ProductID: id, Quantity: qty, UnitPrice: dec(price)}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faultyStore wraps a TxStore and hands fn a Tx whose selected writes fail.
type faultyStore struct {
	ledger.TxStore
	failInsertSale   bool
	failAdvance      bool
	failSettingsRead bool
}

func (s faultyStore) WithTx(ctx context.Context, tenantID ledger.TenantID, fn func(ledger.Tx) error) error {
	return s.TxStore.WithTx(ctx, tenantID, func(tx ledger.Tx) error {
		return fn(faultyTx{Tx: tx, cfg: s})
	})
}

type faultyTx struct {
	ledger.Tx
	cfg faultyStore
}

func (t faultyTx) InsertSale(ctx context.Context, sale ledger.SaleRecord) error {
	if t.cfg.failInsertSale {
		return errInjected
	}
	return t.Tx.InsertSale(ctx, sale)
}

func (t faultyTx) AdvanceInvoiceNumber(ctx context.Context, tenantID ledger.TenantID, issued int64) error {
	if t.cfg.failAdvance {
		return errInjected
	}
	return t.Tx.AdvanceInvoiceNumber(ctx, tenantID, issued)
}

func (t faultyTx) GetTenantSettings(ctx context.Context, tenantID ledger.TenantID) (ledger.TenantSettings, error) {
	if t.cfg.failSettingsRead {
		return ledger.TenantSettings{}, errInjected
	}
	return t.Tx.GetTenantSettings(ctx, tenantID)
}

// countingRecorder records outcomes for assertions.
type countingRecorder struct {
	ledger.NopRecorder
	sales     map[ledger.Outcome]int
	fallbacks int
	rejected  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{sales: make(map[ledger.Outcome]int)}
}

func (r *countingRecorder) SaleFinished(o ledger.Outcome) { r.sales[o]++ }
func (r *countingRecorder) InvoiceFallback()             { r.fallbacks++ }
func (r *countingRecorder) StockRejected()               { r.rejected++ }
