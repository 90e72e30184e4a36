// Package store provides in-process TxStore implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps each tenant in its own shard. A unit of work holds the
// shard's write lock from start to commit, so one tenant's units run one at
// a time while other tenants proceed in parallel.
type Memory struct {
	mu      sync.RWMutex
	tenants map[ledger.TenantID]*shard
}

type shard struct {
	mu    sync.RWMutex
	state tenantState
}

type tenantState struct {
	settings     *ledger.TenantSettings
	products     map[ledger.ProductID]ledger.Product
	customers    map[ledger.CustomerID]ledger.Customer
	suppliers    map[ledger.SupplierID]ledger.Supplier
	sales        []ledger.SaleRecord // commit order
	saleIndex    map[ledger.SaleID]int
	saleKeys     map[string]ledger.SaleID
	purchases    []ledger.PurchaseRecord
	purchaseIdx  map[ledger.PurchaseID]int
	purchaseKeys map[string]ledger.PurchaseID
}

func newTenantState() tenantState {
	return tenantState{
		products:     make(map[ledger.ProductID]ledger.Product),
		customers:    make(map[ledger.CustomerID]ledger.Customer),
		suppliers:    make(map[ledger.SupplierID]ledger.Supplier),
		saleIndex:    make(map[ledger.SaleID]int),
		saleKeys:     make(map[string]ledger.SaleID),
		purchaseIdx:  make(map[ledger.PurchaseID]int),
		purchaseKeys: make(map[string]ledger.PurchaseID),
	}
}

func NewMemory() *Memory {
	return &Memory{tenants: make(map[ledger.TenantID]*shard)}
}

// shard returns the tenant's shard, creating it if create is set.
func (m *Memory) shard(tenantID ledger.TenantID, create bool) *shard {
	m.mu.RLock()
	s, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.tenants[tenantID]; ok {
		return s
	}
	s = &shard{state: newTenantState()}
	m.tenants[tenantID] = s
	return s
}

// read runs fn under the shard's read lock. Unknown tenants see empty state.
func (m *Memory) read(tenantID ledger.TenantID, fn func(*tenantState) error) error {
	s := m.shard(tenantID, false)
	if s == nil {
		empty := newTenantState()
		return fn(&empty)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

// Reset drops every tenant. Used by demo scenario loading.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = make(map[ledger.TenantID]*shard)
	return nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, tenantID ledger.TenantID, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := m.shard(tenantID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state.snapshot()
	view := &txView{tenantID: tenantID, state: &s.state}

	err := fn(view)
	if err == nil {
		// A unit of work that outlived its deadline does not commit.
		err = ctx.Err()
	}
	if err != nil {
		s.state = snap
		return err
	}
	return nil
}

func (st *tenantState) snapshot() tenantState {
	out := tenantState{
		products:     make(map[ledger.ProductID]ledger.Product, len(st.products)),
		customers:    make(map[ledger.CustomerID]ledger.Customer, len(st.customers)),
		suppliers:    make(map[ledger.SupplierID]ledger.Supplier, len(st.suppliers)),
		sales:        append([]ledger.SaleRecord(nil), st.sales...),
		saleIndex:    make(map[ledger.SaleID]int, len(st.saleIndex)),
		saleKeys:     make(map[string]ledger.SaleID, len(st.saleKeys)),
		purchases:    append([]ledger.PurchaseRecord(nil), st.purchases...),
		purchaseIdx:  make(map[ledger.PurchaseID]int, len(st.purchaseIdx)),
		purchaseKeys: make(map[string]ledger.PurchaseID, len(st.purchaseKeys)),
	}
	if st.settings != nil {
		s := *st.settings
		out.settings = &s
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	for k, v := range st.customers {
		out.customers[k] = v
	}
	for k, v := range st.suppliers {
		out.suppliers[k] = v
	}
	for k, v := range st.saleIndex {
		out.saleIndex[k] = v
	}
	for k, v := range st.saleKeys {
		out.saleKeys[k] = v
	}
	for k, v := range st.purchaseIdx {
		out.purchaseIdx[k] = v
	}
	for k, v := range st.purchaseKeys {
		out.purchaseKeys[k] = v
	}
	return out
}

// =============================================================================
// READER
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, tenantID ledger.TenantID, id ledger.ProductID) (p ledger.Product, err error) {
	err = m.read(tenantID, func(st *tenantState) error {
		p, err = st.product(id)
		return err
	})
	return p, err
}

func (m *Memory) ListLowStock(_ context.Context, tenantID ledger.TenantID) (out []ledger.Product, err error) {
	err = m.read(tenantID, func(st *tenantState) error {
		out = st.lowStock()
		return nil
	})
	return out, err
}

func (m *Memory) GetSale(_ context.Context, tenantID ledger.TenantID, id ledger.SaleID) (s ledger.SaleRecord, err error) {
	err = m.read(tenantID, func(st *tenantState) error {
		s, err = st.sale(id)
		return err
	})
	return s, err
}

func (m *Memory) ListSales(_ context.Context, tenantID ledger.TenantID) (out []ledger.SaleRecord, err error) {
	err = m.read(tenantID, func(st *tenantState) error {
		out = make([]ledger.SaleRecord, len(st.sales))
		for i, s := range st.sales {
			out[i] = cloneSale(s)
		}
		return nil
	})
	return out, err
}

func (m *Memory) GetPurchase(_ context.Context, tenantID ledger.TenantID, id ledger.PurchaseID) (p ledger.PurchaseRecord, err error) {
	err = m.read(tenantID, func(st *tenantState) error {
		p, err = st.purchase(id)
		return err
	})
	return p, err
}

func (m *Memory) GetTenantSettings(_ context.Context, tenantID ledger.TenantID) (s ledger.TenantSettings, err error) {
	err = m.read(tenantID, func(st *tenantState) error {
		s, err = st.tenantSettings()
		return err
	})
	return s, err
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p ledger.Product) error {
	if p.TenantID == "" || p.ID == "" {
		return fmt.Errorf("save product: tenant and id are required")
	}
	if p.CurrentStock < 0 {
		return fmt.Errorf("save product %s: current stock %d is negative", p.ID, p.CurrentStock)
	}
	s := m.shard(p.TenantID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
	return nil
}

func (m *Memory) SaveCustomer(_ context.Context, c ledger.Customer) error {
	if c.TenantID == "" || c.ID == "" {
		return fmt.Errorf("save customer: tenant and id are required")
	}
	s := m.shard(c.TenantID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.customers[c.ID] = c
	return nil
}

func (m *Memory) SaveSupplier(_ context.Context, sup ledger.Supplier) error {
	if sup.TenantID == "" || sup.ID == "" {
		return fmt.Errorf("save supplier: tenant and id are required")
	}
	s := m.shard(sup.TenantID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.suppliers[sup.ID] = sup
	return nil
}

func (m *Memory) SaveTenantSettings(_ context.Context, ts ledger.TenantSettings) error {
	if ts.TenantID == "" {
		return fmt.Errorf("save tenant settings: tenant is required")
	}
	s := m.shard(ts.TenantID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.settings = &ts
	return nil
}

// =============================================================================
// TX VIEW - Direct access to shard state, lock held by WithTx
// =============================================================================

type txView struct {
	tenantID ledger.TenantID
	state    *tenantState
}

func (v *txView) scope(tenantID ledger.TenantID) error {
	if tenantID != v.tenantID {
		return fmt.Errorf("unit of work for tenant %s cannot access tenant %s", v.tenantID, tenantID)
	}
	return nil
}

func (v *txView) GetProduct(_ context.Context, tenantID ledger.TenantID, id ledger.ProductID) (ledger.Product, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.Product{}, err
	}
	return v.state.product(id)
}

func (v *txView) ListLowStock(_ context.Context, tenantID ledger.TenantID) ([]ledger.Product, error) {
	if err := v.scope(tenantID); err != nil {
		return nil, err
	}
	return v.state.lowStock(), nil
}

func (v *txView) GetSale(_ context.Context, tenantID ledger.TenantID, id ledger.SaleID) (ledger.SaleRecord, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.SaleRecord{}, err
	}
	return v.state.sale(id)
}

func (v *txView) ListSales(_ context.Context, tenantID ledger.TenantID) ([]ledger.SaleRecord, error) {
	if err := v.scope(tenantID); err != nil {
		return nil, err
	}
	out := make([]ledger.SaleRecord, len(v.state.sales))
	for i, s := range v.state.sales {
		out[i] = cloneSale(s)
	}
	return out, nil
}

func (v *txView) GetPurchase(_ context.Context, tenantID ledger.TenantID, id ledger.PurchaseID) (ledger.PurchaseRecord, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.PurchaseRecord{}, err
	}
	return v.state.purchase(id)
}

func (v *txView) GetTenantSettings(_ context.Context, tenantID ledger.TenantID) (ledger.TenantSettings, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.TenantSettings{}, err
	}
	return v.state.tenantSettings()
}

func (v *txView) CustomerExists(_ context.Context, tenantID ledger.TenantID, id ledger.CustomerID) (bool, error) {
	if err := v.scope(tenantID); err != nil {
		return false, err
	}
	_, ok := v.state.customers[id]
	return ok, nil
}

func (v *txView) GetSupplier(_ context.Context, tenantID ledger.TenantID, id ledger.SupplierID) (ledger.Supplier, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.Supplier{}, err
	}
	s, ok := v.state.suppliers[id]
	if !ok {
		return ledger.Supplier{}, ledger.ErrSupplierNotFound
	}
	return s, nil
}

func (v *txView) AdjustStock(_ context.Context, tenantID ledger.TenantID, id ledger.ProductID, delta int64) (int64, error) {
	if err := v.scope(tenantID); err != nil {
		return 0, err
	}
	p, ok := v.state.products[id]
	if !ok {
		return 0, ledger.ErrProductNotFound
	}
	if p.CurrentStock+delta < 0 {
		return 0, ledger.ErrInsufficientStock
	}
	p.CurrentStock += delta
	v.state.products[id] = p
	return p.CurrentStock, nil
}

func (v *txView) SetCostPrice(_ context.Context, tenantID ledger.TenantID, id ledger.ProductID, cost decimal.Decimal) error {
	if err := v.scope(tenantID); err != nil {
		return err
	}
	p, ok := v.state.products[id]
	if !ok {
		return ledger.ErrProductNotFound
	}
	p.CostPrice = cost
	v.state.products[id] = p
	return nil
}

func (v *txView) AdvanceInvoiceNumber(_ context.Context, tenantID ledger.TenantID, issued int64) error {
	if err := v.scope(tenantID); err != nil {
		return err
	}
	if v.state.settings == nil {
		return ledger.ErrTenantNotFound
	}
	if v.state.settings.NextInvoiceNumber != issued {
		return ledger.ErrConcurrentModification
	}
	v.state.settings.NextInvoiceNumber = issued + 1
	return nil
}

func (v *txView) SetNextInvoiceNumber(_ context.Context, tenantID ledger.TenantID, next int64) error {
	if err := v.scope(tenantID); err != nil {
		return err
	}
	if v.state.settings == nil {
		return ledger.ErrTenantNotFound
	}
	v.state.settings.NextInvoiceNumber = next
	return nil
}

func (v *txView) MaxInvoiceSequence(_ context.Context, tenantID ledger.TenantID) (int64, error) {
	if err := v.scope(tenantID); err != nil {
		return 0, err
	}
	var highest int64
	for _, s := range v.state.sales {
		if !s.InvoiceNumber.IsFallback() && s.InvoiceNumber.Sequence > highest {
			highest = s.InvoiceNumber.Sequence
		}
	}
	return highest, nil
}

func (v *txView) InsertSale(_ context.Context, sale ledger.SaleRecord) error {
	if err := v.scope(sale.TenantID); err != nil {
		return err
	}
	if _, ok := v.state.saleIndex[sale.ID]; ok {
		return fmt.Errorf("sale %s already exists", sale.ID)
	}
	if sale.IdempotencyKey != "" {
		if _, ok := v.state.saleKeys[sale.IdempotencyKey]; ok {
			return ledger.ErrDuplicateIdempotencyKey
		}
		v.state.saleKeys[sale.IdempotencyKey] = sale.ID
	}
	v.state.saleIndex[sale.ID] = len(v.state.sales)
	v.state.sales = append(v.state.sales, cloneSale(sale))
	return nil
}

func (v *txView) InsertPurchase(_ context.Context, p ledger.PurchaseRecord) error {
	if err := v.scope(p.TenantID); err != nil {
		return err
	}
	if _, ok := v.state.purchaseIdx[p.ID]; ok {
		return fmt.Errorf("purchase %s already exists", p.ID)
	}
	if p.IdempotencyKey != "" {
		if _, ok := v.state.purchaseKeys[p.IdempotencyKey]; ok {
			return ledger.ErrDuplicateIdempotencyKey
		}
		v.state.purchaseKeys[p.IdempotencyKey] = p.ID
	}
	v.state.purchaseIdx[p.ID] = len(v.state.purchases)
	v.state.purchases = append(v.state.purchases, clonePurchase(p))
	return nil
}

func (v *txView) FindSaleByIdempotencyKey(_ context.Context, tenantID ledger.TenantID, key string) (ledger.SaleRecord, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.SaleRecord{}, err
	}
	id, ok := v.state.saleKeys[key]
	if !ok {
		return ledger.SaleRecord{}, ledger.ErrSaleNotFound
	}
	return v.state.sale(id)
}

func (v *txView) FindPurchaseByIdempotencyKey(_ context.Context, tenantID ledger.TenantID, key string) (ledger.PurchaseRecord, error) {
	if err := v.scope(tenantID); err != nil {
		return ledger.PurchaseRecord{}, err
	}
	id, ok := v.state.purchaseKeys[key]
	if !ok {
		return ledger.PurchaseRecord{}, ledger.ErrPurchaseNotFound
	}
	return v.state.purchase(id)
}

func (v *txView) InsertSaleReversal(_ context.Context, tenantID ledger.TenantID, id ledger.SaleID, r ledger.Reversal) error {
	if err := v.scope(tenantID); err != nil {
		return err
	}
	i, ok := v.state.saleIndex[id]
	if !ok {
		return ledger.ErrSaleNotFound
	}
	if v.state.sales[i].Reversal != nil {
		return ledger.ErrAlreadyVoided
	}
	v.state.sales[i].Reversal = &r
	return nil
}

func (v *txView) InsertPurchaseReversal(_ context.Context, tenantID ledger.TenantID, id ledger.PurchaseID, r ledger.Reversal) error {
	if err := v.scope(tenantID); err != nil {
		return err
	}
	i, ok := v.state.purchaseIdx[id]
	if !ok {
		return ledger.ErrPurchaseNotFound
	}
	if v.state.purchases[i].Reversal != nil {
		return ledger.ErrAlreadyVoided
	}
	v.state.purchases[i].Reversal = &r
	return nil
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (st *tenantState) product(id ledger.ProductID) (ledger.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return ledger.Product{}, ledger.ErrProductNotFound
	}
	return p, nil
}

func (st *tenantState) lowStock() []ledger.Product {
	var out []ledger.Product
	for _, p := range st.products {
		if p.Active && p.IsLowStock() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentStock != out[j].CurrentStock {
			return out[i].CurrentStock < out[j].CurrentStock
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *tenantState) sale(id ledger.SaleID) (ledger.SaleRecord, error) {
	i, ok := st.saleIndex[id]
	if !ok {
		return ledger.SaleRecord{}, ledger.ErrSaleNotFound
	}
	return cloneSale(st.sales[i]), nil
}

func (st *tenantState) purchase(id ledger.PurchaseID) (ledger.PurchaseRecord, error) {
	i, ok := st.purchaseIdx[id]
	if !ok {
		return ledger.PurchaseRecord{}, ledger.ErrPurchaseNotFound
	}
	return clonePurchase(st.purchases[i]), nil
}

func (st *tenantState) tenantSettings() (ledger.TenantSettings, error) {
	if st.settings == nil {
		return ledger.TenantSettings{}, ledger.ErrTenantNotFound
	}
	return *st.settings, nil
}

// cloneSale copies the slices and pointers a caller could mutate.
func cloneSale(s ledger.SaleRecord) ledger.SaleRecord {
	s.Lines = append([]ledger.SaleLine(nil), s.Lines...)
	if s.Reversal != nil {
		r := *s.Reversal
		s.Reversal = &r
	}
	return s
}

func clonePurchase(p ledger.PurchaseRecord) ledger.PurchaseRecord {
	p.Lines = append([]ledger.PurchaseLine(nil), p.Lines...)
	if p.Reversal != nil {
		r := *p.Reversal
		p.Reversal = &r
	}
	return p
}
