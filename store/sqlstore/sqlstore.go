/*
Package sqlstore implements the ledger storage ports on database/sql.

PURPOSE:
  The query layer shared by store/sqlite and store/postgres. Each driver
  package owns its schema and connection setup and passes a Dialect that
  describes how it differs: placeholder style, tenant serialization and
  constraint error decoding.

KEY TABLES:
  tenant_settings:        invoice prefix, next invoice number, tax rate
  products:               catalog + current_stock (CHECK current_stock >= 0)
  customers, suppliers:   existence checks only
  sales, sale_lines:      append-only sale records
  purchases, purchase_lines
  sale_reversals, purchase_reversals: one compensating row per voided record

STOCK:
  A decrement is a single conditional UPDATE:
    UPDATE products SET current_stock = current_stock + ?
    WHERE ... AND current_stock + ? >= 0
  No row updated means the product is missing or would go negative.

SEQUENCE:
  AdvanceInvoiceNumber is a compare-and-swap UPDATE on next_invoice_number,
  wrapped in a SAVEPOINT so a failure leaves the surrounding transaction
  usable for the fallback path.

SEE ALSO:
  - ledger/store.go: the contracts implemented here
  - store/sqlite, store/postgres: dialects and schemas
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-ledger/ledger"
)

// Dialect describes the driver-specific parts of the store.
type Dialect struct {
	Name string

	// Rebind rewrites ? placeholders for the driver. Nil keeps them.
	Rebind func(query string) string

	// SingleWriter serializes every write transaction in-process. Used by
	// SQLite, which allows one writer per database.
	SingleWriter bool

	// LockTenant runs first inside every unit of work. Postgres takes a
	// transaction-scoped advisory lock here.
	LockTenant func(ctx context.Context, tx *sql.Tx, tenantID ledger.TenantID) error

	// UniqueViolation reports whether err is a unique constraint failure
	// and returns text naming the constraint or its columns.
	UniqueViolation func(err error) (detail string, ok bool)
}

// Store implements ledger.TxStore and ledger.Catalog.
type Store struct {
	db *sql.DB
	d  Dialect
	mu sync.RWMutex
}

// New wraps an open database. The schema must already exist.
func New(db *sql.DB, d Dialect) *Store {
	if d.Rebind == nil {
		d.Rebind = func(q string) string { return q }
	}
	if d.UniqueViolation == nil {
		d.UniqueViolation = func(error) (string, bool) { return "", false }
	}
	return &Store{db: db, d: d}
}

func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate executes a schema of ;-separated statements.
func Migrate(ctx context.Context, db *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RebindDollar rewrites ? placeholders to $1, $2, ...
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) rlock() func() {
	if !s.d.SingleWriter {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if !s.d.SingleWriter {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) queries(db querier) *queries {
	return &queries{db: db, d: &s.d}
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns error, transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, tenantID ledger.TenantID, fn func(ledger.Tx) error) error {
	unlock := s.lock()
	defer unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if s.d.LockTenant != nil {
		if err := s.d.LockTenant(ctx, sqlTx, tenantID); err != nil {
			return fmt.Errorf("lock tenant %s: %w", tenantID, err)
		}
	}

	ts := &txStore{tenantID: tenantID, tx: sqlTx, q: s.queries(sqlTx)}
	if err := fn(ts); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// READER
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID) (ledger.Product, error) {
	defer s.rlock()()
	return s.queries(s.db).product(ctx, tenantID, id)
}

func (s *Store) ListLowStock(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Product, error) {
	defer s.rlock()()
	return s.queries(s.db).lowStock(ctx, tenantID)
}

func (s *Store) GetSale(ctx context.Context, tenantID ledger.TenantID, id ledger.SaleID) (ledger.SaleRecord, error) {
	defer s.rlock()()
	return s.queries(s.db).sale(ctx, tenantID, id)
}

func (s *Store) ListSales(ctx context.Context, tenantID ledger.TenantID) ([]ledger.SaleRecord, error) {
	defer s.rlock()()
	return s.queries(s.db).listSales(ctx, tenantID)
}

func (s *Store) GetPurchase(ctx context.Context, tenantID ledger.TenantID, id ledger.PurchaseID) (ledger.PurchaseRecord, error) {
	defer s.rlock()()
	return s.queries(s.db).purchase(ctx, tenantID, id)
}

func (s *Store) GetTenantSettings(ctx context.Context, tenantID ledger.TenantID) (ledger.TenantSettings, error) {
	defer s.rlock()()
	return s.queries(s.db).settings(ctx, tenantID)
}

// =============================================================================
// CATALOG - Upserts
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) error {
	defer s.lock()()
	return s.queries(s.db).saveProduct(ctx, p)
}

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	defer s.lock()()
	return s.queries(s.db).saveCustomer(ctx, c)
}

func (s *Store) SaveSupplier(ctx context.Context, sup ledger.Supplier) error {
	defer s.lock()()
	return s.queries(s.db).saveSupplier(ctx, sup)
}

func (s *Store) SaveTenantSettings(ctx context.Context, ts ledger.TenantSettings) error {
	defer s.lock()()
	return s.queries(s.db).saveSettings(ctx, ts)
}

// Reset deletes all data. Used by demo scenario loading.
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()
	for _, table := range []string{
		"sale_reversals", "purchase_reversals", "sale_lines", "purchase_lines",
		"sales", "purchases", "products", "customers", "suppliers", "tenant_settings",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TX STORE - ledger.Tx bound to one *sql.Tx and one tenant
// =============================================================================

type txStore struct {
	tenantID ledger.TenantID
	tx       *sql.Tx
	q        *queries
	sp       int
}

func (t *txStore) scope(tenantID ledger.TenantID) error {
	if tenantID != t.tenantID {
		return fmt.Errorf("unit of work for tenant %s cannot access tenant %s", t.tenantID, tenantID)
	}
	return nil
}

// savepoint runs fn so that its failure does not abort the transaction.
func (t *txStore) savepoint(ctx context.Context, fn func() error) error {
	t.sp++
	name := "sp_" + strconv.Itoa(t.sp)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (t *txStore) GetProduct(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID) (ledger.Product, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.Product{}, err
	}
	return t.q.product(ctx, tenantID, id)
}

func (t *txStore) ListLowStock(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Product, error) {
	if err := t.scope(tenantID); err != nil {
		return nil, err
	}
	return t.q.lowStock(ctx, tenantID)
}

func (t *txStore) GetSale(ctx context.Context, tenantID ledger.TenantID, id ledger.SaleID) (ledger.SaleRecord, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.SaleRecord{}, err
	}
	return t.q.sale(ctx, tenantID, id)
}

func (t *txStore) ListSales(ctx context.Context, tenantID ledger.TenantID) ([]ledger.SaleRecord, error) {
	if err := t.scope(tenantID); err != nil {
		return nil, err
	}
	return t.q.listSales(ctx, tenantID)
}

func (t *txStore) GetPurchase(ctx context.Context, tenantID ledger.TenantID, id ledger.PurchaseID) (ledger.PurchaseRecord, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.PurchaseRecord{}, err
	}
	return t.q.purchase(ctx, tenantID, id)
}

func (t *txStore) GetTenantSettings(ctx context.Context, tenantID ledger.TenantID) (ledger.TenantSettings, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.TenantSettings{}, err
	}
	var out ledger.TenantSettings
	err := t.savepoint(ctx, func() (err error) {
		out, err = t.q.settings(ctx, tenantID)
		return err
	})
	return out, err
}

func (t *txStore) CustomerExists(ctx context.Context, tenantID ledger.TenantID, id ledger.CustomerID) (bool, error) {
	if err := t.scope(tenantID); err != nil {
		return false, err
	}
	return t.q.customerExists(ctx, tenantID, id)
}

func (t *txStore) GetSupplier(ctx context.Context, tenantID ledger.TenantID, id ledger.SupplierID) (ledger.Supplier, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.Supplier{}, err
	}
	return t.q.supplier(ctx, tenantID, id)
}

func (t *txStore) AdjustStock(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID, delta int64) (int64, error) {
	if err := t.scope(tenantID); err != nil {
		return 0, err
	}
	return t.q.adjustStock(ctx, tenantID, id, delta)
}

func (t *txStore) SetCostPrice(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID, cost decimal.Decimal) error {
	if err := t.scope(tenantID); err != nil {
		return err
	}
	return t.q.setCostPrice(ctx, tenantID, id, cost)
}

func (t *txStore) AdvanceInvoiceNumber(ctx context.Context, tenantID ledger.TenantID, issued int64) error {
	if err := t.scope(tenantID); err != nil {
		return err
	}
	return t.savepoint(ctx, func() error {
		return t.q.advanceInvoiceNumber(ctx, tenantID, issued)
	})
}

func (t *txStore) SetNextInvoiceNumber(ctx context.Context, tenantID ledger.TenantID, next int64) error {
	if err := t.scope(tenantID); err != nil {
		return err
	}
	return t.q.setNextInvoiceNumber(ctx, tenantID, next)
}

func (t *txStore) MaxInvoiceSequence(ctx context.Context, tenantID ledger.TenantID) (int64, error) {
	if err := t.scope(tenantID); err != nil {
		return 0, err
	}
	return t.q.maxInvoiceSequence(ctx, tenantID)
}

func (t *txStore) InsertSale(ctx context.Context, sale ledger.SaleRecord) error {
	if err := t.scope(sale.TenantID); err != nil {
		return err
	}
	return t.q.insertSale(ctx, sale)
}

func (t *txStore) InsertPurchase(ctx context.Context, p ledger.PurchaseRecord) error {
	if err := t.scope(p.TenantID); err != nil {
		return err
	}
	return t.q.insertPurchase(ctx, p)
}

func (t *txStore) FindSaleByIdempotencyKey(ctx context.Context, tenantID ledger.TenantID, key string) (ledger.SaleRecord, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.SaleRecord{}, err
	}
	return t.q.saleByKey(ctx, tenantID, key)
}

func (t *txStore) FindPurchaseByIdempotencyKey(ctx context.Context, tenantID ledger.TenantID, key string) (ledger.PurchaseRecord, error) {
	if err := t.scope(tenantID); err != nil {
		return ledger.PurchaseRecord{}, err
	}
	return t.q.purchaseByKey(ctx, tenantID, key)
}

func (t *txStore) InsertSaleReversal(ctx context.Context, tenantID ledger.TenantID, id ledger.SaleID, r ledger.Reversal) error {
	if err := t.scope(tenantID); err != nil {
		return err
	}
	return t.q.insertSaleReversal(ctx, tenantID, id, r)
}

func (t *txStore) InsertPurchaseReversal(ctx context.Context, tenantID ledger.TenantID, id ledger.PurchaseID, r ledger.Reversal) error {
	if err := t.scope(tenantID); err != nil {
		return err
	}
	return t.q.insertPurchaseReversal(ctx, tenantID, id, r)
}
