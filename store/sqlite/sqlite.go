/*
Package sqlite provides a SQLite-backed ledger store.

PURPOSE:
  Opens a SQLite database, migrates the ledger schema and returns a
  sqlstore.Store that implements ledger.TxStore and ledger.Catalog.

APPEND-ONLY ENFORCEMENT:
  - sales, sale_lines, purchases, purchase_lines are never updated or deleted
  - voids add one row to *_reversals (primary key = record id)
  - products.current_stock carries CHECK (current_stock >= 0)

CONCURRENCY:
  SQLite allows one writer. The store serializes units of work in-process
  and opens transactions with BEGIN IMMEDIATE (_txlock=immediate), so a
  second process waits on the busy timeout instead of failing mid-unit.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  coord := ledger.NewCoordinator(st)

SEE ALSO:
  - store/sqlstore: shared queries
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/retail-ledger/store/sqlstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tenant_settings (
		tenant_id TEXT PRIMARY KEY,
		invoice_prefix TEXT NOT NULL DEFAULT '',
		next_invoice_number INTEGER NOT NULL CHECK (next_invoice_number >= 1),
		tax_rate TEXT NOT NULL DEFAULT '0',
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		cost_price TEXT NOT NULL,
		selling_price TEXT NOT NULL,
		current_stock INTEGER NOT NULL CHECK (current_stock >= 0),
		low_stock_threshold INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_products_low_stock
		ON products(tenant_id, active, current_stock);

	CREATE TABLE IF NOT EXISTS customers (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS suppliers (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (tenant_id, id)
	);

	-- Sales (append-only). position gives commit order.
	CREATE TABLE IF NOT EXISTS sales (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		invoice_number TEXT NOT NULL,
		invoice_kind TEXT NOT NULL,
		invoice_prefix TEXT NOT NULL DEFAULT '',
		invoice_sequence INTEGER,
		invoice_token TEXT,
		customer_id TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		subtotal TEXT NOT NULL,
		tax_rate TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		discount TEXT NOT NULL,
		grand_total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, id),
		UNIQUE (tenant_id, invoice_number),
		UNIQUE (tenant_id, idempotency_key)
	);

	-- CRITICAL: a sequential invoice number is issued once per tenant
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_invoice_sequence
		ON sales(tenant_id, invoice_sequence) WHERE invoice_kind = 'sequential';

	CREATE TABLE IF NOT EXISTS sale_lines (
		tenant_id TEXT NOT NULL,
		sale_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (tenant_id, sale_id, line_no),
		FOREIGN KEY (tenant_id, sale_id) REFERENCES sales(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS sale_reversals (
		tenant_id TEXT NOT NULL,
		sale_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		reversed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, sale_id),
		FOREIGN KEY (tenant_id, sale_id) REFERENCES sales(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS purchases (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		purchase_date TIMESTAMP NOT NULL,
		total TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, id),
		UNIQUE (tenant_id, idempotency_key)
	);

	CREATE TABLE IF NOT EXISTS purchase_lines (
		tenant_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		cost_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (tenant_id, purchase_id, line_no),
		FOREIGN KEY (tenant_id, purchase_id) REFERENCES purchases(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS purchase_reversals (
		tenant_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		reversed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, purchase_id),
		FOREIGN KEY (tenant_id, purchase_id) REFERENCES purchases(tenant_id, id)
	);
`

// Dialect is the SQLite flavour of the shared store.
var Dialect = sqlstore.Dialect{
	Name:            "sqlite",
	SingleWriter:    true,
	UniqueViolation: uniqueViolation,
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+"_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := sqlstore.Migrate(context.Background(), db, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return sqlstore.New(db, Dialect), nil
}

func uniqueViolation(err error) (string, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return "", false
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return se.Error(), true
	}
	return "", false
}
