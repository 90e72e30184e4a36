/*
Package postgres provides a PostgreSQL-backed ledger store.

PURPOSE:
  Same tables and queries as store/sqlite, run through the pgx stdlib
  driver. Intended for deployments with several app instances.

CONCURRENCY:
  Every unit of work starts with
    SELECT pg_advisory_xact_lock(hashtext(tenant_id))
  which serializes one tenant's units across all connections and releases
  at COMMIT/ROLLBACK. Different tenants hash to different locks and run
  in parallel. The conditional stock UPDATE and CHECK (current_stock >= 0)
  still hold if the lock is bypassed.

SEE ALSO:
  - store/sqlstore: shared queries
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/store/sqlstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tenant_settings (
		tenant_id TEXT PRIMARY KEY,
		invoice_prefix TEXT NOT NULL DEFAULT '',
		next_invoice_number BIGINT NOT NULL CHECK (next_invoice_number >= 1),
		tax_rate NUMERIC NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		cost_price NUMERIC NOT NULL,
		selling_price NUMERIC NOT NULL,
		current_stock BIGINT NOT NULL CHECK (current_stock >= 0),
		low_stock_threshold BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL,
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

	CREATE TABLE IF NOT EXISTS sales (
		position BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		invoice_number TEXT NOT NULL,
		invoice_kind TEXT NOT NULL,
		invoice_prefix TEXT NOT NULL DEFAULT '',
		invoice_sequence BIGINT,
		invoice_token TEXT,
		customer_id TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		subtotal NUMERIC NOT NULL,
		tax_rate NUMERIC NOT NULL,
		tax_amount NUMERIC NOT NULL,
		discount NUMERIC NOT NULL,
		grand_total NUMERIC NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_sales_id UNIQUE (tenant_id, id),
		CONSTRAINT uq_sales_invoice_number UNIQUE (tenant_id, invoice_number),
		CONSTRAINT uq_sales_idempotency_key UNIQUE (tenant_id, idempotency_key)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_invoice_sequence
		ON sales(tenant_id, invoice_sequence) WHERE invoice_kind = 'sequential';

	CREATE TABLE IF NOT EXISTS sale_lines (
		tenant_id TEXT NOT NULL,
		sale_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC NOT NULL,
		line_total NUMERIC NOT NULL,
		PRIMARY KEY (tenant_id, sale_id, line_no),
		FOREIGN KEY (tenant_id, sale_id) REFERENCES sales(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS sale_reversals (
		tenant_id TEXT NOT NULL,
		sale_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		reversed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, sale_id),
		FOREIGN KEY (tenant_id, sale_id) REFERENCES sales(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS purchases (
		position BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		purchase_date TIMESTAMPTZ NOT NULL,
		total NUMERIC NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_purchases_id UNIQUE (tenant_id, id),
		CONSTRAINT uq_purchases_idempotency_key UNIQUE (tenant_id, idempotency_key)
	);

	CREATE TABLE IF NOT EXISTS purchase_lines (
		tenant_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		cost_price NUMERIC NOT NULL,
		line_total NUMERIC NOT NULL,
		PRIMARY KEY (tenant_id, purchase_id, line_no),
		FOREIGN KEY (tenant_id, purchase_id) REFERENCES purchases(tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS purchase_reversals (
		tenant_id TEXT NOT NULL,
		purchase_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		reversed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, purchase_id),
		FOREIGN KEY (tenant_id, purchase_id) REFERENCES purchases(tenant_id, id)
	);
`

// Dialect is the PostgreSQL flavour of the shared store.
var Dialect = sqlstore.Dialect{
	Name:            "postgres",
	Rebind:          sqlstore.RebindDollar,
	LockTenant:      lockTenant,
	UniqueViolation: uniqueViolation,
}

// New connects with the pgx stdlib driver and migrates the schema.
func New(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return sqlstore.New(db, Dialect), nil
}

func lockTenant(ctx context.Context, tx *sql.Tx, tenantID ledger.TenantID) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(tenantID))
	return err
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
