package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-ledger/ledger"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type queries struct {
	db querier
	d  *Dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.d.Rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.d.Rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.d.Rebind(query), args...)
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `id, tenant_id, name, unit, cost_price, selling_price,
	current_stock, low_stock_threshold, active, updated_at`

func scanProduct(row scanner) (ledger.Product, error) {
	var p ledger.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Unit, &p.CostPrice, &p.SellingPrice,
		&p.CurrentStock, &p.LowStockThreshold, &p.Active, &p.UpdatedAt)
	return p, err
}

func (q *queries) product(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID) (ledger.Product, error) {
	p, err := scanProduct(q.queryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE tenant_id = ? AND id = ?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Product{}, ledger.ErrProductNotFound
	}
	if err != nil {
		return ledger.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (q *queries) lowStock(ctx context.Context, tenantID ledger.TenantID) ([]ledger.Product, error) {
	rows, err := q.query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = ? AND active = ? AND current_stock <= low_stock_threshold
		ORDER BY current_stock ASC, id ASC`, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock: %w", err)
	}
	defer rows.Close()

	var out []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) saveProduct(ctx context.Context, p ledger.Product) error {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			cost_price = excluded.cost_price,
			selling_price = excluded.selling_price,
			current_stock = excluded.current_stock,
			low_stock_threshold = excluded.low_stock_threshold,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		p.ID, p.TenantID, p.Name, p.Unit, p.CostPrice, p.SellingPrice,
		p.CurrentStock, p.LowStockThreshold, p.Active, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// adjustStock applies delta in one conditional UPDATE.
func (q *queries) adjustStock(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID, delta int64) (int64, error) {
	var qty int64
	err := q.queryRow(ctx, `
		UPDATE products
		SET current_stock = current_stock + ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND current_stock + ? >= 0
		RETURNING current_stock`,
		delta, time.Now().UTC(), tenantID, id, delta).Scan(&qty)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to adjust stock: %w", err)
	}

	if _, err := q.product(ctx, tenantID, id); err != nil {
		return 0, err
	}
	return 0, ledger.ErrInsufficientStock
}

func (q *queries) setCostPrice(ctx context.Context, tenantID ledger.TenantID, id ledger.ProductID, cost decimal.Decimal) error {
	res, err := q.exec(ctx,
		`UPDATE products SET cost_price = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		cost, time.Now().UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to set cost price: %w", err)
	}
	return expectOne(res, ledger.ErrProductNotFound)
}

// =============================================================================
// CUSTOMERS & SUPPLIERS
// =============================================================================

func (q *queries) customerExists(ctx context.Context, tenantID ledger.TenantID, id ledger.CustomerID) (bool, error) {
	var count int
	err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM customers WHERE tenant_id = ? AND id = ?`, tenantID, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check customer: %w", err)
	}
	return count > 0, nil
}

func (q *queries) saveCustomer(ctx context.Context, c ledger.Customer) error {
	_, err := q.exec(ctx, `
		INSERT INTO customers (id, tenant_id, name, phone)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone`,
		c.ID, c.TenantID, c.Name, c.Phone)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (q *queries) supplier(ctx context.Context, tenantID ledger.TenantID, id ledger.SupplierID) (ledger.Supplier, error) {
	var s ledger.Supplier
	err := q.queryRow(ctx,
		`SELECT id, tenant_id, name, active FROM suppliers WHERE tenant_id = ? AND id = ?`,
		tenantID, id).Scan(&s.ID, &s.TenantID, &s.Name, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Supplier{}, ledger.ErrSupplierNotFound
	}
	if err != nil {
		return ledger.Supplier{}, fmt.Errorf("failed to get supplier: %w", err)
	}
	return s, nil
}

func (q *queries) saveSupplier(ctx context.Context, s ledger.Supplier) error {
	_, err := q.exec(ctx, `
		INSERT INTO suppliers (id, tenant_id, name, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active`,
		s.ID, s.TenantID, s.Name, s.Active)
	if err != nil {
		return fmt.Errorf("failed to save supplier: %w", err)
	}
	return nil
}

// =============================================================================
// TENANT SETTINGS - Sequence row
// =============================================================================

func (q *queries) settings(ctx context.Context, tenantID ledger.TenantID) (ledger.TenantSettings, error) {
	var s ledger.TenantSettings
	err := q.queryRow(ctx, `
		SELECT tenant_id, invoice_prefix, next_invoice_number, tax_rate, updated_at
		FROM tenant_settings WHERE tenant_id = ?`, tenantID).
		Scan(&s.TenantID, &s.InvoicePrefix, &s.NextInvoiceNumber, &s.TaxRate, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TenantSettings{}, ledger.ErrTenantNotFound
	}
	if err != nil {
		return ledger.TenantSettings{}, fmt.Errorf("failed to get tenant settings: %w", err)
	}
	return s, nil
}

func (q *queries) saveSettings(ctx context.Context, s ledger.TenantSettings) error {
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, invoice_prefix, next_invoice_number, tax_rate, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			invoice_prefix = excluded.invoice_prefix,
			next_invoice_number = excluded.next_invoice_number,
			tax_rate = excluded.tax_rate,
			updated_at = excluded.updated_at`,
		s.TenantID, s.InvoicePrefix, s.NextInvoiceNumber, s.TaxRate, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tenant settings: %w", err)
	}
	return nil
}

// advanceInvoiceNumber moves next_invoice_number from issued to issued+1.
func (q *queries) advanceInvoiceNumber(ctx context.Context, tenantID ledger.TenantID, issued int64) error {
	res, err := q.exec(ctx, `
		UPDATE tenant_settings
		SET next_invoice_number = ?, updated_at = ?
		WHERE tenant_id = ? AND next_invoice_number = ?`,
		issued+1, time.Now().UTC(), tenantID, issued)
	if err != nil {
		return fmt.Errorf("failed to advance invoice number: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := q.settings(ctx, tenantID); err != nil {
		return err
	}
	return ledger.ErrConcurrentModification
}

func (q *queries) setNextInvoiceNumber(ctx context.Context, tenantID ledger.TenantID, next int64) error {
	res, err := q.exec(ctx,
		`UPDATE tenant_settings SET next_invoice_number = ?, updated_at = ? WHERE tenant_id = ?`,
		next, time.Now().UTC(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to set next invoice number: %w", err)
	}
	return expectOne(res, ledger.ErrTenantNotFound)
}

func (q *queries) maxInvoiceSequence(ctx context.Context, tenantID ledger.TenantID) (int64, error) {
	var highest int64
	err := q.queryRow(ctx, `
		SELECT COALESCE(MAX(invoice_sequence), 0) FROM sales
		WHERE tenant_id = ? AND invoice_kind = ?`,
		tenantID, string(ledger.InvoiceSequential)).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("failed to read highest invoice sequence: %w", err)
	}
	return highest, nil
}

// =============================================================================
// SALES
// =============================================================================

const saleSelect = `
	SELECT s.id, s.tenant_id, s.invoice_kind, s.invoice_prefix, s.invoice_sequence, s.invoice_token,
	       s.customer_id, s.customer_name, s.customer_phone,
	       s.subtotal, s.tax_rate, s.tax_amount, s.discount, s.grand_total,
	       s.payment_method, s.payment_status, s.notes, s.idempotency_key, s.created_at,
	       r.reason, r.reversed_at
	FROM sales s
	LEFT JOIN sale_reversals r ON r.tenant_id = s.tenant_id AND r.sale_id = s.id`

func scanSale(row scanner) (ledger.SaleRecord, error) {
	var (
		s          ledger.SaleRecord
		kind       string
		sequence   sql.NullInt64
		token      sql.NullString
		key        sql.NullString
		reason     sql.NullString
		reversedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.TenantID, &kind, &s.InvoiceNumber.Prefix, &sequence, &token,
		&s.CustomerID, &s.CustomerName, &s.CustomerPhone,
		&s.Subtotal, &s.TaxRate, &s.TaxAmount, &s.Discount, &s.GrandTotal,
		&s.PaymentMethod, &s.PaymentStatus, &s.Notes, &key, &s.CreatedAt,
		&reason, &reversedAt)
	if err != nil {
		return ledger.SaleRecord{}, err
	}

	s.InvoiceNumber.Kind = ledger.InvoiceKind(kind)
	s.InvoiceNumber.Sequence = sequence.Int64
	s.InvoiceNumber.Token = token.String
	s.IdempotencyKey = key.String
	if reversedAt.Valid {
		s.Reversal = &ledger.Reversal{Reason: reason.String, ReversedAt: reversedAt.Time}
	}
	return s, nil
}

func (q *queries) sale(ctx context.Context, tenantID ledger.TenantID, id ledger.SaleID) (ledger.SaleRecord, error) {
	return q.oneSale(ctx, saleSelect+` WHERE s.tenant_id = ? AND s.id = ?`, tenantID, id)
}

func (q *queries) saleByKey(ctx context.Context, tenantID ledger.TenantID, key string) (ledger.SaleRecord, error) {
	return q.oneSale(ctx, saleSelect+` WHERE s.tenant_id = ? AND s.idempotency_key = ?`, tenantID, key)
}

func (q *queries) oneSale(ctx context.Context, query string, args ...any) (ledger.SaleRecord, error) {
	s, err := scanSale(q.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SaleRecord{}, ledger.ErrSaleNotFound
	}
	if err != nil {
		return ledger.SaleRecord{}, fmt.Errorf("failed to get sale: %w", err)
	}

	lines, err := q.saleLines(ctx, s.TenantID, &s.ID)
	if err != nil {
		return ledger.SaleRecord{}, err
	}
	s.Lines = lines[s.ID]
	return s, nil
}

// listSales returns sales in insertion order, which is commit order
// because a tenant's units of work are serialized.
func (q *queries) listSales(ctx context.Context, tenantID ledger.TenantID) ([]ledger.SaleRecord, error) {
	rows, err := q.query(ctx, saleSelect+` WHERE s.tenant_id = ? ORDER BY s.position ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var out []ledger.SaleRecord
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := q.saleLines(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// saleLines loads lines for one sale, or for every sale of the tenant if id is nil.
func (q *queries) saleLines(ctx context.Context, tenantID ledger.TenantID, id *ledger.SaleID) (map[ledger.SaleID][]ledger.SaleLine, error) {
	query := `
		SELECT sale_id, line_no, product_id, product_name, quantity, unit_price, line_total
		FROM sale_lines WHERE tenant_id = ?`
	args := []any{tenantID}
	if id != nil {
		query += ` AND sale_id = ?`
		args = append(args, *id)
	}
	query += ` ORDER BY sale_id, line_no`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale lines: %w", err)
	}
	defer rows.Close()

	out := make(map[ledger.SaleID][]ledger.SaleLine)
	for rows.Next() {
		var (
			saleID ledger.SaleID
			l      ledger.SaleLine
		)
		if err := rows.Scan(&saleID, &l.LineNo, &l.ProductID, &l.ProductName,
			&l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		out[saleID] = append(out[saleID], l)
	}
	return out, rows.Err()
}

func (q *queries) insertSale(ctx context.Context, s ledger.SaleRecord) error {
	var sequence sql.NullInt64
	var token sql.NullString
	if s.InvoiceNumber.IsFallback() {
		token = sql.NullString{String: s.InvoiceNumber.Token, Valid: true}
	} else {
		sequence = sql.NullInt64{Int64: s.InvoiceNumber.Sequence, Valid: true}
	}

	_, err := q.exec(ctx, `
		INSERT INTO sales
		(id, tenant_id, invoice_number, invoice_kind, invoice_prefix, invoice_sequence, invoice_token,
		 customer_id, customer_name, customer_phone,
		 subtotal, tax_rate, tax_amount, discount, grand_total,
		 payment_method, payment_status, notes, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TenantID, s.InvoiceNumber.String(), string(s.InvoiceNumber.Kind), s.InvoiceNumber.Prefix, sequence, token,
		s.CustomerID, s.CustomerName, s.CustomerPhone,
		s.Subtotal, s.TaxRate, s.TaxAmount, s.Discount, s.GrandTotal,
		s.PaymentMethod, s.PaymentStatus, s.Notes, nullString(s.IdempotencyKey), s.CreatedAt)
	if err != nil {
		if detail, ok := q.d.UniqueViolation(err); ok && strings.Contains(detail, "idempotency") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	for _, l := range s.Lines {
		_, err := q.exec(ctx, `
			INSERT INTO sale_lines
			(tenant_id, sale_id, line_no, product_id, product_name, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.TenantID, s.ID, l.LineNo, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to insert sale line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (q *queries) insertSaleReversal(ctx context.Context, tenantID ledger.TenantID, id ledger.SaleID, r ledger.Reversal) error {
	if _, err := q.sale(ctx, tenantID, id); err != nil {
		return err
	}
	_, err := q.exec(ctx,
		`INSERT INTO sale_reversals (tenant_id, sale_id, reason, reversed_at) VALUES (?, ?, ?, ?)`,
		tenantID, id, r.Reason, r.ReversedAt)
	if err != nil {
		if _, ok := q.d.UniqueViolation(err); ok {
			return ledger.ErrAlreadyVoided
		}
		return fmt.Errorf("failed to insert sale reversal: %w", err)
	}
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

const purchaseSelect = `
	SELECT p.id, p.tenant_id, p.supplier_id, p.purchase_date, p.total, p.notes,
	       p.idempotency_key, p.created_at, r.reason, r.reversed_at
	FROM purchases p
	LEFT JOIN purchase_reversals r ON r.tenant_id = p.tenant_id AND r.purchase_id = p.id`

func (q *queries) purchase(ctx context.Context, tenantID ledger.TenantID, id ledger.PurchaseID) (ledger.PurchaseRecord, error) {
	return q.onePurchase(ctx, purchaseSelect+` WHERE p.tenant_id = ? AND p.id = ?`, tenantID, id)
}

func (q *queries) purchaseByKey(ctx context.Context, tenantID ledger.TenantID, key string) (ledger.PurchaseRecord, error) {
	return q.onePurchase(ctx, purchaseSelect+` WHERE p.tenant_id = ? AND p.idempotency_key = ?`, tenantID, key)
}

func (q *queries) onePurchase(ctx context.Context, query string, args ...any) (ledger.PurchaseRecord, error) {
	var (
		p          ledger.PurchaseRecord
		key        sql.NullString
		reason     sql.NullString
		reversedAt sql.NullTime
	)
	err := q.queryRow(ctx, query, args...).Scan(&p.ID, &p.TenantID, &p.SupplierID, &p.PurchaseDate,
		&p.Total, &p.Notes, &key, &p.CreatedAt, &reason, &reversedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PurchaseRecord{}, ledger.ErrPurchaseNotFound
	}
	if err != nil {
		return ledger.PurchaseRecord{}, fmt.Errorf("failed to get purchase: %w", err)
	}
	p.IdempotencyKey = key.String
	if reversedAt.Valid {
		p.Reversal = &ledger.Reversal{Reason: reason.String, ReversedAt: reversedAt.Time}
	}

	rows, err := q.query(ctx, `
		SELECT line_no, product_id, product_name, quantity, cost_price, line_total
		FROM purchase_lines WHERE tenant_id = ? AND purchase_id = ?
		ORDER BY line_no`, p.TenantID, p.ID)
	if err != nil {
		return ledger.PurchaseRecord{}, fmt.Errorf("failed to query purchase lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l ledger.PurchaseLine
		if err := rows.Scan(&l.LineNo, &l.ProductID, &l.ProductName, &l.Quantity, &l.CostPrice, &l.LineTotal); err != nil {
			return ledger.PurchaseRecord{}, err
		}
		p.Lines = append(p.Lines, l)
	}
	return p, rows.Err()
}

func (q *queries) insertPurchase(ctx context.Context, p ledger.PurchaseRecord) error {
	_, err := q.exec(ctx, `
		INSERT INTO purchases
		(id, tenant_id, supplier_id, purchase_date, total, notes, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.SupplierID, p.PurchaseDate, p.Total, p.Notes,
		nullString(p.IdempotencyKey), p.CreatedAt)
	if err != nil {
		if detail, ok := q.d.UniqueViolation(err); ok && strings.Contains(detail, "idempotency") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	for _, l := range p.Lines {
		_, err := q.exec(ctx, `
			INSERT INTO purchase_lines
			(tenant_id, purchase_id, line_no, product_id, product_name, quantity, cost_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.TenantID, p.ID, l.LineNo, l.ProductID, l.ProductName, l.Quantity, l.CostPrice, l.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to insert purchase line %d: %w", l.LineNo, err)
		}
	}
	return nil
}

func (q *queries) insertPurchaseReversal(ctx context.Context, tenantID ledger.TenantID, id ledger.PurchaseID, r ledger.Reversal) error {
	if _, err := q.purchase(ctx, tenantID, id); err != nil {
		return err
	}
	_, err := q.exec(ctx,
		`INSERT INTO purchase_reversals (tenant_id, purchase_id, reason, reversed_at) VALUES (?, ?, ?, ?)`,
		tenantID, id, r.Reason, r.ReversedAt)
	if err != nil {
		if _, ok := q.d.UniqueViolation(err); ok {
			return ledger.ErrAlreadyVoided
		}
		return fmt.Errorf("failed to insert purchase reversal: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
