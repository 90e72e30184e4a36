/*
store.go - Persistence ports for the ledger core

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Implementations: ledger/store (memory), store/sqlite, store/postgres.

KEY INTERFACES:
  Reader:  Tenant-scoped reads used outside a unit of work
  Tx:      Reads and writes inside one tenant-scoped unit of work
  TxStore: Opens units of work (all-or-nothing)
  Catalog: Administrative upserts (products, customers, suppliers, tenants)

UNIT OF WORK CONTRACT:
  WithTx(ctx, tenant, fn) runs fn against a Tx. If fn returns an error,
  every write made through the Tx is rolled back and nothing becomes
  visible to other callers. Units of work for the same tenant are
  serialized; different tenants may run in parallel.

STOCK CONTRACT:
  AdjustStock is the only write to CurrentStock. A negative delta must be
  applied as one conditional step: if CurrentStock + delta < 0 the store
  returns ErrInsufficientStock and leaves the row unchanged.

SEQUENCE CONTRACT:
  AdvanceInvoiceNumber(issued) is a compare-and-swap: it succeeds only if
  NextInvoiceNumber == issued and stores issued+1. Otherwise it returns
  ErrConcurrentModification. A missing row returns ErrTenantNotFound.

SEE ALSO:
  - coordinator.go: uses TxStore
  - ledger/store/memory.go: in-memory implementation for tests and dev
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READER - Tenant-scoped reads
// =============================================================================

type Reader interface {
	// GetProduct returns ErrProductNotFound if the product is absent for the tenant.
	GetProduct(ctx context.Context, tenantID TenantID, id ProductID) (Product, error)

	// ListLowStock returns active products with CurrentStock <= LowStockThreshold.
	ListLowStock(ctx context.Context, tenantID TenantID) ([]Product, error)

	// GetSale returns ErrSaleNotFound if absent. Lines and Reversal are populated.
	GetSale(ctx context.Context, tenantID TenantID, id SaleID) (SaleRecord, error)

	// ListSales returns the tenant's sales in commit order.
	ListSales(ctx context.Context, tenantID TenantID) ([]SaleRecord, error)

	GetPurchase(ctx context.Context, tenantID TenantID, id PurchaseID) (PurchaseRecord, error)

	// GetTenantSettings returns ErrTenantNotFound if the row is missing.
	GetTenantSettings(ctx context.Context, tenantID TenantID) (TenantSettings, error)
}

// =============================================================================
// TX - Operations inside one unit of work
// =============================================================================

type Tx interface {
	Reader

	CustomerExists(ctx context.Context, tenantID TenantID, id CustomerID) (bool, error)
	GetSupplier(ctx context.Context, tenantID TenantID, id SupplierID) (Supplier, error)

	// AdjustStock applies delta and returns the new CurrentStock.
	AdjustStock(ctx context.Context, tenantID TenantID, id ProductID, delta int64) (int64, error)
	SetCostPrice(ctx context.Context, tenantID TenantID, id ProductID, cost decimal.Decimal) error

	AdvanceInvoiceNumber(ctx context.Context, tenantID TenantID, issued int64) error
	SetNextInvoiceNumber(ctx context.Context, tenantID TenantID, next int64) error
	// MaxInvoiceSequence returns the highest sequential number on a committed sale, or 0.
	MaxInvoiceSequence(ctx context.Context, tenantID TenantID) (int64, error)

	// InsertSale returns ErrDuplicateIdempotencyKey if the key is taken.
	InsertSale(ctx context.Context, sale SaleRecord) error
	InsertPurchase(ctx context.Context, purchase PurchaseRecord) error
	FindSaleByIdempotencyKey(ctx context.Context, tenantID TenantID, key string) (SaleRecord, error)
	FindPurchaseByIdempotencyKey(ctx context.Context, tenantID TenantID, key string) (PurchaseRecord, error)

	// Insert*Reversal returns ErrAlreadyVoided if a reversal exists.
	InsertSaleReversal(ctx context.Context, tenantID TenantID, id SaleID, r Reversal) error
	InsertPurchaseReversal(ctx context.Context, tenantID TenantID, id PurchaseID, r Reversal) error
}

// TxStore opens tenant-scoped units of work.
type TxStore interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, tenantID TenantID, fn func(Tx) error) error
}

// =============================================================================
// CATALOG - Administrative writes (owned by catalog management)
// =============================================================================

type Catalog interface {
	SaveProduct(ctx context.Context, p Product) error
	SaveCustomer(ctx context.Context, c Customer) error
	SaveSupplier(ctx context.Context, s Supplier) error
	SaveTenantSettings(ctx context.Context, s TenantSettings) error
}

// =============================================================================
// TENANT GUARD - Optional lock held around a unit of work
// =============================================================================

// Locker serializes units of work for a tenant across processes.
// The store already serializes within one database; a Locker is only
// needed when several app instances share a store without that guarantee.
type Locker interface {
	Lock(ctx context.Context, tenantID TenantID) (unlock func(), err error)
}
