/*
Package ledger provides the transactional core of the retail ledger.

PURPOSE:
  For a single tenant, the core atomically validates a multi-line sale or
  purchase against current stock, mutates stock for every line, assigns
  a gap-free invoice number (sales only) and persists the record. All of
  it happens inside one unit of work so concurrent requests for the same
  tenant can never oversell or share an invoice number.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: a stocked good with a non-negative CurrentStock
  - SaleRecord / SaleLine: an immutable, committed sale
  - PurchaseRecord / PurchaseLine: an immutable, committed purchase
  - InvoiceNumber: tagged variant, Sequential(n) or Fallback(token)
  - TenantSettings: invoice prefix, next sequence value, tax rate

DESIGN PRINCIPLES:
  1. Append-only: sale and purchase rows are never edited, only reversed
  2. Precision: money uses decimal.Decimal, quantities are int64
  3. Type Safety: distinct ID types prevent mixing tenants and products
  4. Tenant scoping: every read and write names its tenant

SEE ALSO:
  - stock.go: Stock Ledger (floor-at-zero deltas)
  - sequence.go: invoice number generator with fallback
  - coordinator.go: unit of work orchestration
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ProductID string
type CustomerID string
type SupplierID string
type SaleID string
type PurchaseID string

// =============================================================================
// CATALOG - Read by the core, administered elsewhere
// =============================================================================

// Product is a stocked good. CurrentStock is mutated by the Stock Ledger only.
type Product struct {
	ID                ProductID
	TenantID          TenantID
	Name              string
	Unit              string
	CostPrice         decimal.Decimal
	SellingPrice      decimal.Decimal
	CurrentStock      int64
	LowStockThreshold int64
	Active            bool
	UpdatedAt         time.Time
}

// IsLowStock reports whether the product is at or below its alert threshold.
func (p Product) IsLowStock() bool {
	return p.CurrentStock <= p.LowStockThreshold
}

type Customer struct {
	ID       CustomerID
	TenantID TenantID
	Name     string
	Phone    string
}

type Supplier struct {
	ID       SupplierID
	TenantID TenantID
	Name     string
	Active   bool
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentMobileWallet PaymentMethod = "mobile_wallet"
	PaymentCredit       PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentMobileWallet, PaymentCredit:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPaid, PaymentPending, PaymentPartial:
		return true
	}
	return false
}

// =============================================================================
// INVOICE NUMBER - Sequential(n) | Fallback(token)
// =============================================================================

type InvoiceKind string

const (
	InvoiceSequential InvoiceKind = "sequential"
	InvoiceFallback   InvoiceKind = "fallback"
)

// InvoiceSequenceWidth is the zero-padded width of the numeric part.
const InvoiceSequenceWidth = 6

// FallbackInvoicePrefix marks invoice numbers issued while the tenant
// sequence was unavailable.
const FallbackInvoicePrefix = "TMP-"

// InvoiceNumber identifies a committed sale within its tenant.
//
// Sequential numbers are gap-free and strictly increasing in commit order.
// Fallback numbers are unique and time-ordered but sit outside the
// sequence; consumers that sort by invoice number must check Kind.
type InvoiceNumber struct {
	Kind     InvoiceKind
	Prefix   string
	Sequence int64  // set for Sequential only
	Token    string // set for Fallback only
}

func SequentialInvoice(prefix string, n int64) InvoiceNumber {
	return InvoiceNumber{Kind: InvoiceSequential, Prefix: prefix, Sequence: n}
}

func FallbackInvoice(token string) InvoiceNumber {
	return InvoiceNumber{Kind: InvoiceFallback, Token: token}
}

func (n InvoiceNumber) IsFallback() bool { return n.Kind == InvoiceFallback }

// String renders prefix + zero-padded sequence, or TMP-<token>.
func (n InvoiceNumber) String() string {
	if n.Kind == InvoiceFallback {
		return FallbackInvoicePrefix + n.Token
	}
	return fmt.Sprintf("%s%0*d", n.Prefix, InvoiceSequenceWidth, n.Sequence)
}

// =============================================================================
// SALE
// =============================================================================

// SaleLine is one product/quantity/price tuple. LineTotal == Quantity × UnitPrice.
type SaleLine struct {
	LineNo      int
	ProductID   ProductID
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

type SaleRecord struct {
	ID            SaleID
	TenantID      TenantID
	InvoiceNumber InvoiceNumber

	// Either CustomerID or CustomerName is set. Walk-ins carry name/phone only.
	CustomerID    CustomerID
	CustomerName  string
	CustomerPhone string

	Lines      []SaleLine
	Subtotal   decimal.Decimal
	TaxRate    decimal.Decimal // percent
	TaxAmount  decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal

	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	Notes          string
	IdempotencyKey string
	CreatedAt      time.Time

	// Reversal is set once the sale has been voided.
	Reversal *Reversal
}

func (s *SaleRecord) Voided() bool { return s.Reversal != nil }

// =============================================================================
// PURCHASE
// =============================================================================

type PurchaseLine struct {
	LineNo      int
	ProductID   ProductID
	ProductName string
	Quantity    int64
	CostPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

type PurchaseRecord struct {
	ID             PurchaseID
	TenantID       TenantID
	SupplierID     SupplierID
	PurchaseDate   time.Time
	Lines          []PurchaseLine
	Total          decimal.Decimal
	Notes          string
	IdempotencyKey string
	CreatedAt      time.Time

	Reversal *Reversal
}

func (p *PurchaseRecord) Voided() bool { return p.Reversal != nil }

// =============================================================================
// REVERSAL - Compensating entry, history is never deleted
// =============================================================================

type Reversal struct {
	Reason     string
	ReversedAt time.Time
}

// =============================================================================
// TENANT SETTINGS
// =============================================================================

// TenantSettings holds the invoice sequence and tax configuration.
//
// INVARIANT: once n is issued in a committed invoice number,
// NextInvoiceNumber > n and n is never issued again for the tenant.
type TenantSettings struct {
	TenantID          TenantID
	InvoicePrefix     string
	NextInvoiceNumber int64
	TaxRate           decimal.Decimal // percent, e.g. 7.5
	UpdatedAt         time.Time
}

// =============================================================================
// CALLER INPUT
// =============================================================================

type SaleLineInput struct {
	ProductID ProductID
	Quantity  int64
	UnitPrice decimal.Decimal
}

type SaleInput struct {
	CustomerID     CustomerID
	CustomerName   string
	CustomerPhone  string
	Lines          []SaleLineInput
	Discount       decimal.Decimal
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	Notes          string
	IdempotencyKey string
}

type PurchaseLineInput struct {
	ProductID ProductID
	Quantity  int64
	CostPrice decimal.Decimal
}

type PurchaseInput struct {
	SupplierID     SupplierID
	Lines          []PurchaseLineInput
	PurchaseDate   time.Time
	Notes          string
	IdempotencyKey string
}
