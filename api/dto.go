/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, enums, lengths). Business rules such as stock levels
  and product existence are decided by the ledger, not here.

MONEY:
  Amounts are decimal.Decimal. They decode from JSON numbers or strings
  and encode as strings ("12.50") so no float rounding reaches clients.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// SALES
// =============================================================================

type SaleLineRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Quantity  int64           `json:"quantity" validate:"gte=1,lte=1000000000"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateSaleRequest is the body of POST /sales and POST /sales/validate.
type CreateSaleRequest struct {
	CustomerID     string            `json:"customer_id" validate:"max=64"`
	CustomerName   string            `json:"customer_name" validate:"required_without=CustomerID,max=200"`
	CustomerPhone  string            `json:"customer_phone" validate:"max=32"`
	Lines          []SaleLineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
	Discount       decimal.Decimal   `json:"discount"`
	PaymentMethod  string            `json:"payment_method" validate:"required,oneof=cash card bank_transfer mobile_wallet credit"`
	PaymentStatus  string            `json:"payment_status" validate:"required,oneof=paid pending partial"`
	Notes          string            `json:"notes" validate:"max=1000"`
	IdempotencyKey string            `json:"idempotency_key" validate:"max=128"`
}

func (r CreateSaleRequest) toInput() ledger.SaleInput {
	lines := make([]ledger.SaleLineInput, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = ledger.SaleLineInput{
			ProductID: ledger.ProductID(l.ProductID),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return ledger.SaleInput{
		CustomerID:     ledger.CustomerID(r.CustomerID),
		CustomerName:   strings.TrimSpace(r.CustomerName),
		CustomerPhone:  r.CustomerPhone,
		Lines:          lines,
		Discount:       r.Discount,
		PaymentMethod:  ledger.PaymentMethod(r.PaymentMethod),
		PaymentStatus:  ledger.PaymentStatus(r.PaymentStatus),
		Notes:          r.Notes,
		IdempotencyKey: r.IdempotencyKey,
	}
}

type SaleLineDTO struct {
	LineNo      int             `json:"line_no"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// SaleDTO represents a committed sale. InvoiceKind is "fallback" when
// InvoiceNumber is a TMP- number outside the tenant sequence.
type SaleDTO struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	InvoiceKind     string          `json:"invoice_kind"`
	InvoiceSequence int64           `json:"invoice_sequence,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	Lines           []SaleLineDTO   `json:"lines"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Discount        decimal.Decimal `json:"discount"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	Notes           string          `json:"notes,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       string          `json:"created_at"`
	Voided          bool            `json:"voided"`
	Reversal        *ReversalDTO    `json:"reversal,omitempty"`
}

func toSaleDTO(s ledger.SaleRecord) SaleDTO {
	lines := make([]SaleLineDTO, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = SaleLineDTO{
			LineNo:      l.LineNo,
			ProductID:   string(l.ProductID),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		}
	}
	return SaleDTO{
		ID:              string(s.ID),
		TenantID:        string(s.TenantID),
		InvoiceNumber:   s.InvoiceNumber.String(),
		InvoiceKind:     string(s.InvoiceNumber.Kind),
		InvoiceSequence: s.InvoiceNumber.Sequence,
		CustomerID:      string(s.CustomerID),
		CustomerName:    s.CustomerName,
		CustomerPhone:   s.CustomerPhone,
		Lines:           lines,
		Subtotal:        s.Subtotal,
		TaxRate:         s.TaxRate,
		TaxAmount:       s.TaxAmount,
		Discount:        s.Discount,
		GrandTotal:      s.GrandTotal,
		PaymentMethod:   string(s.PaymentMethod),
		PaymentStatus:   string(s.PaymentStatus),
		Notes:           s.Notes,
		IdempotencyKey:  s.IdempotencyKey,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		Voided:          s.Voided(),
		Reversal:        toReversalDTO(s.Reversal),
	}
}

// SaleQuoteDTO is returned by POST /sales/validate.
type SaleQuoteDTO struct {
	Valid      bool            `json:"valid"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchaseLineRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Quantity  int64           `json:"quantity" validate:"gte=1,lte=1000000000"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

// CreatePurchaseRequest is the body of POST /purchases. PurchaseDate is
// YYYY-MM-DD or RFC 3339; empty means now.
type CreatePurchaseRequest struct {
	SupplierID     string                `json:"supplier_id" validate:"required,max=64"`
	Lines          []PurchaseLineRequest `json:"lines" validate:"required,min=1,max=500,dive"`
	PurchaseDate   string                `json:"purchase_date"`
	Notes          string                `json:"notes" validate:"max=1000"`
	IdempotencyKey string                `json:"idempotency_key" validate:"max=128"`
}

func (r CreatePurchaseRequest) toInput() (ledger.PurchaseInput, error) {
	date, err := parseDate(r.PurchaseDate)
	if err != nil {
		return ledger.PurchaseInput{}, err
	}
	lines := make([]ledger.PurchaseLineInput, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = ledger.PurchaseLineInput{
			ProductID: ledger.ProductID(l.ProductID),
			Quantity:  l.Quantity,
			CostPrice: l.CostPrice,
		}
	}
	return ledger.PurchaseInput{
		SupplierID:     ledger.SupplierID(r.SupplierID),
		Lines:          lines,
		PurchaseDate:   date,
		Notes:          r.Notes,
		IdempotencyKey: r.IdempotencyKey,
	}, nil
}

type PurchaseLineDTO struct {
	LineNo      int             `json:"line_no"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type PurchaseDTO struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	SupplierID     string            `json:"supplier_id"`
	PurchaseDate   string            `json:"purchase_date"`
	Lines          []PurchaseLineDTO `json:"lines"`
	Total          decimal.Decimal   `json:"total"`
	Notes          string            `json:"notes,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      string            `json:"created_at"`
	Voided         bool              `json:"voided"`
	Reversal       *ReversalDTO      `json:"reversal,omitempty"`
}

func toPurchaseDTO(p ledger.PurchaseRecord) PurchaseDTO {
	lines := make([]PurchaseLineDTO, len(p.Lines))
	for i, l := range p.Lines {
		lines[i] = PurchaseLineDTO{
			LineNo:      l.LineNo,
			ProductID:   string(l.ProductID),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			CostPrice:   l.CostPrice,
			LineTotal:   l.LineTotal,
		}
	}
	return PurchaseDTO{
		ID:             string(p.ID),
		TenantID:       string(p.TenantID),
		SupplierID:     string(p.SupplierID),
		PurchaseDate:   p.PurchaseDate.Format("2006-01-02"),
		Lines:          lines,
		Total:          p.Total,
		Notes:          p.Notes,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		Voided:         p.Voided(),
		Reversal:       toReversalDTO(p.Reversal),
	}
}

// PurchaseQuoteDTO is returned by POST /purchases/validate.
type PurchaseQuoteDTO struct {
	Valid bool            `json:"valid"`
	Total decimal.Decimal `json:"total"`
}

// =============================================================================
// VOID
// =============================================================================

type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ReversalDTO struct {
	Reason     string `json:"reason"`
	ReversedAt string `json:"reversed_at"`
}

func toReversalDTO(r *ledger.Reversal) *ReversalDTO {
	if r == nil {
		return nil
	}
	return &ReversalDTO{Reason: r.Reason, ReversedAt: r.ReversedAt.Format(time.RFC3339)}
}

// =============================================================================
// PRODUCTS & SETTINGS
// =============================================================================

type ProductDTO struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	CostPrice         decimal.Decimal `json:"cost_price"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	CurrentStock      int64           `json:"current_stock"`
	LowStockThreshold int64           `json:"low_stock_threshold"`
	LowStock          bool            `json:"low_stock"`
	Active            bool            `json:"active"`
}

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{
		ID:                string(p.ID),
		Name:              p.Name,
		Unit:              p.Unit,
		CostPrice:         p.CostPrice,
		SellingPrice:      p.SellingPrice,
		CurrentStock:      p.CurrentStock,
		LowStockThreshold: p.LowStockThreshold,
		LowStock:          p.IsLowStock(),
		Active:            p.Active,
	}
}

type TenantSettingsDTO struct {
	TenantID          string          `json:"tenant_id"`
	InvoicePrefix     string          `json:"invoice_prefix"`
	NextInvoiceNumber int64           `json:"next_invoice_number"`
	NextInvoice       string          `json:"next_invoice"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	UpdatedAt         string          `json:"updated_at"`
}

func toTenantSettingsDTO(s ledger.TenantSettings) TenantSettingsDTO {
	return TenantSettingsDTO{
		TenantID:          string(s.TenantID),
		InvoicePrefix:     s.InvoicePrefix,
		NextInvoiceNumber: s.NextInvoiceNumber,
		NextInvoice:       ledger.SequentialInvoice(s.InvoicePrefix, s.NextInvoiceNumber).String(),
		TaxRate:           s.TaxRate,
		UpdatedAt:         s.UpdatedAt.Format(time.RFC3339),
	}
}

type SetNextInvoiceNumberRequest struct {
	NextInvoiceNumber int64 `json:"next_invoice_number" validate:"gte=1"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	TenantID    string `json:"tenant_id"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Available *int64 `json:"available,omitempty"`
	Requested *int64 `json:"requested,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("purchase_date must be YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t.UTC(), nil
}
