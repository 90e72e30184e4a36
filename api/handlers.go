/*
handlers.go - HTTP API handlers for the retail ledger

PURPOSE:
  Exposes the transactional core via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the ledger.

ENDPOINTS (all under /api/tenants/{tenantID}):
  Sales:
    POST   /sales                 Record a sale (stock out + invoice number)
    POST   /sales/validate        Dry-run a sale, returns totals
    GET    /sales                 List sales in commit order
    GET    /sales/{id}            Get one sale
    POST   /sales/{id}/void       Reverse a sale (stock back in)

  Purchases:
    POST   /purchases             Record a purchase (stock in + cost update)
    POST   /purchases/validate    Dry-run a purchase, returns total
    GET    /purchases/{id}        Get one purchase
    POST   /purchases/{id}/void   Reverse a purchase (stock back out)

  Products:
    GET    /products/low-stock    Active products at or below threshold
    GET    /products/{id}         Get product with current stock

  Settings:
    GET    /settings                      Invoice prefix, next number, tax rate
    PUT    /settings/next-invoice-number  Move the sequence forward

  Scenarios (outside the tenant scope):
    GET    /api/scenarios          List demo scenarios
    GET    /api/scenarios/current  Currently loaded scenario
    POST   /api/scenarios/load     Reset and load a demo scenario

IDEMPOTENCY:
  POST /sales and POST /purchases accept an Idempotency-Key header. When
  the body carries no idempotency_key the header value is used. A repeat
  returns the originally committed record.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Tenant, product, customer, supplier or record not found
  - 409: Insufficient stock, already voided
  - 503: Persistence failure or tenant busy (retry the whole request)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The tenant comes from the URL and is trusted as-is;
  put the service behind a gateway that enforces tenant access.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/tenantlock"
)

// IdempotencyKeyHeader carries the client's retry key for create requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears every tenant's data. Used by demo scenarios only.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Coordinator
	Tenants *ledger.TenantConfig
	Catalog ledger.Catalog
	Store   Resetter

	log      *zap.Logger
	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler. store may be nil, which disables
// scenario loading.
func NewHandler(coord *ledger.Coordinator, tenants *ledger.TenantConfig, catalog ledger.Catalog, store Resetter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Ledger:   coord,
		Tenants:  tenants,
		Catalog:  catalog,
		Store:    store,
		log:      log.Named("api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale records a sale.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	}

	sale, err := h.Ledger.CreateSale(r.Context(), tenantParam(r), req.toInput())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to record sale", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSaleDTO(*sale))
}

// ValidateSale checks a sale without recording it.
func (h *Handler) ValidateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !h.decode(w, r, &req) {
		return
	}

	totals, err := h.Ledger.ValidateSale(r.Context(), tenantParam(r), req.toInput())
	if err != nil {
		h.writeLedgerError(w, r, "Sale would be rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, SaleQuoteDTO{
		Valid:      true,
		Subtotal:   totals.Subtotal,
		Discount:   totals.Discount,
		TaxRate:    totals.TaxRate,
		TaxAmount:  totals.TaxAmount,
		GrandTotal: totals.GrandTotal,
	})
}

// ListSales returns the tenant's sales in commit order.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Ledger.ListSales(r.Context(), tenantParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list sales", err)
		return
	}

	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSale returns one sale.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := ledger.SaleID(chi.URLParam(r, "id"))

	sale, err := h.Ledger.GetSale(r.Context(), tenantParam(r), id)
	if err != nil {
		h.writeLedgerError(w, r, "Sale not found", err)
		return
	}

	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// VoidSale reverses a committed sale.
func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := ledger.SaleID(chi.URLParam(r, "id"))

	sale, err := h.Ledger.VoidSale(r.Context(), tenantParam(r), id, req.Reason)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to void sale", err)
		return
	}

	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// CreatePurchase records a purchase.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase date", err)
		return
	}

	purchase, err := h.Ledger.CreatePurchase(r.Context(), tenantParam(r), in)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to record purchase", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPurchaseDTO(*purchase))
}

// ValidatePurchase checks a purchase without recording it.
func (h *Handler) ValidatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase date", err)
		return
	}

	total, err := h.Ledger.ValidatePurchase(r.Context(), tenantParam(r), in)
	if err != nil {
		h.writeLedgerError(w, r, "Purchase would be rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, PurchaseQuoteDTO{Valid: true, Total: total})
}

// GetPurchase returns one purchase.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id := ledger.PurchaseID(chi.URLParam(r, "id"))

	purchase, err := h.Ledger.GetPurchase(r.Context(), tenantParam(r), id)
	if err != nil {
		h.writeLedgerError(w, r, "Purchase not found", err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseDTO(purchase))
}

// VoidPurchase reverses a committed purchase.
func (h *Handler) VoidPurchase(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := ledger.PurchaseID(chi.URLParam(r, "id"))

	purchase, err := h.Ledger.VoidPurchase(r.Context(), tenantParam(r), id, req.Reason)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to void purchase", err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseDTO(*purchase))
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// GetProduct returns a product with its current stock.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	p, err := h.Ledger.GetProduct(r.Context(), tenantParam(r), id)
	if err != nil {
		h.writeLedgerError(w, r, "Product not found", err)
		return
	}

	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// ListLowStock returns active products at or below their threshold.
func (h *Handler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.Ledger.LowStock(r.Context(), tenantParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list low-stock products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the tenant's invoice and tax settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Tenants.Get(r.Context(), tenantParam(r))
	if err != nil {
		h.writeLedgerError(w, r, "Tenant settings not found", err)
		return
	}

	writeJSON(w, http.StatusOK, toTenantSettingsDTO(s))
}

// SetNextInvoiceNumber moves the invoice sequence. It refuses values that
// would reissue a committed number.
func (h *Handler) SetNextInvoiceNumber(w http.ResponseWriter, r *http.Request) {
	var req SetNextInvoiceNumberRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	tenantID := tenantParam(r)
	if err := h.Tenants.SetNext(ctx, tenantID, req.NextInvoiceNumber); err != nil {
		h.writeLedgerError(w, r, "Failed to set next invoice number", err)
		return
	}

	s, err := h.Tenants.Get(ctx, tenantID)
	if err != nil {
		h.writeLedgerError(w, r, "Tenant settings not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantSettingsDTO(s))
}

// =============================================================================
// HEALTH
// =============================================================================

// Pinger is implemented by stores with a live connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func tenantParam(r *http.Request) ledger.TenantID {
	return ledger.TenantID(strings.TrimSpace(chi.URLParam(r, "tenantID")))
}

// decode reads a JSON body into dst and runs struct validation. It writes
// a 400 and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := ErrorResponse{Error: "Invalid request", Code: "validation", Details: err.Error()}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			resp.Field = fieldErrs[0].Namespace()
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// writeLedgerError maps ledger error categories onto HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := ErrorResponse{Error: message, Details: err.Error()}
	status := http.StatusInternalServerError

	var (
		stockErr *ledger.InsufficientStockError
		valErr   *ledger.ValidationError
	)
	switch {
	case errors.As(err, &stockErr):
		status = http.StatusConflict
		resp.Code = "insufficient_stock"
		resp.ProductID = string(stockErr.ProductID)
		resp.Available = &stockErr.Available
		resp.Requested = &stockErr.Requested
	case errors.Is(err, ledger.ErrInsufficientStock):
		status = http.StatusConflict
		resp.Code = "insufficient_stock"
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
		resp.Code = "validation"
		resp.Field = valErr.Field
	case errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
		resp.Code = "validation"
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
		resp.Code = "not_found"
	case errors.Is(err, ledger.ErrAlreadyVoided):
		status = http.StatusConflict
		resp.Code = "already_voided"
	case errors.Is(err, tenantlock.ErrBusy), ledger.IsRetryable(err):
		status = http.StatusServiceUnavailable
		resp.Code = "retry"
		resp.Retryable = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		resp.Code = "timeout"
		resp.Retryable = true
	}

	if status >= http.StatusInternalServerError {
		h.log.Error(message,
			zap.String("tenant_id", string(tenantParam(r))),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
