/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built shops that populate the store with realistic data
	for demos. Each scenario creates tenant settings, products, customers
	and suppliers, then records purchases and sales through the ledger so
	stock and invoice numbers are real.

AVAILABLE SCENARIOS:

	corner-shop:         One tenant, restock then a few sales
	fallback-numbering:  Tenant with no settings row, sales get TMP- numbers
	low-stock:           Products hovering at their alert thresholds
	two-tenants:         Two shops with independent stock and sequences

HOW SCENARIOS WORK:
 1. Reset the store (clear all tenants)
 2. Save catalog rows (products, customers, suppliers)
 3. Save tenant settings
 4. Record purchases and sales via the Coordinator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "corner-shop"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "corner-shop",
		Name:        "Corner Shop",
		Description: "Restock from a supplier, then three sales with sequential invoices",
		TenantID:    "corner-shop",
	},
	{
		ID:          "fallback-numbering",
		Name:        "Fallback Numbering",
		Description: "Tenant without settings; sales still commit with TMP- invoice numbers",
		TenantID:    "pop-up-stall",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Products at or below their alert thresholds",
		TenantID:    "kiosk",
	},
	{
		ID:          "two-tenants",
		Name:        "Two Tenants",
		Description: "Two shops sharing product IDs with separate stock and invoice sequences",
		TenantID:    "north-branch",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"corner-shop":        (*Handler).loadCornerShopScenario,
	"fallback-numbering": (*Handler).loadFallbackNumberingScenario,
	"low-stock":          (*Handler).loadLowStockScenario,
	"two-tenants":        (*Handler).loadTwoTenantsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.ApplyScenario(r.Context(), req.ScenarioID)
	switch {
	case errors.Is(err, errUnknownScenario):
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	case errors.Is(err, errScenariosDisabled):
		writeError(w, http.StatusNotImplemented, "Scenarios are not available for this store", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var (
	errUnknownScenario   = errors.New("unknown scenario")
	errScenariosDisabled = errors.New("store cannot be reset")
)

// ApplyScenario resets the store and seeds the named scenario. It is also
// called at startup when a demo scenario is configured.
func (h *Handler) ApplyScenario(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownScenario, id)
	}
	if h.Store == nil || h.Catalog == nil {
		return errScenariosDisabled
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.log.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCornerShopScenario(ctx context.Context) error {
	const tenant ledger.TenantID = "corner-shop"

	if err := h.Tenants.Put(ctx, ledger.TenantSettings{
		TenantID:          tenant,
		InvoicePrefix:     "CS-",
		NextInvoiceNumber: 1,
		TaxRate:           decimal.RequireFromString("7.5"),
	}); err != nil {
		return err
	}
	if err := h.seedProducts(ctx, tenant, []ledger.Product{
		{ID: "cola-330", Name: "Cola 330ml", Unit: "can", CostPrice: dec("0.40"), SellingPrice: dec("1.20"), LowStockThreshold: 12, Active: true},
		{ID: "bread-wh", Name: "White Bread", Unit: "loaf", CostPrice: dec("1.10"), SellingPrice: dec("2.50"), LowStockThreshold: 5, Active: true},
		{ID: "eggs-12", Name: "Eggs (dozen)", Unit: "box", CostPrice: dec("2.00"), SellingPrice: dec("3.80"), LowStockThreshold: 4, Active: true},
	}); err != nil {
		return err
	}
	if err := h.Catalog.SaveSupplier(ctx, ledger.Supplier{ID: "wholesale-1", TenantID: tenant, Name: "City Wholesale", Active: true}); err != nil {
		return err
	}
	if err := h.Catalog.SaveCustomer(ctx, ledger.Customer{ID: "cust-ana", TenantID: tenant, Name: "Ana", Phone: "+16502530101"}); err != nil {
		return err
	}

	if _, err := h.Ledger.CreatePurchase(ctx, tenant, ledger.PurchaseInput{
		SupplierID: "wholesale-1",
		Lines: []ledger.PurchaseLineInput{
			{ProductID: "cola-330", Quantity: 48, CostPrice: dec("0.42")},
			{ProductID: "bread-wh", Quantity: 20, CostPrice: dec("1.10")},
			{ProductID: "eggs-12", Quantity: 15, CostPrice: dec("2.05")},
		},
		Notes: "Opening stock",
	}); err != nil {
		return fmt.Errorf("opening purchase: %w", err)
	}

	sales := []ledger.SaleInput{
		{
			CustomerID:    "cust-ana",
			Lines:         []ledger.SaleLineInput{{ProductID: "cola-330", Quantity: 6}, {ProductID: "bread-wh", Quantity: 1}},
			PaymentMethod: ledger.PaymentCard,
			PaymentStatus: ledger.PaymentPaid,
		},
		{
			CustomerName:  "Walk-in",
			CustomerPhone: "(650) 253-0199",
			Lines:         []ledger.SaleLineInput{{ProductID: "eggs-12", Quantity: 2}},
			Discount:      dec("0.50"),
			PaymentMethod: ledger.PaymentCash,
			PaymentStatus: ledger.PaymentPaid,
		},
		{
			CustomerName:  "Walk-in",
			Lines:         []ledger.SaleLineInput{{ProductID: "cola-330", Quantity: 2}},
			PaymentMethod: ledger.PaymentMobileWallet,
			PaymentStatus: ledger.PaymentPending,
		},
	}
	for i, in := range sales {
		if _, err := h.Ledger.CreateSale(ctx, tenant, in); err != nil {
			return fmt.Errorf("sale %d: %w", i+1, err)
		}
	}
	return nil
}

func (h *Handler) loadFallbackNumberingScenario(ctx context.Context) error {
	const tenant ledger.TenantID = "pop-up-stall"

	// No tenant settings row: every sale takes a fallback number.
	if err := h.seedProducts(ctx, tenant, []ledger.Product{
		{ID: "tote", Name: "Canvas Tote", Unit: "pc", CostPrice: dec("3.00"), SellingPrice: dec("12.00"), CurrentStock: 30, LowStockThreshold: 3, Active: true},
		{ID: "badge", Name: "Enamel Badge", Unit: "pc", CostPrice: dec("0.80"), SellingPrice: dec("4.00"), CurrentStock: 100, LowStockThreshold: 10, Active: true},
	}); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		if _, err := h.Ledger.CreateSale(ctx, tenant, ledger.SaleInput{
			CustomerName:  "Festival visitor",
			Lines:         []ledger.SaleLineInput{{ProductID: "tote", Quantity: 1}, {ProductID: "badge", Quantity: 2}},
			PaymentMethod: ledger.PaymentCash,
			PaymentStatus: ledger.PaymentPaid,
		}); err != nil {
			return fmt.Errorf("sale %d: %w", i+1, err)
		}
	}
	return nil
}

func (h *Handler) loadLowStockScenario(ctx context.Context) error {
	const tenant ledger.TenantID = "kiosk"

	if err := h.Tenants.Put(ctx, ledger.TenantSettings{
		TenantID:          tenant,
		InvoicePrefix:     "K",
		NextInvoiceNumber: 1001,
	}); err != nil {
		return err
	}
	return h.seedProducts(ctx, tenant, []ledger.Product{
		{ID: "gum", Name: "Chewing Gum", Unit: "pack", CostPrice: dec("0.30"), SellingPrice: dec("1.00"), CurrentStock: 2, LowStockThreshold: 10, Active: true},
		{ID: "water", Name: "Still Water 500ml", Unit: "bottle", CostPrice: dec("0.25"), SellingPrice: dec("1.00"), CurrentStock: 10, LowStockThreshold: 10, Active: true},
		{ID: "paper", Name: "Daily Paper", Unit: "copy", CostPrice: dec("1.00"), SellingPrice: dec("2.00"), CurrentStock: 40, LowStockThreshold: 5, Active: true},
		{ID: "maps", Name: "City Map", Unit: "pc", CostPrice: dec("2.00"), SellingPrice: dec("5.00"), CurrentStock: 0, LowStockThreshold: 1, Active: false},
	})
}

func (h *Handler) loadTwoTenantsScenario(ctx context.Context) error {
	for _, t := range []struct {
		id     ledger.TenantID
		prefix string
		stock  int64
	}{
		{"north-branch", "N-", 20},
		{"south-branch", "S-", 5},
	} {
		if err := h.Tenants.Put(ctx, ledger.TenantSettings{
			TenantID:          t.id,
			InvoicePrefix:     t.prefix,
			NextInvoiceNumber: 1,
			TaxRate:           dec("5"),
		}); err != nil {
			return err
		}
		if err := h.seedProducts(ctx, t.id, []ledger.Product{
			{ID: "coffee-beans", Name: "Coffee Beans 250g", Unit: "bag", CostPrice: dec("4.00"), SellingPrice: dec("9.50"), CurrentStock: t.stock, LowStockThreshold: 3, Active: true},
		}); err != nil {
			return err
		}
		if _, err := h.Ledger.CreateSale(ctx, t.id, ledger.SaleInput{
			CustomerName:  "Regular",
			Lines:         []ledger.SaleLineInput{{ProductID: "coffee-beans", Quantity: 2}},
			PaymentMethod: ledger.PaymentCard,
			PaymentStatus: ledger.PaymentPaid,
		}); err != nil {
			return fmt.Errorf("%s sale: %w", t.id, err)
		}
	}
	return nil
}

func (h *Handler) seedProducts(ctx context.Context, tenant ledger.TenantID, products []ledger.Product) error {
	for _, p := range products {
		p.TenantID = tenant
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
