package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// salePlan is a validated sale ready to be applied.
type salePlan struct {
	lines  []SaleLine
	totals SaleTotals
	phone  string
}

// CreateSale validates the sale against current stock, decrements stock
// for every line, assigns an invoice number and persists the record, all
// in one unit of work.
//
// If in.IdempotencyKey matches a committed sale, that sale is returned
// and nothing is mutated.
func (c *Coordinator) CreateSale(ctx context.Context, tenantID TenantID, in SaleInput) (*SaleRecord, error) {
	var (
		out      SaleRecord
		replayed bool
	)

	err := c.checkSaleInput(tenantID, in)
	if err == nil {
		err = c.run(ctx, "create_sale", tenantID, func(ctx context.Context, tx Tx) error {
			if in.IdempotencyKey != "" {
				existing, err := tx.FindSaleByIdempotencyKey(ctx, tenantID, in.IdempotencyKey)
				if err == nil {
					out, replayed = existing, true
					return nil
				}
				if !errors.Is(err, ErrSaleNotFound) {
					return err
				}
			}

			plan, err := c.planSale(ctx, tx, tenantID, in)
			if err != nil {
				return err
			}

			for _, l := range plan.lines {
				if _, err := c.stock.Apply(ctx, tx, tenantID, l.ProductID, -l.Quantity, nil); err != nil {
					return err
				}
			}

			number, err := c.seq.Next(ctx, tx, tenantID)
			if err != nil {
				return err
			}

			rec := SaleRecord{
				ID:             SaleID(c.newID()),
				TenantID:       tenantID,
				InvoiceNumber:  number,
				CustomerID:     in.CustomerID,
				CustomerName:   strings.TrimSpace(in.CustomerName),
				CustomerPhone:  plan.phone,
				Lines:          plan.lines,
				Subtotal:       plan.totals.Subtotal,
				TaxRate:        plan.totals.TaxRate,
				TaxAmount:      plan.totals.TaxAmount,
				Discount:       plan.totals.Discount,
				GrandTotal:     plan.totals.GrandTotal,
				PaymentMethod:  in.PaymentMethod,
				PaymentStatus:  in.PaymentStatus,
				Notes:          in.Notes,
				IdempotencyKey: in.IdempotencyKey,
				CreatedAt:      c.clock.Now(),
			}
			if err := tx.InsertSale(ctx, rec); err != nil {
				return fmt.Errorf("insert sale: %w", err)
			}
			out = rec
			return nil
		})
	}

	c.rec.SaleFinished(outcomeOf(err, replayed))
	if errors.Is(err, ErrInsufficientStock) {
		c.rec.StockRejected()
	}
	if err != nil {
		c.log.Debug("sale rejected", zap.String("tenant_id", string(tenantID)), zap.Error(err))
		return nil, err
	}

	c.log.Info("sale committed",
		zap.String("tenant_id", string(tenantID)),
		zap.String("sale_id", string(out.ID)),
		zap.Stringer("invoice_number", out.InvoiceNumber),
		zap.Bool("fallback_invoice", out.InvoiceNumber.IsFallback()),
		zap.Bool("replayed", replayed),
		zap.Int("lines", len(out.Lines)),
		zap.String("grand_total", out.GrandTotal.StringFixed(MoneyPlaces)),
	)
	return &out, nil
}

// ValidateSale runs every CreateSale check against current state and
// returns the totals the sale would have. Nothing is mutated.
func (c *Coordinator) ValidateSale(ctx context.Context, tenantID TenantID, in SaleInput) (SaleTotals, error) {
	if err := c.checkSaleInput(tenantID, in); err != nil {
		return SaleTotals{}, err
	}

	var totals SaleTotals
	err := c.run(ctx, "validate_sale", tenantID, func(ctx context.Context, tx Tx) error {
		plan, err := c.planSale(ctx, tx, tenantID, in)
		if err != nil {
			return err
		}
		totals = plan.totals
		return errRollback
	})
	if err != nil {
		return SaleTotals{}, err
	}
	return totals, nil
}

// checkSaleInput rejects malformed input before a unit of work is opened.
func (c *Coordinator) checkSaleInput(tenantID TenantID, in SaleInput) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(in.Lines) == 0 {
		return invalid("lines", "at least one line is required")
	}
	if strings.TrimSpace(in.CustomerID) == "" && strings.TrimSpace(in.CustomerName) == "" {
		return invalid("customer", "a customer id or a customer name is required")
	}
	for i, l := range in.Lines {
		if l.ProductID == "" {
			return invalid(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if l.Quantity < 1 || l.Quantity > MaxLineQuantity {
			return invalid(fmt.Sprintf("lines[%d].quantity", i), "must be between 1 and %d, got %d", MaxLineQuantity, l.Quantity)
		}
		if l.UnitPrice.IsNegative() {
			return invalid(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
	}
	if in.Discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}
	if !in.PaymentMethod.Valid() {
		return invalid("payment_method", "unknown payment method %q", in.PaymentMethod)
	}
	if !in.PaymentStatus.Valid() {
		return invalid("payment_status", "unknown payment status %q", in.PaymentStatus)
	}
	return nil
}

// planSale performs the lookups and stock checks for every line. It reads
// only; the first failing line aborts before anything is written.
func (c *Coordinator) planSale(ctx context.Context, tx Tx, tenantID TenantID, in SaleInput) (salePlan, error) {
	phone, err := normalizePhone(in.CustomerPhone, c.phoneRegion)
	if err != nil {
		return salePlan{}, err
	}

	if in.CustomerID != "" {
		ok, err := tx.CustomerExists(ctx, tenantID, in.CustomerID)
		if err != nil {
			return salePlan{}, err
		}
		if !ok {
			return salePlan{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, in.CustomerID)
		}
	}

	lines := make([]SaleLine, 0, len(in.Lines))
	products := make(map[ProductID]Product, len(in.Lines))
	requested := make(map[ProductID]int64, len(in.Lines))

	for i, l := range in.Lines {
		p, ok := products[l.ProductID]
		if !ok {
			p, err = activeProduct(ctx, tx, tenantID, l.ProductID)
			if err != nil {
				return salePlan{}, err
			}
			products[l.ProductID] = p
		}

		requested[l.ProductID] += l.Quantity
		if requested[l.ProductID] > p.CurrentStock {
			return salePlan{}, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.CurrentStock,
				Requested:   requested[l.ProductID],
			}
		}

		price := l.UnitPrice
		if price.IsZero() {
			price = p.SellingPrice
		}
		lines = append(lines, SaleLine{
			LineNo:      i + 1,
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   price,
		})
	}

	lines, totals := ComputeSaleTotals(lines, in.Discount, c.taxRate(ctx, tx, tenantID))
	if totals.Discount.GreaterThan(totals.Subtotal) {
		return salePlan{}, invalid("discount", "%s exceeds subtotal %s",
			totals.Discount.StringFixed(MoneyPlaces), totals.Subtotal.StringFixed(MoneyPlaces))
	}

	return salePlan{lines: lines, totals: totals, phone: phone}, nil
}

// taxRate reads the tenant's rate. A missing or unreadable settings row
// means no tax; the sale proceeds and the Sequencer issues a fallback number.
func (c *Coordinator) taxRate(ctx context.Context, tx Tx, tenantID TenantID) decimal.Decimal {
	s, err := tx.GetTenantSettings(ctx, tenantID)
	if err != nil {
		c.log.Warn("tenant settings unavailable, applying zero tax",
			zap.String("tenant_id", string(tenantID)), zap.Error(err))
		return decimal.Zero
	}
	return s.TaxRate
}

// activeProduct returns the product or ErrProductNotFound if it is absent or inactive.
func activeProduct(ctx context.Context, tx Tx, tenantID TenantID, id ProductID) (Product, error) {
	p, err := tx.GetProduct(ctx, tenantID, id)
	if errors.Is(err, ErrProductNotFound) {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if err != nil {
		return Product{}, err
	}
	if !p.Active {
		return Product{}, fmt.Errorf("%w: %s is inactive", ErrProductNotFound, id)
	}
	return p, nil
}
