package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreatePurchase increments stock for every line and overwrites each
// product's cost price with the line's cost (latest-cost policy). No
// invoice number is consumed.
//
// When one product appears on several lines, the last line's cost wins.
func (c *Coordinator) CreatePurchase(ctx context.Context, tenantID TenantID, in PurchaseInput) (*PurchaseRecord, error) {
	var (
		out      PurchaseRecord
		replayed bool
	)

	err := checkPurchaseInput(tenantID, in)
	if err == nil {
		err = c.run(ctx, "create_purchase", tenantID, func(ctx context.Context, tx Tx) error {
			if in.IdempotencyKey != "" {
				existing, err := tx.FindPurchaseByIdempotencyKey(ctx, tenantID, in.IdempotencyKey)
				if err == nil {
					out, replayed = existing, true
					return nil
				}
				if !errors.Is(err, ErrPurchaseNotFound) {
					return err
				}
			}

			lines, total, err := planPurchase(ctx, tx, tenantID, in)
			if err != nil {
				return err
			}

			for _, l := range lines {
				cost := l.CostPrice
				if _, err := c.stock.Apply(ctx, tx, tenantID, l.ProductID, l.Quantity, &cost); err != nil {
					return err
				}
			}

			now := c.clock.Now()
			date := in.PurchaseDate
			if date.IsZero() {
				date = now
			}
			rec := PurchaseRecord{
				ID:             PurchaseID(c.newID()),
				TenantID:       tenantID,
				SupplierID:     in.SupplierID,
				PurchaseDate:   date,
				Lines:          lines,
				Total:          total,
				Notes:          in.Notes,
				IdempotencyKey: in.IdempotencyKey,
				CreatedAt:      now,
			}
			if err := tx.InsertPurchase(ctx, rec); err != nil {
				return fmt.Errorf("insert purchase: %w", err)
			}
			out = rec
			return nil
		})
	}

	c.rec.PurchaseFinished(outcomeOf(err, replayed))
	if err != nil {
		c.log.Debug("purchase rejected", zap.String("tenant_id", string(tenantID)), zap.Error(err))
		return nil, err
	}

	c.log.Info("purchase committed",
		zap.String("tenant_id", string(tenantID)),
		zap.String("purchase_id", string(out.ID)),
		zap.String("supplier_id", string(out.SupplierID)),
		zap.Bool("replayed", replayed),
		zap.Int("lines", len(out.Lines)),
		zap.String("total", out.Total.StringFixed(MoneyPlaces)),
	)
	return &out, nil
}

// ValidatePurchase runs every CreatePurchase check and returns the total
// the purchase would have. Nothing is mutated.
func (c *Coordinator) ValidatePurchase(ctx context.Context, tenantID TenantID, in PurchaseInput) (decimal.Decimal, error) {
	if err := checkPurchaseInput(tenantID, in); err != nil {
		return decimal.Zero, err
	}

	var total decimal.Decimal
	err := c.run(ctx, "validate_purchase", tenantID, func(ctx context.Context, tx Tx) error {
		_, t, err := planPurchase(ctx, tx, tenantID, in)
		if err != nil {
			return err
		}
		total = t
		return errRollback
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func checkPurchaseInput(tenantID TenantID, in PurchaseInput) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if in.SupplierID == "" {
		return invalid("supplier_id", "is required")
	}
	if len(in.Lines) == 0 {
		return invalid("lines", "at least one line is required")
	}
	for i, l := range in.Lines {
		if l.ProductID == "" {
			return invalid(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if l.Quantity <= 0 || l.Quantity > MaxLineQuantity {
			return invalid(fmt.Sprintf("lines[%d].quantity", i), "must be between 1 and %d, got %d", MaxLineQuantity, l.Quantity)
		}
		if !l.CostPrice.IsPositive() {
			return invalid(fmt.Sprintf("lines[%d].cost_price", i), "must be positive, got %s", l.CostPrice)
		}
	}
	return nil
}

func planPurchase(ctx context.Context, tx Tx, tenantID TenantID, in PurchaseInput) ([]PurchaseLine, decimal.Decimal, error) {
	s, err := tx.GetSupplier(ctx, tenantID, in.SupplierID)
	if errors.Is(err, ErrSupplierNotFound) {
		return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrSupplierNotFound, in.SupplierID)
	}
	if err != nil {
		return nil, decimal.Zero, err
	}
	if !s.Active {
		return nil, decimal.Zero, fmt.Errorf("%w: %s is inactive", ErrSupplierNotFound, in.SupplierID)
	}

	lines := make([]PurchaseLine, 0, len(in.Lines))
	names := make(map[ProductID]string, len(in.Lines))
	for i, l := range in.Lines {
		name, ok := names[l.ProductID]
		if !ok {
			p, err := activeProduct(ctx, tx, tenantID, l.ProductID)
			if err != nil {
				return nil, decimal.Zero, err
			}
			name = p.Name
			names[l.ProductID] = name
		}
		lines = append(lines, PurchaseLine{
			LineNo:      i + 1,
			ProductID:   l.ProductID,
			ProductName: name,
			Quantity:    l.Quantity,
			CostPrice:   l.CostPrice,
		})
	}

	lines, total := ComputePurchaseTotal(lines)
	return lines, total, nil
}
