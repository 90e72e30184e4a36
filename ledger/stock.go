/*
stock.go - Stock Ledger: per-product current quantity

PURPOSE:
  Owns every mutation of Product.CurrentStock. Sales apply negative
  deltas, purchases and sale reversals apply positive ones.

CRITICAL INVARIANT:
  CurrentStock never goes negative. A decrement is checked and applied as
  one conditional store write, so two concurrent sales cannot both pass
  and jointly oversell.

LATEST-COST POLICY:
  A positive delta that carries a cost overwrites Product.CostPrice. No
  weighted average is kept; profit reports depend on this, so changing
  the costing method is a product decision, not a fix.

EXAMPLE:
  stock := ledger.NewStockLedger(nil)
  newQty, err := stock.Apply(ctx, tx, "t-1", "p-1", -3, nil)
  if errors.Is(err, ledger.ErrInsufficientStock) { ... }

SEE ALSO:
  - store.go: AdjustStock contract
  - sale.go / purchase.go / void.go: callers
*/
package ledger

import (
	"context"
	"errors"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxLineQuantity caps the quantity on a single sale or purchase line.
const MaxLineQuantity int64 = 1_000_000_000

type StockLedger struct {
	log *zap.Logger
}

func NewStockLedger(log *zap.Logger) *StockLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &StockLedger{log: log.Named("ledger.stock")}
}

// Apply adds delta to the product's CurrentStock and returns the new value.
//
//   - delta < 0: fails with *InsufficientStockError if stock would go below zero
//   - delta > 0: succeeds unless CurrentStock would overflow int64
//     (*ValidationError); a non-nil cost overwrites CostPrice
//   - delta == 0: *ValidationError
func (s *StockLedger) Apply(ctx context.Context, tx Tx, tenantID TenantID, productID ProductID, delta int64, cost *decimal.Decimal) (int64, error) {
	if delta == 0 {
		return 0, invalid("quantity", "stock delta must not be zero")
	}
	if delta > 0 {
		p, err := tx.GetProduct(ctx, tenantID, productID)
		if err != nil {
			return 0, err
		}
		if p.CurrentStock > math.MaxInt64-delta {
			return 0, invalid("quantity", "adding %d to %s would exceed the maximum stock level", delta, productID)
		}
	}

	newQty, err := tx.AdjustStock(ctx, tenantID, productID, delta)
	if errors.Is(err, ErrInsufficientStock) {
		return 0, s.shortage(ctx, tx, tenantID, productID, -delta)
	}
	if err != nil {
		return 0, err
	}

	if delta > 0 && cost != nil {
		if err := tx.SetCostPrice(ctx, tenantID, productID, *cost); err != nil {
			return 0, err
		}
	}

	s.log.Debug("stock applied",
		zap.String("tenant_id", string(tenantID)),
		zap.String("product_id", string(productID)),
		zap.Int64("delta", delta),
		zap.Int64("current_stock", newQty),
	)
	return newQty, nil
}

// shortage builds the structured error from the row the store refused to change.
func (s *StockLedger) shortage(ctx context.Context, tx Tx, tenantID TenantID, productID ProductID, requested int64) error {
	p, err := tx.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return err
	}
	return &InsufficientStockError{
		ProductID:   productID,
		ProductName: p.Name,
		Available:   p.CurrentStock,
		Requested:   requested,
	}
}
