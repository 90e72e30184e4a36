package ledger

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// VOID - Compensating entries, the original record is never edited
// =============================================================================

// VoidSale reverses a committed sale: every line's quantity goes back to
// stock and a Reversal is appended. The invoice number stays consumed.
func (c *Coordinator) VoidSale(ctx context.Context, tenantID TenantID, id SaleID, reason string) (*SaleRecord, error) {
	var out SaleRecord

	err := checkVoid(tenantID, string(id), reason)
	if err == nil {
		err = c.run(ctx, "void_sale", tenantID, func(ctx context.Context, tx Tx) error {
			sale, err := tx.GetSale(ctx, tenantID, id)
			if err != nil {
				return err
			}
			if sale.Voided() {
				return ErrAlreadyVoided
			}

			for _, l := range sale.Lines {
				if _, err := c.stock.Apply(ctx, tx, tenantID, l.ProductID, l.Quantity, nil); err != nil {
					return err
				}
			}

			r := Reversal{Reason: strings.TrimSpace(reason), ReversedAt: c.clock.Now()}
			if err := tx.InsertSaleReversal(ctx, tenantID, id, r); err != nil {
				return err
			}
			sale.Reversal = &r
			out = sale
			return nil
		})
	}

	c.rec.VoidFinished("sale", outcomeOf(err, false))
	if err != nil {
		return nil, err
	}
	c.log.Info("sale voided",
		zap.String("tenant_id", string(tenantID)),
		zap.String("sale_id", string(id)),
		zap.Stringer("invoice_number", out.InvoiceNumber),
	)
	return &out, nil
}

// VoidPurchase reverses a committed purchase by removing its quantities
// from stock. It fails with InsufficientStock if the goods were already
// sold. Cost prices are not restored.
func (c *Coordinator) VoidPurchase(ctx context.Context, tenantID TenantID, id PurchaseID, reason string) (*PurchaseRecord, error) {
	var out PurchaseRecord

	err := checkVoid(tenantID, string(id), reason)
	if err == nil {
		err = c.run(ctx, "void_purchase", tenantID, func(ctx context.Context, tx Tx) error {
			purchase, err := tx.GetPurchase(ctx, tenantID, id)
			if err != nil {
				return err
			}
			if purchase.Voided() {
				return ErrAlreadyVoided
			}

			for _, l := range purchase.Lines {
				if _, err := c.stock.Apply(ctx, tx, tenantID, l.ProductID, -l.Quantity, nil); err != nil {
					return err
				}
			}

			r := Reversal{Reason: strings.TrimSpace(reason), ReversedAt: c.clock.Now()}
			if err := tx.InsertPurchaseReversal(ctx, tenantID, id, r); err != nil {
				return err
			}
			purchase.Reversal = &r
			out = purchase
			return nil
		})
	}

	c.rec.VoidFinished("purchase", outcomeOf(err, false))
	if errors.Is(err, ErrInsufficientStock) {
		c.rec.StockRejected()
	}
	if err != nil {
		return nil, err
	}
	c.log.Info("purchase voided",
		zap.String("tenant_id", string(tenantID)),
		zap.String("purchase_id", string(id)),
	)
	return &out, nil
}

func checkVoid(tenantID TenantID, id, reason string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if id == "" {
		return invalid("id", "is required")
	}
	if strings.TrimSpace(reason) == "" {
		return invalid("reason", "a reason is required to void a record")
	}
	return nil
}
