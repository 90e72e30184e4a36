package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// TenantConfig is the read/write holder for a tenant's invoice prefix,
// next invoice number and tax rate. Rate and prefix changes go through Put,
// which is an administrative action outside any sale or purchase.
type TenantConfig struct {
	store   TxStore
	catalog Catalog
	clock   Clock
	log     *zap.Logger
}

// NewTenantConfig builds a TenantConfig. catalog may be nil if Put is never used.
func NewTenantConfig(store TxStore, catalog Catalog, clock Clock, log *zap.Logger) *TenantConfig {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TenantConfig{store: store, catalog: catalog, clock: clock, log: log.Named("ledger.tenant")}
}

// Get returns the tenant's settings or ErrTenantNotFound.
func (c *TenantConfig) Get(ctx context.Context, tenantID TenantID) (TenantSettings, error) {
	if tenantID == "" {
		return TenantSettings{}, invalid("tenant_id", "is required")
	}
	return c.store.GetTenantSettings(ctx, tenantID)
}

// SetNext moves the tenant's next invoice number.
//
// A value at or below the highest sequence already used by a committed
// sale is rejected, since it would re-issue that number.
func (c *TenantConfig) SetNext(ctx context.Context, tenantID TenantID, next int64) error {
	if tenantID == "" {
		return invalid("tenant_id", "is required")
	}
	if next < 1 {
		return invalid("next_invoice_number", "must be at least 1, got %d", next)
	}

	return c.store.WithTx(ctx, tenantID, func(tx Tx) error {
		if _, err := tx.GetTenantSettings(ctx, tenantID); err != nil {
			return err
		}
		issued, err := tx.MaxInvoiceSequence(ctx, tenantID)
		if err != nil {
			return err
		}
		if next <= issued {
			return invalid("next_invoice_number", "must be greater than %d, the last issued number", issued)
		}
		if err := tx.SetNextInvoiceNumber(ctx, tenantID, next); err != nil {
			return err
		}
		c.log.Info("next invoice number set",
			zap.String("tenant_id", string(tenantID)),
			zap.Int64("next", next),
		)
		return nil
	})
}

// Put creates or replaces the tenant's settings row.
func (c *TenantConfig) Put(ctx context.Context, s TenantSettings) error {
	if s.TenantID == "" {
		return invalid("tenant_id", "is required")
	}
	if s.NextInvoiceNumber == 0 {
		s.NextInvoiceNumber = 1
	}
	if s.NextInvoiceNumber < 1 {
		return invalid("next_invoice_number", "must be at least 1, got %d", s.NextInvoiceNumber)
	}
	if s.TaxRate.IsNegative() {
		return invalid("tax_rate", "must not be negative")
	}
	if strings.ContainsAny(s.InvoicePrefix, " \t\n") {
		return invalid("invoice_prefix", "must not contain whitespace")
	}
	if c.catalog == nil {
		return invalid("tenant_id", "settings are read-only in this configuration")
	}
	s.UpdatedAt = c.clock.Now()
	return c.catalog.SaveTenantSettings(ctx, s)
}
