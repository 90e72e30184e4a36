package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/ledger/store"
)

const tenant ledger.TenantID = "t-1"

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveTenantSettings(ctx, ledger.TenantSettings{TenantID: tenant, InvoicePrefix: "M", NextInvoiceNumber: 5}))
	require.NoError(t, m.SaveProduct(ctx, ledger.Product{
		ID: "P", TenantID: tenant, Name: "P", CurrentStock: 3, LowStockThreshold: 3, Active: true,
		CostPrice: decimal.NewFromInt(1), SellingPrice: decimal.NewFromInt(2),
	}))
	return m
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit of work that decrements stock and advances the sequence
	// WHEN: fn returns an error
	// THEN: Neither write is visible

	m := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		_, err := tx.AdjustStock(ctx, tenant, "P", -2)
		require.NoError(t, err)
		require.NoError(t, tx.AdvanceInvoiceNumber(ctx, tenant, 5))
		require.NoError(t, tx.InsertSale(ctx, ledger.SaleRecord{ID: "s-1", TenantID: tenant, IdempotencyKey: "k"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := m.GetProduct(ctx, tenant, "P")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.CurrentStock)

	s, err := m.GetTenantSettings(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.NextInvoiceNumber)

	_, err = m.GetSale(ctx, tenant, "s-1")
	assert.ErrorIs(t, err, ledger.ErrSaleNotFound)

	// The idempotency key was rolled back too.
	require.NoError(t, m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		_, err := tx.FindSaleByIdempotencyKey(ctx, tenant, "k")
		assert.ErrorIs(t, err, ledger.ErrSaleNotFound)
		return nil
	}))
}

func TestMemory_WithTx_CancelledContextDoesNotCommit(t *testing.T) {
	m := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		_, err := tx.AdjustStock(ctx, tenant, "P", -1)
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	p, err := m.GetProduct(context.Background(), tenant, "P")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.CurrentStock)
}

func TestMemory_AdjustStock_FloorAtZero(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		_, err := tx.AdjustStock(ctx, tenant, "P", -4)
		assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

		n, err := tx.AdjustStock(ctx, tenant, "P", -3)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		_, err = tx.AdjustStock(ctx, tenant, "missing", 1)
		assert.ErrorIs(t, err, ledger.ErrProductNotFound)
		return nil
	}))
}

func TestMemory_AdvanceInvoiceNumber_CompareAndSwap(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		assert.ErrorIs(t, tx.AdvanceInvoiceNumber(ctx, tenant, 4), ledger.ErrConcurrentModification)
		assert.NoError(t, tx.AdvanceInvoiceNumber(ctx, tenant, 5))
		assert.ErrorIs(t, tx.AdvanceInvoiceNumber(ctx, tenant, 5), ledger.ErrConcurrentModification)
		return nil
	}))

	err := m.WithTx(ctx, "unknown", func(tx ledger.Tx) error {
		return tx.AdvanceInvoiceNumber(ctx, "unknown", 1)
	})
	assert.ErrorIs(t, err, ledger.ErrTenantNotFound)
}

func TestMemory_TxIsScopedToItsTenant(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	err := m.WithTx(ctx, "other", func(tx ledger.Tx) error {
		_, err := tx.AdjustStock(ctx, tenant, "P", -1)
		return err
	})
	assert.Error(t, err)
}

func TestMemory_Reversal_OnlyOnce(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	r := ledger.Reversal{Reason: "x", ReversedAt: time.Now()}

	require.NoError(t, m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		return tx.InsertSale(ctx, ledger.SaleRecord{ID: "s-1", TenantID: tenant})
	}))
	require.NoError(t, m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		return tx.InsertSaleReversal(ctx, tenant, "s-1", r)
	}))
	err := m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		return tx.InsertSaleReversal(ctx, tenant, "s-1", r)
	})
	assert.ErrorIs(t, err, ledger.ErrAlreadyVoided)

	s, err := m.GetSale(ctx, tenant, "s-1")
	require.NoError(t, err)
	assert.True(t, s.Voided())
}

func TestMemory_MaxInvoiceSequence_IgnoresFallback(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, tenant, func(tx ledger.Tx) error {
		require.NoError(t, tx.InsertSale(ctx, ledger.SaleRecord{ID: "a", TenantID: tenant, InvoiceNumber: ledger.SequentialInvoice("M", 7)}))
		require.NoError(t, tx.InsertSale(ctx, ledger.SaleRecord{ID: "b", TenantID: tenant, InvoiceNumber: ledger.FallbackInvoice("01J")}))
		n, err := tx.MaxInvoiceSequence(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		return nil
	}))
}

func TestMemory_ListLowStock(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	require.NoError(t, m.SaveProduct(ctx, ledger.Product{ID: "Q", TenantID: tenant, CurrentStock: 10, LowStockThreshold: 2, Active: true}))
	require.NoError(t, m.SaveProduct(ctx, ledger.Product{ID: "R", TenantID: tenant, CurrentStock: 0, LowStockThreshold: 2, Active: false}))

	low, err := m.ListLowStock(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, ledger.ProductID("P"), low[0].ID)
}

func TestMemory_Reset(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.Reset(ctx))

	_, err := m.GetProduct(ctx, tenant, "P")
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)
	_, err = m.GetTenantSettings(ctx, tenant)
	assert.ErrorIs(t, err, ledger.ErrTenantNotFound)
}

func TestMemory_SaveProduct_RejectsNegativeStock(t *testing.T) {
	m := store.NewMemory()
	err := m.SaveProduct(context.Background(), ledger.Product{ID: "P", TenantID: tenant, CurrentStock: -1})
	assert.Error(t, err)
}
