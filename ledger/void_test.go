package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
)

// =============================================================================
// REVERSAL TESTS
// =============================================================================

func TestVoidSale_RestoresStockAndKeepsHistory(t *testing.T) {
	// GIVEN: A committed sale of 3×A and 2×B
	// WHEN: The sale is voided
	// THEN: Stock returns, the sale is still listed with a reversal,
	//       and its invoice number is not reissued

	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.settings("INV", 1, "0")
		f.product("A", 5, "1.00")
		f.product("B", 5, "1.00")

		sale, err := f.coord.CreateSale(f.ctx, tenant, saleOf(line("A", 3), line("B", 2)))
		require.NoError(t, err)

		voided, err := f.coord.VoidSale(f.ctx, tenant, sale.ID, "customer returned goods")
		require.NoError(t, err)
		require.NotNil(t, voided.Reversal)
		assert.Equal(t, "customer returned goods", voided.Reversal.Reason)

		assert.Equal(t, int64(5), f.stockOf("A"))
		assert.Equal(t, int64(5), f.stockOf("B"))

		stored, err := f.coord.GetSale(f.ctx, tenant, sale.ID)
		require.NoError(t, err)
		assert.True(t, stored.Voided())
		assert.Len(t, f.sales(), 1)

		next, err := f.coord.CreateSale(f.ctx, tenant, saleOf(line("A", 1)))
		require.NoError(t, err)
		assert.Equal(t, int64(2), next.InvoiceNumber.Sequence)
	})
}

func TestVoidSale_Twice_AlreadyVoided(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.settings("INV", 1, "0")
		f.product("A", 5, "1.00")

		sale, err := f.coord.CreateSale(f.ctx, tenant, saleOf(line("A", 2)))
		require.NoError(t, err)
		_, err = f.coord.VoidSale(f.ctx, tenant, sale.ID, "mistake")
		require.NoError(t, err)

		_, err = f.coord.VoidSale(f.ctx, tenant, sale.ID, "mistake again")
		assert.ErrorIs(t, err, ledger.ErrAlreadyVoided)
		assert.Equal(t, int64(5), f.stockOf("A"), "stock restored once")
	})
}

func TestVoidSale_Rejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.coord.VoidSale(f.ctx, tenant, "missing", "reason")
		assert.ErrorIs(t, err, ledger.ErrSaleNotFound)

		_, err = f.coord.VoidSale(f.ctx, tenant, "missing", "  ")
		var valErr *ledger.ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Equal(t, "reason", valErr.Field)
	})
}

func TestVoidPurchase_RemovesStock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.supplier("S")
		f.product("P", 2, "1.00")

		purchase, err := f.coord.CreatePurchase(f.ctx, tenant, purchaseOf("S", restock("P", 10, "0.50")))
		require.NoError(t, err)
		assert.Equal(t, int64(12), f.stockOf("P"))

		voided, err := f.coord.VoidPurchase(f.ctx, tenant, purchase.ID, "wrong delivery")
		require.NoError(t, err)
		assert.True(t, voided.Voided())
		assert.Equal(t, int64(2), f.stockOf("P"))

		_, err = f.coord.VoidPurchase(f.ctx, tenant, purchase.ID, "again")
		assert.ErrorIs(t, err, ledger.ErrAlreadyVoided)
	})
}

func TestVoidPurchase_GoodsAlreadySold_InsufficientStock(t *testing.T) {
	// GIVEN: 10 units purchased, then 8 sold
	// WHEN: Voiding the purchase would take stock to -8
	// THEN: InsufficientStock, purchase stays live, stock unchanged

	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.settings("INV", 1, "0")
		f.supplier("S")
		f.product("P", 0, "1.00")

		purchase, err := f.coord.CreatePurchase(f.ctx, tenant, purchaseOf("S", restock("P", 10, "0.50")))
		require.NoError(t, err)
		_, err = f.coord.CreateSale(f.ctx, tenant, saleOf(line("P", 8)))
		require.NoError(t, err)

		_, err = f.coord.VoidPurchase(f.ctx, tenant, purchase.ID, "return to supplier")

		var stockErr *ledger.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, int64(2), stockErr.Available)
		assert.Equal(t, int64(10), stockErr.Requested)
		assert.Equal(t, int64(2), f.stockOf("P"))

		stored, err := f.coord.GetPurchase(f.ctx, tenant, purchase.ID)
		require.NoError(t, err)
		assert.False(t, stored.Voided())
	})
}
