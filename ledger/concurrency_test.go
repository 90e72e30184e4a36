package ledger_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/retail-ledger/ledger"
	"github.com/warp/retail-ledger/tenantlock"
)

// =============================================================================
// CONCURRENCY INVARIANT TESTS
// =============================================================================

func TestConcurrentSales_DifferentProducts_DistinctInvoices(t *testing.T) {
	// GIVEN: Tenant sequence at 1001, products A and B with stock
	// WHEN: Two sales for different products run concurrently
	// THEN: Both commit with INV001001 and INV001002 in some order

	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.settings("INV", 1001, "0")
		f.product("A", 5, "1.00")
		f.product("B", 5, "1.00")

		var wg sync.WaitGroup
		results := make([]*ledger.SaleRecord, 2)
		errs := make([]error, 2)
		for i, id := range []ledger.ProductID{"A", "B"} {
			wg.Add(1)
			go func(i int, id ledger.ProductID) {
				defer wg.Done()
				results[i], errs[i] = f.coord.CreateSale(f.ctx, tenant, saleOf(line(id, 1)))
			}(i, id)
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		got := []string{results[0].InvoiceNumber.String(), results[1].InvoiceNumber.String()}
		assert.ElementsMatch(t, []string{"INV001001", "INV001002"}, got)
		assert.Equal(t, int64(1003), f.nextInvoice())
	})
}

func TestConcurrentSales_NeverOversell(t *testing.T) {
	// GIVEN: Product P with 10 in stock
	// WHEN: 25 concurrent sales of 1 unit each
	// THEN: Exactly 10 commit, 15 get InsufficientStock, stock ends at 0,
	//       and committed invoice numbers are 1..10 with no duplicates

	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.settings("", 1, "0")
		f.product("P", 10, "1.00")

		const attempts = 25
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			committed int
			rejected  int
			other     []error
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.coord.CreateSale(f.ctx, tenant, saleOf(line("P", 1)))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					committed++
				case errors.Is(err, ledger.ErrInsufficientStock):
					rejected++
				default:
					other = append(other, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, other)
		assert.Equal(t, 10, committed)
		assert.Equal(t, attempts-10, rejected)
		assert.Equal(t, int64(0), f.stockOf("P"))
		assertSequentialInCommitOrder(t, f.sales(), 1)
	})
}

func TestConcurrentSales_TenantsAreIndependent(t *testing.T) {
	// GIVEN: Two tenants with their own sequences and the same product id
	// WHEN: Sales for both run concurrently
	// THEN: Each tenant's numbers start at its own next value

	forEachBackend(t, func(t *testing.T, f *fixture) {
		const other ledger.TenantID = "shop-2"
		f.settings("A-", 1, "0")
		f.product("P", 20, "1.00")
		require.NoError(t, f.tenants.Put(f.ctx, ledger.TenantSettings{TenantID: other, InvoicePrefix: "B-", NextInvoiceNumber: 500}))
		require.NoError(t, f.store.SaveProduct(f.ctx, ledger.Product{
			ID: "P", TenantID: other, Name: "P", CurrentStock: 20,
			CostPrice: dec("1"), SellingPrice: dec("1"), Active: true,
		}))

		var wg sync.WaitGroup
		errCh := make(chan error, 20)
		for i := 0; i < 10; i++ {
			for _, tid := range []ledger.TenantID{tenant, other} {
				wg.Add(1)
				go func(tid ledger.TenantID) {
					defer wg.Done()
					if _, err := f.coord.CreateSale(f.ctx, tid, saleOf(line("P", 1))); err != nil {
						errCh <- fmt.Errorf("%s: %w", tid, err)
					}
				}(tid)
			}
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			t.Error(err)
		}

		assertSequentialInCommitOrder(t, f.sales(), 1)
		otherSales, err := f.store.ListSales(f.ctx, other)
		require.NoError(t, err)
		assertSequentialInCommitOrder(t, otherSales, 500)
		for _, s := range otherSales {
			assert.Equal(t, "B-", s.InvoiceNumber.Prefix)
		}
	})
}

func TestConcurrentSales_WithLocalTenantLock(t *testing.T) {
	// GIVEN: The coordinator holds an in-process tenant lock around each unit
	// THEN: Concurrent sales still commit gap-free

	st := backends()["sqlite"](t)
	f := newFixture(t, st, ledger.WithLocker(tenantlock.NewLocal()))
	f.settings("INV", 1, "0")
	f.product("P", 50, "1.00")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.CreateSale(f.ctx, tenant, saleOf(line("P", 2)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), f.stockOf("P"))
	assertSequentialInCommitOrder(t, f.sales(), 1)
}

// assertSequentialInCommitOrder checks that non-fallback invoice numbers
// are start, start+1, ... in commit order.
func assertSequentialInCommitOrder(t *testing.T, sales []ledger.SaleRecord, start int64) {
	t.Helper()
	want := start
	seen := make(map[string]bool)
	for _, s := range sales {
		num := s.InvoiceNumber.String()
		assert.False(t, seen[num], "duplicate invoice number %s", num)
		seen[num] = true
		if s.InvoiceNumber.IsFallback() {
			continue
		}
		assert.Equal(t, want, s.InvoiceNumber.Sequence, "invoice %s out of order", num)
		want++
	}
}
