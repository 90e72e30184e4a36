// Package tenantlock provides ledger.Locker implementations that serialize
// units of work per tenant: Local within one process, Redis across several.
package tenantlock

import (
	"context"
	"sync"

	"github.com/warp/retail-ledger/ledger"
)

// Local is an in-process keyed mutex. Entries are dropped when the last
// holder or waiter leaves, so idle tenants cost nothing.
type Local struct {
	mu    sync.Mutex
	locks map[ledger.TenantID]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[ledger.TenantID]*entry)}
}

// Lock blocks until the tenant is free or ctx is done.
func (l *Local) Lock(ctx context.Context, tenantID ledger.TenantID) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[tenantID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[tenantID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(tenantID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(tenantID, e)
		})
	}, nil
}

func (l *Local) release(tenantID ledger.TenantID, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, tenantID)
	}
}
