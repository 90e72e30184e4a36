/*
coordinator.go - Transaction Coordinator: one sale or purchase per unit of work

PURPOSE:
  Orchestrates a sale or purchase for one tenant. Validation, stock
  deltas, invoice numbering and the record insert all run inside a single
  TxStore.WithTx call, so the caller sees either the whole effect or none.

STATE MACHINES:
  Sale:     Received -> Validating -> {Rejected | StockApplying -> SequenceAssigning -> Persisted}
  Purchase: Received -> Validating -> {Rejected | StockApplying -> Persisted}

ERRORS:
  Domain errors (validation, not found, insufficient stock, already voided)
  pass through unchanged. Any other store failure inside the unit is
  wrapped in *PersistenceError; the unit was rolled back and the whole
  call may be retried. Supplying an IdempotencyKey makes that retry safe.

OBSERVABILITY:
  Each unit of work gets an otel span and a Recorder observation. The
  Recorder is implemented by metrics.Ledger; NopRecorder is the default.

SEE ALSO:
  - sale.go, purchase.go, void.go: the operations
  - store.go: the unit of work contract
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/warp/retail-ledger/ledger"

// errRollback aborts a unit of work that must never commit (dry runs).
var errRollback = errors.New("rollback requested")

// =============================================================================
// COLLABORATORS
// =============================================================================

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Recorder receives one observation per finished operation.
type Recorder interface {
	SaleFinished(outcome Outcome)
	PurchaseFinished(outcome Outcome)
	VoidFinished(kind string, outcome Outcome)
	InvoiceFallback()
	StockRejected()
	UnitOfWork(op string, d time.Duration)
}

type NopRecorder struct{}

func (NopRecorder) SaleFinished(Outcome)             {}
func (NopRecorder) PurchaseFinished(Outcome)         {}
func (NopRecorder) VoidFinished(string, Outcome)     {}
func (NopRecorder) InvoiceFallback()                 {}
func (NopRecorder) StockRejected()                   {}
func (NopRecorder) UnitOfWork(string, time.Duration) {}

// Outcome labels a finished operation for metrics.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeReplayed  Outcome = "replayed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

func outcomeOf(err error, replayed bool) Outcome {
	switch {
	case err == nil && replayed:
		return OutcomeReplayed
	case err == nil:
		return OutcomeCommitted
	case IsClientError(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// =============================================================================
// COORDINATOR
// =============================================================================

type Coordinator struct {
	store TxStore
	stock *StockLedger
	seq   *Sequencer

	log         *zap.Logger
	locker      Locker
	rec         Recorder
	clock       Clock
	newID       func() string
	phoneRegion string
	tracer      trace.Tracer
}

type Option func(*Coordinator)

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithLocker adds a tenant guard held around every unit of work.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.rec = r
		}
	}
}

func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDGenerator replaces uuid.NewString for sale and purchase ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithPhoneRegion sets the region for walk-in phones without a country code.
func WithPhoneRegion(region string) Option {
	return func(c *Coordinator) {
		if region != "" {
			c.phoneRegion = region
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

func NewCoordinator(store TxStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		log:         zap.NewNop(),
		rec:         NopRecorder{},
		clock:       SystemClock{},
		newID:       uuid.NewString,
		phoneRegion: DefaultPhoneRegion,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stock = NewStockLedger(c.log)
	c.seq = NewSequencer(c.log, c.clock, c.rec)
	c.log = c.log.Named("ledger.coordinator")
	return c
}

// run executes fn as one tenant-scoped unit of work.
func (c *Coordinator) run(ctx context.Context, op string, tenantID TenantID, fn func(context.Context, Tx) error) (err error) {
	ctx, span := c.tracer.Start(ctx, "ledger."+op,
		trace.WithAttributes(attribute.String("tenant_id", string(tenantID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { c.rec.UnitOfWork(op, time.Since(start)) }()

	if c.locker != nil {
		unlock, lockErr := c.locker.Lock(ctx, tenantID)
		if lockErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &PersistenceError{Op: op + ": tenant lock", Err: lockErr}
		}
		defer unlock()
	}

	err = c.store.WithTx(ctx, tenantID, func(tx Tx) error {
		return fn(ctx, tx)
	})
	if errors.Is(err, errRollback) {
		return nil
	}
	return classify(op, err)
}

// classify keeps domain errors and wraps everything else as a persistence failure.
func classify(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func requireTenant(tenantID TenantID) error {
	if tenantID == "" {
		return invalid("tenant_id", "is required")
	}
	return nil
}

// =============================================================================
// READ SIDE - No unit of work, never mutates
// =============================================================================

func (c *Coordinator) GetProduct(ctx context.Context, tenantID TenantID, id ProductID) (Product, error) {
	if err := requireTenant(tenantID); err != nil {
		return Product{}, err
	}
	return c.store.GetProduct(ctx, tenantID, id)
}

// LowStock lists active products at or below their alert threshold.
func (c *Coordinator) LowStock(ctx context.Context, tenantID TenantID) ([]Product, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return c.store.ListLowStock(ctx, tenantID)
}

func (c *Coordinator) GetSale(ctx context.Context, tenantID TenantID, id SaleID) (SaleRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return SaleRecord{}, err
	}
	return c.store.GetSale(ctx, tenantID, id)
}

// ListSales returns the tenant's sales in commit order.
func (c *Coordinator) ListSales(ctx context.Context, tenantID TenantID) ([]SaleRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return c.store.ListSales(ctx, tenantID)
}

func (c *Coordinator) GetPurchase(ctx context.Context, tenantID TenantID, id PurchaseID) (PurchaseRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return PurchaseRecord{}, err
	}
	return c.store.GetPurchase(ctx, tenantID, id)
}
