/*
sequence.go - Sequence Generator: per-tenant invoice numbers

PURPOSE:
  Produces prefix + zero-padded(next, 6) for each committed sale, e.g.
  {prefix: "INV", next: 1001} -> INV001001, then stores next = 1002.

GUARANTEES:
  - The advance is written through the caller's Tx, so it commits or
    rolls back together with the sale. No orphaned increments.
  - Units of work are serialized per tenant, so numbers are distinct and
    issued in commit order. The write is also a compare-and-swap.

FALLBACK:
  If the settings row is missing or cannot be read/advanced, the sale is
  not blocked. Next returns a Fallback number TMP-<ULID>: unique,
  time-ordered, but outside the gap-free sequence. Callers detect it with
  InvoiceNumber.IsFallback(). A cancelled context never falls back.

SEE ALSO:
  - types.go: InvoiceNumber
  - tenant.go: administrative SetNext
*/
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Sequencer struct {
	log   *zap.Logger
	clock Clock
	rec   Recorder

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewSequencer(log *zap.Logger, clock Clock, rec Recorder) *Sequencer {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Sequencer{
		log:     log.Named("ledger.sequence"),
		clock:   clock,
		rec:     rec,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Next returns the tenant's next invoice number and advances the sequence in tx.
func (s *Sequencer) Next(ctx context.Context, tx Tx, tenantID TenantID) (InvoiceNumber, error) {
	n, err := s.next(ctx, tx, tenantID)
	if err == nil {
		return n, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return InvoiceNumber{}, ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return InvoiceNumber{}, err
	}

	token, tokenErr := s.fallbackToken()
	if tokenErr != nil {
		return InvoiceNumber{}, fmt.Errorf("fallback invoice token: %w", tokenErr)
	}
	s.log.Warn("invoice sequence unavailable, issuing fallback number",
		zap.String("tenant_id", string(tenantID)),
		zap.String("token", token),
		zap.Error(err),
	)
	s.rec.InvoiceFallback()
	return FallbackInvoice(token), nil
}

func (s *Sequencer) next(ctx context.Context, tx Tx, tenantID TenantID) (InvoiceNumber, error) {
	settings, err := tx.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return InvoiceNumber{}, fmt.Errorf("%w: read settings: %w", ErrSequenceUnavailable, err)
	}

	n := settings.NextInvoiceNumber
	if n < 1 {
		return InvoiceNumber{}, fmt.Errorf("%w: next invoice number is %d", ErrSequenceUnavailable, n)
	}

	if err := tx.AdvanceInvoiceNumber(ctx, tenantID, n); err != nil {
		return InvoiceNumber{}, fmt.Errorf("%w: advance from %d: %w", ErrSequenceUnavailable, n, err)
	}

	return SequentialInvoice(settings.InvoicePrefix, n), nil
}

// fallbackToken returns a monotonic ULID. MonotonicEntropy is not safe
// for concurrent use.
func (s *Sequencer) fallbackToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(s.clock.Now()), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
