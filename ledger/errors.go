/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; the HTTP adapter maps the
  categories onto status codes.

ERROR CATEGORIES:
  1. Validation - bad input, rejected before any mutation
  2. NotFound - product/customer/supplier/record absent for the tenant
  3. InsufficientStock - request exceeds CurrentStock
  4. SequenceUnavailable - triggers fallback numbering, never surfaced
  5. Persistence - storage failed mid-commit, whole unit rolled back

USAGE:
  var stockErr *ledger.InsufficientStockError
  if errors.As(err, &stockErr) {
      fmt.Printf("only %d left of %s\n", stockErr.Available, stockErr.ProductName)
  }

SEE ALSO:
  - coordinator.go: wraps store failures in PersistenceError
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. Nothing was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the parent of every "does not exist for this tenant" error.
	ErrNotFound = errors.New("not found")

	ErrProductNotFound  = fmt.Errorf("product %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	ErrSupplierNotFound = fmt.Errorf("supplier %w", ErrNotFound)
	ErrSaleNotFound     = fmt.Errorf("sale %w", ErrNotFound)
	ErrPurchaseNotFound = fmt.Errorf("purchase %w", ErrNotFound)
	ErrTenantNotFound   = fmt.Errorf("tenant settings %w", ErrNotFound)

	// ErrInsufficientStock is returned when a decrement would take stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrSequenceUnavailable means the tenant sequence could not be read or
	// advanced. The Sequencer recovers from it with a fallback number.
	ErrSequenceUnavailable = errors.New("invoice sequence unavailable")

	// ErrPersistence is returned when storage fails inside a unit of work.
	// The unit was rolled back; retry the whole operation.
	ErrPersistence = errors.New("persistence failure")

	// ErrAlreadyVoided is returned when reversing a record twice.
	ErrAlreadyVoided = errors.New("already voided")

	// ErrConcurrentModification is returned by a store when a compare-and-swap lost.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned by a store when a record with
	// the same tenant + key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError identifies the product and what is left.
type InsufficientStockError struct {
	ProductID   ProductID
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): available %d, requested %d",
		e.ProductName, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PersistenceError wraps a storage failure that aborted a unit of work.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the caller must change the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyVoided) ||
		errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isDomainError reports errors that pass through a unit of work untouched.
func isDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyVoided) ||
		errors.Is(err, ErrPersistence)
}
