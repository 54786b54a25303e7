/*
errors.go - Centralized error types for the consigne engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Admission rejections are expected, typed outcomes - not exceptions.
  Every rejection carries enough structured data for the caller to
  render a precise message, never a bare "error".

ERROR CATEGORIES:
  1. Admission rejections - Business rule violations (client errors)
  2. Lifecycle errors - Edits to immutable records, version conflicts
  3. Recalculation errors - Store failures during aggregate scans
     (the only operational/retryable category)

USAGE:
  err := gate.CanCommit(ctx, op)
  var insufficient *consigne.InsufficientBalanceError
  if errors.As(err, &insufficient) {
      fmt.Printf("missing %s units\n", insufficient.Missing)
  }

SEE ALSO:
  - admission.go: Produces the rejection types
  - recalculator.go: Produces RecalculationError
*/
package consigne

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a consignation would exceed
	// the available deposit capacity.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidPalletCount is returned when a deconsignation declares
	// zero pallets brought back.
	ErrInvalidPalletCount = errors.New("no pallets brought back")

	// ErrExceedsReturned is returned when a deconsignation requests more
	// pallets than were brought back.
	ErrExceedsReturned = errors.New("requested pallets exceed pallets brought back")

	// ErrExceedsRequested is returned when a deconsignation releases more
	// pallets than were requested.
	ErrExceedsRequested = errors.New("deconsigned pallets exceed requested pallets")

	// ErrExceedsAvailable is returned when a deconsignation requests more
	// pallets than remain consigned for the client and site.
	ErrExceedsAvailable = errors.New("requested pallets exceed consigned pallets")

	// ErrNegativeQuantity is returned when any amount or pallet count is
	// negative.
	ErrNegativeQuantity = errors.New("negative quantity")

	// ErrOperationImmutable is returned on any attempt to edit, delete,
	// or re-validate a Validated operation.
	ErrOperationImmutable = errors.New("operation is validated and immutable")

	// ErrOperationNotFound is returned when a referenced operation does
	// not exist.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrConcurrentModification is returned when optimistic locking
	// detects a conflicting draft edit.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRecalculationFailed is returned when an aggregate scan cannot be
	// completed. The balance store keeps its last good value.
	ErrRecalculationFailed = errors.New("balance recalculation failed")

	// ErrUnknownKind is returned for an unrecognized operation kind.
	ErrUnknownKind = errors.New("unknown operation kind")
)

// =============================================================================
// STRUCTURED REJECTIONS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a consignation rejection.
type InsufficientBalanceError struct {
	Key      BalanceKey
	Current  decimal.Decimal // live balance at check time
	Required decimal.Decimal // pallets requested × PalletValue
	Missing  decimal.Decimal // Required − Current
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s: current %s, required %s, missing %s",
		e.Key.Client, e.Key.Site, e.Current, e.Required, e.Missing)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ExceedsAvailableError details a deconsignation chain-of-custody
// rejection: more pallets requested than remain consigned.
type ExceedsAvailableError struct {
	Key              BalanceKey
	Requested        int // pallets asked to be deconsigned
	TotalConsigned   int // validated consigned pallets
	TotalDeconsigned int // validated already-deconsigned pallets
	Available        int // TotalConsigned − TotalDeconsigned
}

func (e *ExceedsAvailableError) Error() string {
	return fmt.Sprintf("cannot deconsign %d pallets for %s/%s: %d consigned, %d already deconsigned, %d available",
		e.Requested, e.Key.Client, e.Key.Site, e.TotalConsigned, e.TotalDeconsigned, e.Available)
}

func (e *ExceedsAvailableError) Unwrap() error { return ErrExceedsAvailable }

// RecalculationError wraps a store failure during an aggregate scan.
// The last good balance value remains in place; callers may retry.
type RecalculationError struct {
	Key BalanceKey
	Err error
}

func (e *RecalculationError) Error() string {
	return fmt.Sprintf("recalculation failed for %s/%s: %v", e.Key.Client, e.Key.Site, e.Err)
}

func (e *RecalculationError) Unwrap() error { return ErrRecalculationFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRejection returns true for expected business-rule rejections that map
// to client errors, as opposed to system failures.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPalletCount) ||
		errors.Is(err, ErrExceedsReturned) ||
		errors.Is(err, ErrExceedsRequested) ||
		errors.Is(err, ErrExceedsAvailable) ||
		errors.Is(err, ErrNegativeQuantity)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRecalculationFailed) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOperationNotFound)
}
