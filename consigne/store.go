/*
store.go - Persistence interfaces for operations and balances

PURPOSE:
  Defines the interface between the engine and the database. The
  recalculator and statement builder depend only on OperationRepository,
  never on a query builder, so they stay testable against the in-memory
  implementation.

KEY INTERFACES:
  OperationRepository: Read-only per-variant queries (key + status filter)
  OperationStore:      Repository plus the draft write path
  BalanceStore:        One persisted value per (client, site)
  Store:               Everything a request needs
  TxStore:             Store with transactional execution

WRITE DISCIPLINE:
  - Drafts may be inserted, updated (with a version check), and deleted.
  - Validation is a one-way status flip via MarkValidated.
  - The balances table is written only through UpsertBalance, and only
    the BalanceRecalculator calls it.

IMPLEMENTATIONS:
  - store/sqlite:       Production SQLite
  - consigne/store:     In-memory for testing

SEE ALSO:
  - recalculator.go: Reads aggregates, writes the balance row
  - service.go: Drives the write path inside WithTx
*/
package consigne

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OPERATION REPOSITORY - Read-only per-variant queries
// =============================================================================

// OperationRepository exposes the four operation collections. Every method
// filters by balance key and lifecycle status and returns records ordered
// by CreatedAt ascending.
type OperationRepository interface {
	Cautions(ctx context.Context, key BalanceKey, filter StatusFilter) ([]Operation, error)
	Consignations(ctx context.Context, key BalanceKey, filter StatusFilter) ([]Operation, error)
	Deconsignations(ctx context.Context, key BalanceKey, filter StatusFilter) ([]Operation, error)
	Restitutions(ctx context.Context, key BalanceKey, filter StatusFilter) ([]Operation, error)
}

// ListByKind dispatches to the repository method matching kind.
func ListByKind(ctx context.Context, repo OperationRepository, kind Kind, key BalanceKey, filter StatusFilter) ([]Operation, error) {
	switch kind {
	case KindCaution:
		return repo.Cautions(ctx, key, filter)
	case KindConsignation:
		return repo.Consignations(ctx, key, filter)
	case KindDeconsignation:
		return repo.Deconsignations(ctx, key, filter)
	case KindRestitution:
		return repo.Restitutions(ctx, key, filter)
	}
	return nil, ErrUnknownKind
}

// LoadValidated collects the validated operations of every kind for a key.
// The result is not sorted; callers order with Chronologically.
func LoadValidated(ctx context.Context, repo OperationRepository, key BalanceKey) ([]Operation, error) {
	var all []Operation
	for _, kind := range Kinds {
		ops, err := ListByKind(ctx, repo, kind, key, ValidatedOnly)
		if err != nil {
			return nil, err
		}
		all = append(all, ops...)
	}
	return all, nil
}

// =============================================================================
// OPERATION STORE - Repository plus the draft write path
// =============================================================================

// OperationStore adds the write path. Validated rows are immutable: Update
// and Delete refuse them, MarkValidated is the only status transition.
type OperationStore interface {
	OperationRepository

	// Get returns one operation. ErrOperationNotFound if absent.
	Get(ctx context.Context, kind Kind, id OperationID) (Operation, error)

	// Insert persists a new draft.
	Insert(ctx context.Context, op Operation) error

	// Update rewrites a draft's editable fields. The stored version must
	// equal op.Version or ErrConcurrentModification is returned; on
	// success the stored version is incremented.
	Update(ctx context.Context, op Operation) error

	// Delete removes a draft.
	Delete(ctx context.Context, kind Kind, id OperationID) error

	// MarkValidated flips a draft to Validated. One-way.
	MarkValidated(ctx context.Context, kind Kind, id OperationID) error
}

// =============================================================================
// BALANCE STORE - Persisted value per (client, site)
// =============================================================================

// BalanceStore holds the authoritative recomputed balance. A key with no
// row reads as zero.
type BalanceStore interface {
	Balance(ctx context.Context, key BalanceKey) (decimal.Decimal, error)
	UpsertBalance(ctx context.Context, key BalanceKey, value decimal.Decimal) error
}

// =============================================================================
// COMBINED AND TRANSACTIONAL STORES
// =============================================================================

// Store is everything a single request needs.
type Store interface {
	OperationStore
	BalanceStore
}

// TxStore wraps Store with transaction support. WithTx executes fn against
// a transaction-scoped Store; an error rolls everything back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
