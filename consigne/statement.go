/*
statement.go - Chronological before/after windows for receipts

PURPOSE:
  For one target operation, reconstructs the ordered validated history of
  its (client, site) and computes the balance immediately before and
  immediately after that operation. Receipts and audit views are rendered
  from this window; the persisted balance row is never consulted.

ALGORITHM:
  1. Load every Validated operation for the key, plus the target itself
     even while it is still Draft (preview receipts work before
     validation). A stored copy of the target is dropped first so a
     validated target is never counted twice.
  2. Sort by CreatedAt; ties broken by kind priority then ID.
  3. Walk the sequence folding running totals. On reaching the target,
     record the "before" values and stop - the target's own quantities
     are observed, never folded, and nothing after it can affect its
     window.
  4. The monetary "after" applies the target's signed contribution only
     if the target is Validated; a pending operation has not yet moved
     the balance. The pallet-count "after" applies the target's pallet
     movement unconditionally - the receipt documents the physical
     exchange being processed either way.

SEE ALSO:
  - types.go: Chronologically, SignedContribution, PalletDelta
  - recalculator.go: The full-history aggregate the window converges to
*/
package consigne

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATEMENT
// =============================================================================

// Statement is the before/after window around one target operation.
// Before and After are monetary units; divide by PalletValue for
// pallet-equivalent display. BeforePallets/AfterPallets count pallets
// physically out with the client, used on consignation and deconsignation
// receipts.
type Statement struct {
	Before decimal.Decimal
	After  decimal.Decimal

	BeforePallets int
	AfterPallets  int
}

// =============================================================================
// STATEMENT BUILDER
// =============================================================================

// StatementBuilder reconstructs chronological windows from the operation
// repository. Read-only.
type StatementBuilder struct {
	repo OperationRepository
}

func NewStatementBuilder(repo OperationRepository) *StatementBuilder {
	return &StatementBuilder{repo: repo}
}

// BuildStatement computes the window for target. The target may be Draft
// or Validated; it only needs its key, kind, quantities, CreatedAt, and
// status populated.
func (b *StatementBuilder) BuildStatement(ctx context.Context, target Operation) (Statement, error) {
	if !target.Kind.Valid() {
		return Statement{}, ErrUnknownKind
	}

	validated, err := LoadValidated(ctx, b.repo, target.Key())
	if err != nil {
		return Statement{}, err
	}

	// The target joins the walk exactly once, whatever its status.
	merged := make([]Operation, 0, len(validated)+1)
	for _, op := range validated {
		if op.SameRecord(target) {
			continue
		}
		merged = append(merged, op)
	}
	merged = append(merged, target)
	Chronologically(merged)

	var running Totals
	pallets := 0
	for _, op := range merged {
		if op.SameRecord(target) {
			break
		}
		running.Fold(op)
		pallets += op.PalletDelta()
	}

	st := Statement{
		Before:        running.Balance(),
		After:         running.Balance(),
		BeforePallets: pallets,
		AfterPallets:  pallets + target.PalletDelta(),
	}
	if target.Status == StatusValidated {
		st.After = st.Before.Add(target.SignedContribution())
	}
	return st, nil
}
