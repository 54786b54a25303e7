/*
admission.go - Commit-time admission checks

PURPOSE:
  Gates whether a new or edited operation is allowed to commit. The gate
  re-derives balances and pallet counts from live validated aggregates -
  it never trusts a cached balance row older than the current request.

RULES BY KIND:
  Consignation:   current balance must cover pallets × 100. A zero-pallet
                  consignation passes without a balance check.
  Deconsignation: four ordered rules, first failure wins:
                    1. pallets brought back > 0
                    2. requested ≤ brought back
                    3. deconsigned ≤ requested
                    4. requested ≤ consigned − already deconsigned
  Caution:        no precondition.
  Restitution:    no precondition (inherited policy; see DESIGN.md).

  All comparisons are inclusive: a request exactly consuming the full
  available balance is accepted.

READ-ONLY:
  CanCommit performs only reads. The caller is responsible for running
  the check and the subsequent write inside one transaction so no other
  writer can slip between them.

SEE ALSO:
  - service.go: Wraps CanCommit + write + recalculation atomically
  - errors.go: The rejection taxonomy
*/
package consigne

import "context"

// =============================================================================
// ADMISSION GATE
// =============================================================================

// AdmissionGate accepts or rejects candidate operations against the live
// validated aggregates of their balance key.
type AdmissionGate struct {
	repo OperationRepository
}

func NewAdmissionGate(repo OperationRepository) *AdmissionGate {
	return &AdmissionGate{repo: repo}
}

// CanCommit returns nil to accept the candidate or a typed rejection.
// Candidates are checked the same way on create, edit, and at the moment
// of validation; a candidate is never part of the validated aggregates it
// is checked against (drafts never are, and a validating operation is
// still Draft when the gate runs).
func (g *AdmissionGate) CanCommit(ctx context.Context, op Operation) error {
	if !op.Kind.Valid() {
		return ErrUnknownKind
	}
	if err := op.CheckQuantities(); err != nil {
		return err
	}

	switch op.Kind {
	case KindConsignation:
		return g.checkConsignation(ctx, op)
	case KindDeconsignation:
		return g.checkDeconsignation(ctx, op)
	}

	// Caution and Restitution commit unconditionally.
	return nil
}

func (g *AdmissionGate) checkConsignation(ctx context.Context, op Operation) error {
	if op.PalletsOut == 0 {
		return nil
	}

	totals, err := ValidatedTotals(ctx, g.repo, op.Key())
	if err != nil {
		return &RecalculationError{Key: op.Key(), Err: err}
	}

	current := totals.Balance()
	required := PalletAmount(op.PalletsOut)
	if current.GreaterThanOrEqual(required) {
		return nil
	}

	return &InsufficientBalanceError{
		Key:      op.Key(),
		Current:  current,
		Required: required,
		Missing:  required.Sub(current),
	}
}

func (g *AdmissionGate) checkDeconsignation(ctx context.Context, op Operation) error {
	if op.PalletsReturned <= 0 {
		return ErrInvalidPalletCount
	}
	if op.PalletsToDeconsign > op.PalletsReturned {
		return ErrExceedsReturned
	}
	if op.PalletsDeconsigned > op.PalletsToDeconsign {
		return ErrExceedsRequested
	}

	totals, err := ValidatedTotals(ctx, g.repo, op.Key())
	if err != nil {
		return &RecalculationError{Key: op.Key(), Err: err}
	}

	if available := totals.PalletsAvailable(); op.PalletsToDeconsign > available {
		return &ExceedsAvailableError{
			Key:              op.Key(),
			Requested:        op.PalletsToDeconsign,
			TotalConsigned:   totals.PalletsConsigned,
			TotalDeconsigned: totals.PalletsDeconsigned,
			Available:        available,
		}
	}
	return nil
}
