/*
recalculator.go - Authoritative balance recomputation

PURPOSE:
  Computes the current balance for a (client, site) pair from the full
  validated operation history and persists it. The balance is never
  patched incrementally - every recalculation is a complete aggregate
  re-scan, so partial failures can only leave a stale value, never a
  corrupted one.

CONTRACT:
  Recalculate(key) scans the four collections filtered to Validated,
  applies the canonical formula, upserts the balance row, and returns
  the new value. Calling it twice with no intervening writes yields the
  same value both times.

FAILURE MODE:
  Any store error aborts before the upsert. The last good value remains
  readable and the error is retryable (wraps ErrRecalculationFailed).

SEE ALSO:
  - types.go: Totals and the balance formula
  - admission.go: Uses the same live aggregates for its checks
*/
package consigne

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// BALANCE RECALCULATOR
// =============================================================================

// BalanceRecalculator owns the single write path into the BalanceStore.
type BalanceRecalculator struct {
	store Store
	log   *logrus.Logger
}

func NewBalanceRecalculator(store Store, log *logrus.Logger) *BalanceRecalculator {
	return &BalanceRecalculator{store: store, log: log}
}

// Recalculate recomputes and persists the balance for key, returning the
// new value. Idempotent: with no intervening writes the only side effect
// of a repeat call is overwriting the row with an identical number.
func (r *BalanceRecalculator) Recalculate(ctx context.Context, key BalanceKey) (decimal.Decimal, error) {
	totals, err := ValidatedTotals(ctx, r.store, key)
	if err != nil {
		rerr := &RecalculationError{Key: key, Err: err}
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"module":   "recalculator",
				"funcName": "Recalculate",
				"client":   key.Client,
				"site":     key.Site,
			}).Error(rerr.Error())
		}
		return decimal.Zero, rerr
	}

	value := totals.Balance()
	if err := r.store.UpsertBalance(ctx, key, value); err != nil {
		rerr := &RecalculationError{Key: key, Err: err}
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"module":   "recalculator",
				"funcName": "Recalculate",
				"client":   key.Client,
				"site":     key.Site,
			}).Error(rerr.Error())
		}
		return decimal.Zero, rerr
	}

	return value, nil
}

// ValidatedTotals scans the four collections for key, Validated only, and
// folds them into per-kind aggregates. Shared by the recalculator and the
// admission gate so both always see the same live numbers.
func ValidatedTotals(ctx context.Context, repo OperationRepository, key BalanceKey) (Totals, error) {
	var totals Totals

	ops, err := LoadValidated(ctx, repo, key)
	if err != nil {
		return Totals{}, err
	}
	for _, op := range ops {
		totals.Fold(op)
	}
	return totals, nil
}
