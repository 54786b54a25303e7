/*
service.go - Operation lifecycle with atomic admission + commit

PURPOSE:
  The single entry point the CRUD layer calls. Every write sequence
  (admission check, operation write, balance recalculation) runs under a
  per-key advisory lock and inside one store transaction, so two
  concurrent writers on the same (client, site) can never both pass the
  same admission check. Writers on different keys proceed in parallel.

LIFECYCLE:
  Create    draft inserted after passing the gate
  Update    draft edited (optimistic version check), gate re-run
  Delete    draft removed
  Validate  gate re-run at the moment of validation, one-way status
            flip, in-transaction recalculation of the balance row

  Validated operations are immutable: Update, Delete, and a second
  Validate all fail with ErrOperationImmutable.

READS:
  Statement and Balance are plain reads; Statement never touches the
  balance row, Balance never triggers a scan. Recalculate refreshes the
  row on demand.

SEE ALSO:
  - admission.go: The gate run inside every write transaction
  - recalculator.go: The scan run after every validation
  - locks.go: Per-key serialization
*/
package consigne

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service coordinates the operation lifecycle over a transactional store.
type Service struct {
	store TxStore
	locks *keyLocks
	log   *logrus.Logger
}

func NewService(store TxStore, log *logrus.Logger) *Service {
	return &Service{
		store: store,
		locks: newKeyLocks(),
		log:   log,
	}
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Create admits and inserts a new draft. ID and CreatedAt are assigned
// here when absent; Status and Version are always reset.
func (s *Service) Create(ctx context.Context, op Operation) (Operation, error) {
	if !op.Kind.Valid() {
		return Operation{}, ErrUnknownKind
	}
	if op.ID == "" {
		op.ID = OperationID(uuid.NewString())
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.Status = StatusDraft
	op.Version = 1

	unlock := s.locks.acquire(op.Key())
	defer unlock()

	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := NewAdmissionGate(tx).CanCommit(ctx, op); err != nil {
			return err
		}
		return tx.Insert(ctx, op)
	})
	if err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Update edits a draft. Identity fields (kind, id, key, creation time)
// come from the stored record; quantities, business date, and the version
// expected by the caller come from op. ErrOperationImmutable for
// validated records, ErrConcurrentModification on a stale version.
func (s *Service) Update(ctx context.Context, op Operation) (Operation, error) {
	if !op.Kind.Valid() {
		return Operation{}, ErrUnknownKind
	}

	var updated Operation
	unlock := s.locks.acquire(op.Key())
	defer unlock()

	err := s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.Get(ctx, op.Kind, op.ID)
		if err != nil {
			return err
		}
		if existing.Status == StatusValidated {
			return ErrOperationImmutable
		}

		updated = existing
		updated.Amount = op.Amount
		updated.PalletsOut = op.PalletsOut
		updated.PalletsReturned = op.PalletsReturned
		updated.PalletsToDeconsign = op.PalletsToDeconsign
		updated.PalletsDeconsigned = op.PalletsDeconsigned
		updated.BusinessDate = op.BusinessDate
		updated.Version = op.Version

		if err := NewAdmissionGate(tx).CanCommit(ctx, updated); err != nil {
			return err
		}
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		updated.Version++
		return nil
	})
	if err != nil {
		return Operation{}, err
	}
	return updated, nil
}

// Delete removes a draft. Validated operations are undeletable.
func (s *Service) Delete(ctx context.Context, kind Kind, id OperationID) error {
	op, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}

	unlock := s.locks.acquire(op.Key())
	defer unlock()

	return s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		if existing.Status == StatusValidated {
			return ErrOperationImmutable
		}
		return tx.Delete(ctx, kind, id)
	})
}

// Validate runs the admission check at the moment of validation, flips
// the operation to Validated, and recalculates the balance row - all in
// one transaction. Returns the validated operation and the new balance.
func (s *Service) Validate(ctx context.Context, kind Kind, id OperationID) (Operation, decimal.Decimal, error) {
	op, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return Operation{}, decimal.Zero, err
	}

	unlock := s.locks.acquire(op.Key())
	defer unlock()

	var validated Operation
	var balance decimal.Decimal
	err = s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		if existing.Status == StatusValidated {
			return ErrOperationImmutable
		}

		// The record is still Draft here, so the gate's aggregates
		// exclude it and the check sees the pre-commit state.
		if err := NewAdmissionGate(tx).CanCommit(ctx, existing); err != nil {
			return err
		}
		if err := tx.MarkValidated(ctx, kind, id); err != nil {
			return err
		}

		balance, err = NewBalanceRecalculator(tx, s.log).Recalculate(ctx, existing.Key())
		if err != nil {
			return err
		}

		validated = existing
		validated.Status = StatusValidated
		return nil
	})
	if err != nil {
		return Operation{}, decimal.Zero, err
	}

	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"module":  "service",
			"kind":    kind,
			"id":      id,
			"client":  validated.Client,
			"site":    validated.Site,
			"balance": balance.String(),
		}).Info("operation validated")
	}
	return validated, balance, nil
}

// Recalculate refreshes the balance row for key on demand.
func (s *Service) Recalculate(ctx context.Context, key BalanceKey) (decimal.Decimal, error) {
	unlock := s.locks.acquire(key)
	defer unlock()

	var value decimal.Decimal
	err := s.store.WithTx(ctx, func(tx Store) error {
		var err error
		value, err = NewBalanceRecalculator(tx, s.log).Recalculate(ctx, key)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// =============================================================================
// READ PATH
// =============================================================================

// Get returns one stored operation.
func (s *Service) Get(ctx context.Context, kind Kind, id OperationID) (Operation, error) {
	return s.store.Get(ctx, kind, id)
}

// Operations returns the merged chronological history for a key.
func (s *Service) Operations(ctx context.Context, key BalanceKey, filter StatusFilter) ([]Operation, error) {
	var all []Operation
	for _, kind := range Kinds {
		ops, err := ListByKind(ctx, s.store, kind, key, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, ops...)
	}
	Chronologically(all)
	return all, nil
}

// Balance reads the persisted balance row. Zero for an unknown key.
func (s *Service) Balance(ctx context.Context, key BalanceKey) (decimal.Decimal, error) {
	return s.store.Balance(ctx, key)
}

// Statement builds the receipt window for a stored operation.
func (s *Service) Statement(ctx context.Context, kind Kind, id OperationID) (Statement, error) {
	op, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return Statement{}, err
	}
	return NewStatementBuilder(s.store).BuildStatement(ctx, op)
}
