// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/palletdesk/consigne-engine/consigne"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	ops      map[recordKey]consigne.Operation
	balances map[consigne.BalanceKey]decimal.Decimal
}

type recordKey struct {
	Kind consigne.Kind
	ID   consigne.OperationID
}

func NewMemory() *Memory {
	return &Memory{
		ops:      make(map[recordKey]consigne.Operation),
		balances: make(map[consigne.BalanceKey]decimal.Decimal),
	}
}

// =============================================================================
// OPERATION REPOSITORY
// =============================================================================

func (m *Memory) Cautions(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(consigne.KindCaution, key, filter), nil
}

func (m *Memory) Consignations(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(consigne.KindConsignation, key, filter), nil
}

func (m *Memory) Deconsignations(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(consigne.KindDeconsignation, key, filter), nil
}

func (m *Memory) Restitutions(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(consigne.KindRestitution, key, filter), nil
}

func (m *Memory) listLocked(kind consigne.Kind, key consigne.BalanceKey, filter consigne.StatusFilter) []consigne.Operation {
	var result []consigne.Operation
	for _, op := range m.ops {
		if op.Kind != kind || op.Key() != key {
			continue
		}
		if filter == consigne.ValidatedOnly && op.Status != consigne.StatusValidated {
			continue
		}
		if filter == consigne.DraftOnly && op.Status != consigne.StatusDraft {
			continue
		}
		result = append(result, op)
	}
	consigne.Chronologically(result)
	return result
}

// =============================================================================
// OPERATION STORE
// =============================================================================

func (m *Memory) Get(_ context.Context, kind consigne.Kind, id consigne.OperationID) (consigne.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(kind, id)
}

func (m *Memory) Insert(_ context.Context, op consigne.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(op)
}

func (m *Memory) Update(_ context.Context, op consigne.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(op)
}

func (m *Memory) Delete(_ context.Context, kind consigne.Kind, id consigne.OperationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(kind, id)
}

func (m *Memory) MarkValidated(_ context.Context, kind consigne.Kind, id consigne.OperationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markValidatedLocked(kind, id)
}

func (m *Memory) getLocked(kind consigne.Kind, id consigne.OperationID) (consigne.Operation, error) {
	op, ok := m.ops[recordKey{Kind: kind, ID: id}]
	if !ok {
		return consigne.Operation{}, consigne.ErrOperationNotFound
	}
	return op, nil
}

func (m *Memory) insertLocked(op consigne.Operation) error {
	m.ops[recordKey{Kind: op.Kind, ID: op.ID}] = op
	return nil
}

func (m *Memory) updateLocked(op consigne.Operation) error {
	k := recordKey{Kind: op.Kind, ID: op.ID}
	existing, ok := m.ops[k]
	if !ok {
		return consigne.ErrOperationNotFound
	}
	if existing.Version != op.Version {
		return consigne.ErrConcurrentModification
	}
	op.Version = existing.Version + 1
	m.ops[k] = op
	return nil
}

func (m *Memory) deleteLocked(kind consigne.Kind, id consigne.OperationID) error {
	k := recordKey{Kind: kind, ID: id}
	if _, ok := m.ops[k]; !ok {
		return consigne.ErrOperationNotFound
	}
	delete(m.ops, k)
	return nil
}

func (m *Memory) markValidatedLocked(kind consigne.Kind, id consigne.OperationID) error {
	k := recordKey{Kind: kind, ID: id}
	op, ok := m.ops[k]
	if !ok {
		return consigne.ErrOperationNotFound
	}
	op.Status = consigne.StatusValidated
	m.ops[k] = op
	return nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) Balance(_ context.Context, key consigne.BalanceKey) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(key), nil
}

func (m *Memory) UpsertBalance(_ context.Context, key consigne.BalanceKey, value decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key] = value
	return nil
}

func (m *Memory) balanceLocked(key consigne.BalanceKey) decimal.Decimal {
	value, ok := m.balances[key]
	if !ok {
		return decimal.Zero
	}
	return value
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn against a transactional view while holding the store
// lock. On error the pre-transaction state is restored.
func (m *Memory) WithTx(_ context.Context, fn func(consigne.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()

	if err := fn(&txView{parent: m}); err != nil {
		m.ops = snapshot.ops
		m.balances = snapshot.balances
		return err
	}
	return nil
}

func (m *Memory) snapshotLocked() memorySnapshot {
	opsCopy := make(map[recordKey]consigne.Operation, len(m.ops))
	for k, v := range m.ops {
		opsCopy[k] = v
	}
	balancesCopy := make(map[consigne.BalanceKey]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		balancesCopy[k] = v
	}
	return memorySnapshot{ops: opsCopy, balances: balancesCopy}
}

type memorySnapshot struct {
	ops      map[recordKey]consigne.Operation
	balances map[consigne.BalanceKey]decimal.Decimal
}

// txView calls the parent's non-locking internals; the parent lock is
// held for the whole transaction.
type txView struct {
	parent *Memory
}

func (tv *txView) Cautions(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return tv.parent.listLocked(consigne.KindCaution, key, filter), nil
}

func (tv *txView) Consignations(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return tv.parent.listLocked(consigne.KindConsignation, key, filter), nil
}

func (tv *txView) Deconsignations(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return tv.parent.listLocked(consigne.KindDeconsignation, key, filter), nil
}

func (tv *txView) Restitutions(_ context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	return tv.parent.listLocked(consigne.KindRestitution, key, filter), nil
}

func (tv *txView) Get(_ context.Context, kind consigne.Kind, id consigne.OperationID) (consigne.Operation, error) {
	return tv.parent.getLocked(kind, id)
}

func (tv *txView) Insert(_ context.Context, op consigne.Operation) error {
	return tv.parent.insertLocked(op)
}

func (tv *txView) Update(_ context.Context, op consigne.Operation) error {
	return tv.parent.updateLocked(op)
}

func (tv *txView) Delete(_ context.Context, kind consigne.Kind, id consigne.OperationID) error {
	return tv.parent.deleteLocked(kind, id)
}

func (tv *txView) MarkValidated(_ context.Context, kind consigne.Kind, id consigne.OperationID) error {
	return tv.parent.markValidatedLocked(kind, id)
}

func (tv *txView) Balance(_ context.Context, key consigne.BalanceKey) (decimal.Decimal, error) {
	return tv.parent.balanceLocked(key), nil
}

func (tv *txView) UpsertBalance(_ context.Context, key consigne.BalanceKey, value decimal.Decimal) error {
	tv.parent.balances[key] = value
	return nil
}
