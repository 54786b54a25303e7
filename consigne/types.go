/*
Package consigne provides the pallet deposit reconciliation engine.

PURPOSE:
  This package contains the types and algorithms for tracking reusable
  pallets loaned to clients against a refundable deposit ("caution").
  One pallet is worth exactly 100 monetary units. Four operation kinds
  mutate a per-(client, site) balance:

    Caution         deposit paid in          credits balance
    Consignation    pallets lent out         debits balance
    Deconsignation  pallets brought back     credits balance
    Restitution     deposit refunded         debits balance

KEY CONCEPTS IN THIS FILE (types.go):
  - Operation: One record of any of the four kinds, Draft or Validated
  - BalanceKey: The (client, site) pair every balance is keyed by
  - Totals: Per-kind validated aggregates feeding the balance formula

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for monetary values, ints for pallets
  2. Single order: CreatedAt is the only ordering used for reconciliation,
     never the user-entered business date
  3. Determinism: Timestamp ties are broken by kind priority then ID
  4. Validated-only math: Draft operations never enter balance calculations

BALANCE FORMULA:
  balance = caution − consignation×100 + deconsignation×100 − restitution

SEE ALSO:
  - recalculator.go: Authoritative balance recomputation
  - admission.go: Commit-time admission checks
  - statement.go: Before/after receipt windows
*/
package consigne

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientCode string
type SiteCode string
type OperationID string

// BalanceKey identifies one balance. Every operation belongs to exactly
// one key, and keys never share state.
type BalanceKey struct {
	Client ClientCode
	Site   SiteCode
}

// =============================================================================
// OPERATION KINDS AND LIFECYCLE
// =============================================================================

type Kind string

const (
	KindCaution        Kind = "caution"
	KindConsignation   Kind = "consignation"
	KindDeconsignation Kind = "deconsignation"
	KindRestitution    Kind = "restitution"
)

// Kinds lists all operation kinds in tie-break priority order.
var Kinds = []Kind{KindCaution, KindConsignation, KindDeconsignation, KindRestitution}

func (k Kind) Valid() bool {
	switch k {
	case KindCaution, KindConsignation, KindDeconsignation, KindRestitution:
		return true
	}
	return false
}

// rank orders kinds when two operations share a CreatedAt timestamp.
// Deposits sort before debits so same-instant sequences that exactly
// consume a fresh deposit remain coherent.
func (k Kind) rank() int {
	switch k {
	case KindCaution:
		return 0
	case KindConsignation:
		return 1
	case KindDeconsignation:
		return 2
	case KindRestitution:
		return 3
	}
	return 4
}

type Status string

const (
	// StatusDraft operations may be edited or deleted and never count
	// toward any balance.
	StatusDraft Status = "draft"

	// StatusValidated is terminal. Validated operations are immutable,
	// undeletable, and are the only ones entering balance math.
	StatusValidated Status = "validated"
)

// StatusFilter selects operations by lifecycle state in repository reads.
type StatusFilter string

const (
	ValidatedOnly StatusFilter = "validated"
	DraftOnly     StatusFilter = "draft"
	AnyStatus     StatusFilter = "any"
)

// =============================================================================
// MONETARY CONVENTIONS
// =============================================================================

// PalletValue is the deposit value of a single pallet in monetary units.
const PalletValue = 100

var palletValueDec = decimal.NewFromInt(PalletValue)

// PalletAmount converts a pallet count to its monetary value.
func PalletAmount(pallets int) decimal.Decimal {
	return decimal.NewFromInt(int64(pallets)).Mul(palletValueDec)
}

// =============================================================================
// OPERATION
// =============================================================================

// Operation is the shared shape of the four record kinds. Quantity fields
// are kind-specific:
//
//	Caution:        Amount
//	Consignation:   PalletsOut
//	Deconsignation: PalletsReturned, PalletsToDeconsign, PalletsDeconsigned
//	Restitution:    Amount
//
// Unused fields stay zero. CreatedAt is the reconciliation order;
// BusinessDate is display-only and never enters any calculation.
type Operation struct {
	ID     OperationID
	Kind   Kind
	Client ClientCode
	Site   SiteCode
	Status Status

	CreatedAt    time.Time
	BusinessDate time.Time

	// Version supports optimistic concurrency on draft edits.
	Version int

	// Caution / Restitution.
	Amount decimal.Decimal

	// Consignation.
	PalletsOut int

	// Deconsignation. PalletsReturned is what the client physically
	// brought back, PalletsToDeconsign what they asked to release,
	// PalletsDeconsigned what was actually released.
	PalletsReturned    int
	PalletsToDeconsign int
	PalletsDeconsigned int
}

func (op Operation) Key() BalanceKey {
	return BalanceKey{Client: op.Client, Site: op.Site}
}

// SameRecord reports whether two operations are the same stored record.
// IDs are unique within a kind only, so both must match.
func (op Operation) SameRecord(other Operation) bool {
	return op.Kind == other.Kind && op.ID == other.ID
}

// SignedContribution returns the operation's effect on the monetary
// balance, per the canonical formula: caution and deconsignation credit,
// consignation and restitution debit.
func (op Operation) SignedContribution() decimal.Decimal {
	switch op.Kind {
	case KindCaution:
		return op.Amount
	case KindConsignation:
		return PalletAmount(op.PalletsOut).Neg()
	case KindDeconsignation:
		return PalletAmount(op.PalletsDeconsigned)
	case KindRestitution:
		return op.Amount.Neg()
	}
	return decimal.Zero
}

// PalletDelta returns the operation's effect on the count of pallets
// currently out with the client. Monetary kinds move no pallets.
func (op Operation) PalletDelta() int {
	switch op.Kind {
	case KindConsignation:
		return op.PalletsOut
	case KindDeconsignation:
		return -op.PalletsDeconsigned
	}
	return 0
}

// CheckQuantities enforces the storage-level invariant: all quantities
// are non-negative. Cross-operation rules live in the AdmissionGate.
func (op Operation) CheckQuantities() error {
	if op.Amount.IsNegative() {
		return ErrNegativeQuantity
	}
	if op.PalletsOut < 0 || op.PalletsReturned < 0 ||
		op.PalletsToDeconsign < 0 || op.PalletsDeconsigned < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

// =============================================================================
// CHRONOLOGICAL ORDER
// =============================================================================

// Chronologically sorts operations by CreatedAt ascending. Ties are broken
// by kind priority then by ID, so the order is total and deterministic
// regardless of which collection a record came from.
func Chronologically(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Kind.rank() != b.Kind.rank() {
			return a.Kind.rank() < b.Kind.rank()
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// TOTALS - Validated aggregates per kind
// =============================================================================

// Totals holds the validated per-kind aggregates for one balance key.
// Monetary totals are in monetary units; pallet totals are raw counts.
type Totals struct {
	Caution     decimal.Decimal
	Restitution decimal.Decimal

	PalletsConsigned   int
	PalletsDeconsigned int
}

// Balance applies the canonical formula to the aggregates.
func (t Totals) Balance() decimal.Decimal {
	return t.Caution.
		Sub(PalletAmount(t.PalletsConsigned)).
		Add(PalletAmount(t.PalletsDeconsigned)).
		Sub(t.Restitution)
}

// PalletsAvailable returns how many validated consigned pallets have not
// yet been deconsigned. This bounds any new deconsignation.
func (t Totals) PalletsAvailable() int {
	return t.PalletsConsigned - t.PalletsDeconsigned
}

// Fold accumulates one operation into the totals. Callers are responsible
// for only folding Validated operations.
func (t *Totals) Fold(op Operation) {
	switch op.Kind {
	case KindCaution:
		t.Caution = t.Caution.Add(op.Amount)
	case KindConsignation:
		t.PalletsConsigned += op.PalletsOut
	case KindDeconsignation:
		t.PalletsDeconsigned += op.PalletsDeconsigned
	case KindRestitution:
		t.Restitution = t.Restitution.Add(op.Amount)
	}
}
