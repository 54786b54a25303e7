/*
statement_test.go - Chronological receipt window tests

Tests for:
- Before/after symmetry around a validated target
- Draft targets: monetary after frozen, pallet after moves
- Deterministic ordering (timestamp ties, later operations excluded)
*/
package consigne_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palletdesk/consigne-engine/consigne"
	"github.com/palletdesk/consigne-engine/consigne/store"
)

// =============================================================================
// VALIDATED TARGETS
// =============================================================================

func TestStatement_ValidatedCaution_Window(t *testing.T) {
	// GIVEN: A validated caution of 500, then a validated caution of 1000
	// WHEN: The statement for the second is built
	// THEN: before = 500, after = 1500
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(caution("c2", 1000, at(10)))
	seed(t, st, validated(caution("c1", 500, at(0))), target)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(500)), "before = %s", window.Before)
	assert.True(t, window.After.Equal(money(1500)), "after = %s", window.After)
}

func TestStatement_ValidatedConsignation_Window(t *testing.T) {
	// GIVEN: A validated caution of 1000, then a validated consignation of 3
	// WHEN: The statement for the consignation is built
	// THEN: before = 1000, after = 700; pallets go 0 → 3
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(consignation("k1", 3, at(10)))
	seed(t, st, validated(caution("c1", 1000, at(0))), target)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
	assert.True(t, window.After.Equal(money(700)))
	assert.Equal(t, 0, window.BeforePallets)
	assert.Equal(t, 3, window.AfterPallets)
}

func TestStatement_ValidatedDeconsignation_CreditsBalance(t *testing.T) {
	// GIVEN: caution 1000, consignation 5, then a deconsignation of 2
	// WHEN: The deconsignation's statement is built
	// THEN: before = 500, after = 700; pallets go 5 → 3
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(deconsignation("d1", 2, 2, 2, at(20)))
	seed(t, st,
		validated(caution("c1", 1000, at(0))),
		validated(consignation("k1", 5, at(10))),
		target,
	)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(500)))
	assert.True(t, window.After.Equal(money(700)))
	assert.Equal(t, 5, window.BeforePallets)
	assert.Equal(t, 3, window.AfterPallets)
}

func TestStatement_LaterOperations_DoNotAffectWindow(t *testing.T) {
	// GIVEN: A history with operations after the target
	// WHEN: The target's statement is built
	// THEN: Everything later than the target is ignored
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(consignation("k1", 3, at(10)))
	seed(t, st,
		validated(caution("c1", 1000, at(0))),
		target,
		validated(caution("c2", 5000, at(20))),
		validated(consignation("k2", 4, at(30))),
	)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
	assert.True(t, window.After.Equal(money(700)))
}

func TestStatement_StoredTarget_NotDoubleCounted(t *testing.T) {
	// GIVEN: A single validated caution of 1000
	// WHEN: Its own statement is built
	// THEN: before = 0, after = 1000 - the stored copy and the target are
	//       the same record and fold once
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(caution("c1", 1000, at(0)))
	seed(t, st, target)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.IsZero())
	assert.True(t, window.After.Equal(money(1000)))
}

// =============================================================================
// DRAFT TARGETS (PREVIEW RECEIPTS)
// =============================================================================

func TestStatement_DraftTarget_MonetaryAfterFrozen(t *testing.T) {
	// GIVEN: A validated caution of 1000 and a draft consignation of 3
	// WHEN: The draft's statement is built
	// THEN: The monetary after equals before (nothing committed yet) while
	//       the pallet window already shows the physical movement
	ctx := context.Background()
	st := store.NewMemory()
	target := consignation("k1", 3, at(10))
	seed(t, st, validated(caution("c1", 1000, at(0))), target)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
	assert.True(t, window.After.Equal(money(1000)))
	assert.Equal(t, 0, window.BeforePallets)
	assert.Equal(t, 3, window.AfterPallets)
}

func TestStatement_DraftTarget_OtherDraftsExcluded(t *testing.T) {
	// GIVEN: A draft caution of 9999 alongside validated history
	// WHEN: Another operation's statement is built
	// THEN: The unrelated draft never appears in the window
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(consignation("k1", 3, at(20)))
	seed(t, st,
		validated(caution("c1", 1000, at(0))),
		caution("c2", 9999, at(10)),
		target,
	)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
}

// =============================================================================
// ORDERING
// =============================================================================

func TestStatement_TimestampTie_DepositSortsFirst(t *testing.T) {
	// GIVEN: A caution and a consignation sharing one CreatedAt
	// WHEN: The consignation's statement is built
	// THEN: The caution sorts before it, so the window sees the deposit
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(consignation("k1", 3, at(0)))
	seed(t, st, validated(caution("c1", 1000, at(0))), target)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
	assert.True(t, window.After.Equal(money(700)))
}

func TestStatement_BusinessDate_NeverOrdersTheWindow(t *testing.T) {
	// GIVEN: A caution entered late (older business date, newer CreatedAt)
	// WHEN: An earlier consignation's statement is built
	// THEN: The late-entered caution stays after the target; only
	//       CreatedAt orders the reconciliation
	ctx := context.Background()
	st := store.NewMemory()
	target := validated(consignation("k1", 3, at(10)))

	late := validated(caution("c2", 5000, at(20)))
	late.BusinessDate = baseTime.AddDate(0, -1, 0)

	seed(t, st, validated(caution("c1", 1000, at(0))), target, late)

	window, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
}

func TestStatement_UnknownKind_Rejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	target := caution("c1", 100, at(0))
	target.Kind = "refund"
	_, err := consigne.NewStatementBuilder(st).BuildStatement(ctx, target)
	assert.ErrorIs(t, err, consigne.ErrUnknownKind)
}
