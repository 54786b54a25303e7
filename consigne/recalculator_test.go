/*
recalculator_test.go - Balance recalculation tests

Tests for:
- The canonical balance formula over validated history
- Draft exclusion and idempotence
- Failure atomicity: a failed scan leaves the last good value
*/
package consigne_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palletdesk/consigne-engine/consigne"
	"github.com/palletdesk/consigne-engine/consigne/store"
)

// =============================================================================
// FORMULA
// =============================================================================

func TestRecalculate_CanonicalFormula(t *testing.T) {
	// GIVEN: caution 1000, consignation 3, deconsignation 2, restitution 100
	// WHEN: The balance is recalculated
	// THEN: 1000 − 300 + 200 − 100 = 800
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st,
		validated(caution("c1", 1000, at(0))),
		validated(consignation("k1", 3, at(10))),
		validated(deconsignation("d1", 2, 2, 2, at(20))),
		validated(restitution("r1", 100, at(30))),
	)

	value, err := consigne.NewBalanceRecalculator(st, nil).Recalculate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, value.Equal(money(800)), "balance = %s", value)

	stored, err := st.Balance(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, stored.Equal(money(800)), "stored = %s", stored)
}

func TestRecalculate_EmptyHistory_Zero(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	value, err := consigne.NewBalanceRecalculator(st, nil).Recalculate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, value.IsZero())
}

func TestRecalculate_DraftsExcluded(t *testing.T) {
	// GIVEN: A validated caution of 500 and a draft caution of 9999
	// WHEN: The balance is recalculated
	// THEN: Only the validated operation counts
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st,
		validated(caution("c1", 500, at(0))),
		caution("c2", 9999, at(10)),
	)

	value, err := consigne.NewBalanceRecalculator(st, nil).Recalculate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, value.Equal(money(500)), "balance = %s", value)
}

func TestRecalculate_KeysAreIsolated(t *testing.T) {
	// GIVEN: History on one key and nothing on another
	// WHEN: The other key is recalculated
	// THEN: It reads zero; keys never share state
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, validated(caution("c1", 1000, at(0))))

	other := consigne.BalanceKey{Client: testKey.Client, Site: "ST-B"}
	value, err := consigne.NewBalanceRecalculator(st, nil).Recalculate(ctx, other)
	require.NoError(t, err)
	assert.True(t, value.IsZero())
}

func TestRecalculate_Idempotent(t *testing.T) {
	// GIVEN: A fixed history
	// WHEN: Recalculate runs twice with no intervening writes
	// THEN: Both calls return the same value
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st,
		validated(caution("c1", 1000, at(0))),
		validated(consignation("k1", 4, at(10))),
	)

	recalc := consigne.NewBalanceRecalculator(st, nil)
	first, err := recalc.Recalculate(ctx, testKey)
	require.NoError(t, err)
	second, err := recalc.Recalculate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	assert.True(t, first.Equal(money(600)))
}

// =============================================================================
// FAILURE ATOMICITY
// =============================================================================

// faultyStore wraps a Store and fails selected calls.
type faultyStore struct {
	consigne.Store
	failList   bool
	failUpsert bool
}

var errStoreDown = errors.New("store down")

func (f *faultyStore) Consignations(ctx context.Context, key consigne.BalanceKey, filter consigne.StatusFilter) ([]consigne.Operation, error) {
	if f.failList {
		return nil, errStoreDown
	}
	return f.Store.Consignations(ctx, key, filter)
}

func (f *faultyStore) UpsertBalance(ctx context.Context, key consigne.BalanceKey, value decimal.Decimal) error {
	if f.failUpsert {
		return errStoreDown
	}
	return f.Store.UpsertBalance(ctx, key, value)
}

func TestRecalculate_ScanFailure_KeepsLastGoodValue(t *testing.T) {
	// GIVEN: A key with a persisted balance of 1000
	// WHEN: A later recalculation fails mid-scan
	// THEN: The error wraps ErrRecalculationFailed, is retryable, and the
	//       stored value is untouched
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, validated(caution("c1", 1000, at(0))))

	_, err := consigne.NewBalanceRecalculator(mem, nil).Recalculate(ctx, testKey)
	require.NoError(t, err)

	faulty := &faultyStore{Store: mem, failList: true}
	_, err = consigne.NewBalanceRecalculator(faulty, nil).Recalculate(ctx, testKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, consigne.ErrRecalculationFailed)
	assert.ErrorIs(t, err, errStoreDown)
	assert.True(t, consigne.IsRetryable(err))
	assert.False(t, consigne.IsRejection(err))

	stored, err := mem.Balance(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, stored.Equal(money(1000)), "stored = %s", stored)
}

func TestRecalculate_UpsertFailure_KeepsLastGoodValue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, validated(caution("c1", 1000, at(0))))

	_, err := consigne.NewBalanceRecalculator(mem, nil).Recalculate(ctx, testKey)
	require.NoError(t, err)

	seed(t, mem, validated(consignation("k1", 2, at(10))))

	faulty := &faultyStore{Store: mem, failUpsert: true}
	_, err = consigne.NewBalanceRecalculator(faulty, nil).Recalculate(ctx, testKey)
	assert.ErrorIs(t, err, consigne.ErrRecalculationFailed)

	stored, err := mem.Balance(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, stored.Equal(money(1000)), "stored = %s", stored)
}
