/*
service_test.go - End-to-end lifecycle tests over the in-memory store

Tests for:
- The full deposit → consignation → deconsignation flow
- Immutability of validated operations
- Optimistic version conflicts on draft edits
- Per-key serialization: concurrent validations cannot both pass
*/
package consigne_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palletdesk/consigne-engine/consigne"
	"github.com/palletdesk/consigne-engine/consigne/store"
)

func newTestService() *consigne.Service {
	return consigne.NewService(store.NewMemory(), nil)
}

// validateNew drives an operation through create + validate and returns
// the validated record and the recalculated balance.
func validateNew(ctx context.Context, svc *consigne.Service, op consigne.Operation) (consigne.Operation, decimal.Decimal, error) {
	created, err := svc.Create(ctx, op)
	if err != nil {
		return consigne.Operation{}, decimal.Zero, err
	}
	return svc.Validate(ctx, created.Kind, created.ID)
}

// =============================================================================
// FULL SCENARIO
// =============================================================================

func TestService_DepositAndConsignationFlow(t *testing.T) {
	// GIVEN: A fresh account
	// WHEN: caution 1000 validates, then consignation 3 validates
	// THEN: The balance goes 1000 → 700; a consignation of 8 is rejected
	//       (missing 100) while a consignation of 7 drains it to zero
	ctx := context.Background()
	svc := newTestService()

	_, balance, err := validateNew(ctx, svc, caution("", 1000, at(0)))
	require.NoError(t, err)
	assert.True(t, balance.Equal(money(1000)))

	_, balance, err = validateNew(ctx, svc, consignation("", 3, at(10)))
	require.NoError(t, err)
	assert.True(t, balance.Equal(money(700)), "balance = %s", balance)

	_, err = svc.Create(ctx, consignation("", 8, at(20)))
	require.Error(t, err)
	var rejection *consigne.InsufficientBalanceError
	require.ErrorAs(t, err, &rejection)
	assert.True(t, rejection.Missing.Equal(money(100)), "missing = %s", rejection.Missing)

	_, balance, err = validateNew(ctx, svc, consignation("", 7, at(30)))
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "balance = %s", balance)
}

func TestService_DeconsignationFlow(t *testing.T) {
	// GIVEN: caution 1000 and consignation 10 validated (balance 0)
	// WHEN: A deconsignation of 4 returned / 4 requested / 4 released
	//       validates
	// THEN: The balance credits to 400 and the row is persisted
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 1000, at(0)))
	require.NoError(t, err)
	_, _, err = validateNew(ctx, svc, consignation("", 10, at(10)))
	require.NoError(t, err)

	_, balance, err := validateNew(ctx, svc, deconsignation("", 4, 4, 4, at(20)))
	require.NoError(t, err)
	assert.True(t, balance.Equal(money(400)), "balance = %s", balance)

	stored, err := svc.Balance(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, stored.Equal(money(400)))
}

func TestService_DraftCreation_DoesNotMoveBalance(t *testing.T) {
	// GIVEN: A validated caution of 1000
	// WHEN: A consignation draft is created but not validated
	// THEN: The stored balance is unchanged
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 1000, at(0)))
	require.NoError(t, err)

	_, err = svc.Create(ctx, consignation("", 3, at(10)))
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, balance.Equal(money(1000)))
}

// =============================================================================
// IMMUTABILITY
// =============================================================================

func TestService_Validate_Twice_Immutable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	op, _, err := validateNew(ctx, svc, caution("", 500, at(0)))
	require.NoError(t, err)

	_, _, err = svc.Validate(ctx, op.Kind, op.ID)
	assert.ErrorIs(t, err, consigne.ErrOperationImmutable)
}

func TestService_Update_Validated_Immutable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	op, _, err := validateNew(ctx, svc, caution("", 500, at(0)))
	require.NoError(t, err)

	edit := op
	edit.Amount = money(999)
	_, err = svc.Update(ctx, edit)
	assert.ErrorIs(t, err, consigne.ErrOperationImmutable)
}

func TestService_Delete_Validated_Immutable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	op, _, err := validateNew(ctx, svc, caution("", 500, at(0)))
	require.NoError(t, err)

	err = svc.Delete(ctx, op.Kind, op.ID)
	assert.ErrorIs(t, err, consigne.ErrOperationImmutable)

	_, err = svc.Get(ctx, op.Kind, op.ID)
	assert.NoError(t, err, "validated operation must survive the delete attempt")
}

func TestService_Delete_Draft_Succeeds(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	op, err := svc.Create(ctx, caution("", 500, at(0)))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, op.Kind, op.ID))

	_, err = svc.Get(ctx, op.Kind, op.ID)
	assert.True(t, consigne.IsNotFound(err))
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

func TestService_Update_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: A draft edited once (version 1 → 2)
	// WHEN: A second edit still carries version 1
	// THEN: ErrConcurrentModification
	ctx := context.Background()
	svc := newTestService()

	op, err := svc.Create(ctx, caution("", 500, at(0)))
	require.NoError(t, err)
	require.Equal(t, 1, op.Version)

	edit := op
	edit.Amount = money(600)
	updated, err := svc.Update(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	stale := op
	stale.Amount = money(700)
	_, err = svc.Update(ctx, stale)
	assert.ErrorIs(t, err, consigne.ErrConcurrentModification)
	assert.True(t, consigne.IsRetryable(err))
}

func TestService_Update_RerunsAdmission(t *testing.T) {
	// GIVEN: A draft consignation of 3 against a balance of 700
	// WHEN: The draft is edited to 8 pallets
	// THEN: The edit is rejected even though the original passed
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 700, at(0)))
	require.NoError(t, err)

	op, err := svc.Create(ctx, consignation("", 3, at(10)))
	require.NoError(t, err)

	edit := op
	edit.PalletsOut = 8
	_, err = svc.Update(ctx, edit)
	assert.ErrorIs(t, err, consigne.ErrInsufficientBalance)
}

// =============================================================================
// PER-KEY SERIALIZATION
// =============================================================================

func TestService_ConcurrentValidations_OnlyOnePasses(t *testing.T) {
	// GIVEN: A balance of 700 and two drafts each consigning 7 pallets
	// WHEN: Both validate concurrently
	// THEN: Exactly one succeeds; the loser sees insufficient balance and
	//       the final balance is zero, never negative
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 700, at(0)))
	require.NoError(t, err)

	first, err := svc.Create(ctx, consignation("", 7, at(10)))
	require.NoError(t, err)
	second, err := svc.Create(ctx, consignation("", 7, at(20)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, op := range []consigne.Operation{first, second} {
		wg.Add(1)
		go func(i int, op consigne.Operation) {
			defer wg.Done()
			_, _, errs[i] = svc.Validate(ctx, op.Kind, op.ID)
		}(i, op)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, consigne.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, failures, "exactly one validation must lose")

	balance, err := svc.Balance(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "balance = %s", balance)
}

// =============================================================================
// READS
// =============================================================================

func TestService_Operations_MergedChronologically(t *testing.T) {
	// GIVEN: Validated operations of three kinds plus one draft
	// WHEN: The full history is listed
	// THEN: All records appear ordered by CreatedAt, drafts included
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 1000, at(0)))
	require.NoError(t, err)
	_, _, err = validateNew(ctx, svc, consignation("", 3, at(10)))
	require.NoError(t, err)
	_, err = svc.Create(ctx, restitution("", 100, at(20)))
	require.NoError(t, err)

	all, err := svc.Operations(ctx, testKey, consigne.AnyStatus)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, consigne.KindCaution, all[0].Kind)
	assert.Equal(t, consigne.KindConsignation, all[1].Kind)
	assert.Equal(t, consigne.KindRestitution, all[2].Kind)

	validatedOnly, err := svc.Operations(ctx, testKey, consigne.ValidatedOnly)
	require.NoError(t, err)
	assert.Len(t, validatedOnly, 2)
}

func TestService_Statement_ForStoredOperation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 1000, at(0)))
	require.NoError(t, err)
	op, _, err := validateNew(ctx, svc, consignation("", 3, at(10)))
	require.NoError(t, err)

	window, err := svc.Statement(ctx, op.Kind, op.ID)
	require.NoError(t, err)
	assert.True(t, window.Before.Equal(money(1000)))
	assert.True(t, window.After.Equal(money(700)))
}

func TestService_Recalculate_OnDemand(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, _, err := validateNew(ctx, svc, caution("", 1000, at(0)))
	require.NoError(t, err)

	value, err := svc.Recalculate(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, value.Equal(money(1000)))
}
