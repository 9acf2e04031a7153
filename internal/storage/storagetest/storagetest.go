// Package storagetest holds the behavioural tests every storage backend
// must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Factory returns a fresh, empty store built over core.DefaultRegistry().
type Factory func(t *testing.T) storage.Store

// Run exercises the full storage contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateGetRoundTrip", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("UpdateTransaction", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("DeleteTransaction", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("BudgetLazyCreate", func(t *testing.T) { testBudgetLazyCreate(t, newStore(t)) })
	t.Run("BudgetConcurrentFirstRead", func(t *testing.T) { testBudgetConcurrent(t, newStore(t)) })
	t.Run("BudgetFullReplace", func(t *testing.T) { testBudgetReplace(t, newStore(t)) })
}

// NewTransaction returns a valid transaction with a fresh id.
func NewTransaction(amount, category string, date core.Date) core.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return core.Transaction{
		ID:          uuid.NewString(),
		Amount:      decimal.RequireFromString(amount),
		Description: "test " + category,
		Category:    category,
		Date:        date,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testCreateGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	in := NewTransaction("12.34", "Food & Dining", core.NewDate(2024, 3, 9))

	created, err := s.CreateTransaction(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in.ID, created.ID)

	got, err := s.GetTransaction(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, in.Amount.Equal(got.Amount), "amount %s", got.Amount)
	assert.Equal(t, in.Description, got.Description)
	assert.Equal(t, in.Category, got.Category)
	assert.Equal(t, "2024-03-09", got.Date.String())
	assert.True(t, in.CreatedAt.Equal(got.CreatedAt), "created %s vs %s", in.CreatedAt, got.CreatedAt)

	_, err = s.GetTransaction(ctx, uuid.NewString())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := NewTransaction("1", "food", core.NewDate(2024, 1, 1))
	newest := NewTransaction("2", "food", core.NewDate(2024, 2, 1))
	sameDayEarly := NewTransaction("3", "food", core.NewDate(2024, 1, 15))
	sameDayLate := NewTransaction("4", "food", core.NewDate(2024, 1, 15))
	sameDayLate.CreatedAt = sameDayEarly.CreatedAt.Add(time.Second)

	for _, tx := range []core.Transaction{old, sameDayEarly, newest, sameDayLate} {
		_, err := s.CreateTransaction(ctx, tx)
		require.NoError(t, err)
	}

	list, err := s.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	ids := []string{list[0].ID, list[1].ID, list[2].ID, list[3].ID}
	assert.Equal(t, []string{newest.ID, sameDayLate.ID, sameDayEarly.ID, old.ID}, ids)
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := NewTransaction("10", "food", core.NewDate(2024, 1, 1))
	_, err := s.CreateTransaction(ctx, tx)
	require.NoError(t, err)

	tx.Amount = decimal.RequireFromString("99.99")
	tx.Description = "changed"
	tx.UpdatedAt = tx.UpdatedAt.Add(time.Minute)
	updated, err := s.UpdateTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Description)

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("99.99")))
	assert.Equal(t, "changed", got.Description)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	missing := NewTransaction("1", "food", core.NewDate(2024, 1, 1))
	_, err = s.UpdateTransaction(ctx, missing)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := NewTransaction("10", "food", core.NewDate(2024, 1, 1))
	_, err := s.CreateTransaction(ctx, tx)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTransaction(ctx, tx.ID))
	_, err = s.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, tx.ID), core.ErrNotFound)
}

func testBudgetLazyCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	b, err := s.GetBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.BudgetKey, b.ID)
	for _, id := range core.DefaultRegistry().IDs() {
		assert.True(t, b.Limit(id).IsZero(), "category %s", id)
	}

	again, err := s.GetBudget(ctx)
	require.NoError(t, err)
	assert.True(t, b.CreatedAt.Equal(again.CreatedAt))
}

func testBudgetConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	created := make([]time.Time, 8)
	errs := make([]error, 8)
	for i := range created {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := s.GetBudget(ctx)
			created[i], errs[i] = b.CreatedAt, err
		}(i)
	}
	wg.Wait()
	for i := range created {
		require.NoError(t, errs[i])
		assert.True(t, created[0].Equal(created[i]), "budget created more than once")
	}
}

func testBudgetReplace(t *testing.T, s storage.Store) {
	ctx := context.Background()
	reg := core.DefaultRegistry()

	first, err := core.NormalizeLimits(reg, map[string]decimal.Decimal{
		"food":      decimal.RequireFromString("300"),
		"transport": decimal.RequireFromString("120.50"),
	})
	require.NoError(t, err)
	_, err = s.SaveBudget(ctx, first)
	require.NoError(t, err)

	second, err := core.NormalizeLimits(reg, map[string]decimal.Decimal{"health": decimal.RequireFromString("75")})
	require.NoError(t, err)
	saved, err := s.SaveBudget(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, core.BudgetKey, saved.ID)

	got, err := s.GetBudget(ctx)
	require.NoError(t, err)
	assert.True(t, got.Limit("health").Equal(decimal.RequireFromString("75")))
	assert.True(t, got.Limit("food").IsZero(), "food should be reset, got %s", got.Limit("food"))
	assert.True(t, got.Limit("transport").IsZero())
}
