package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/amqp"
	"fintrack/internal/analytics"
	"fintrack/internal/core"
	"fintrack/internal/storage"
	"fintrack/internal/storage/memory"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []amqp.ChangeEvent
	err    error
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, ev *amqp.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *ev)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func (p *fakePublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// countingStore counts list calls and can fail budget reads.
type countingStore struct {
	storage.Store
	mu        sync.Mutex
	lists     int
	budgetErr error
}

func (s *countingStore) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	s.lists++
	s.mu.Unlock()
	return s.Store.ListTransactions(ctx)
}

func (s *countingStore) GetBudget(ctx context.Context) (core.Budget, error) {
	if s.budgetErr != nil {
		return core.Budget{}, s.budgetErr
	}
	return s.Store.GetBudget(ctx)
}

func (s *countingStore) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func newTestService(t *testing.T, ttl time.Duration) (*FinanceService, *countingStore, *fakePublisher) {
	t.Helper()
	reg := core.DefaultRegistry()
	store := &countingStore{Store: memory.New(reg)}
	pub := &fakePublisher{}
	agg := analytics.NewAggregator(analytics.NewResolver(reg, nil))
	return NewFinanceService(store, agg, pub, Options{CacheTTL: ttl}), store, pub
}

func newTxn(amount, category, date string) core.Transaction {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Transaction{
		Amount:      decimal.RequireFromString(amount),
		Description: "  lunch  ",
		Category:    category,
		Date:        d,
	}
}

func TestCreateTransaction(t *testing.T) {
	svc, _, pub := newTestService(t, 0)
	ctx := context.Background()

	created, err := svc.CreateTransaction(ctx, newTxn("12.50", "food", "2024-05-01"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "lunch", created.Description)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.Equal(t, []amqp.EventType{amqp.TransactionCreated}, pub.types())

	got, err := svc.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateTransaction_Invalid(t *testing.T) {
	svc, _, pub := newTestService(t, 0)

	_, err := svc.CreateTransaction(context.Background(), newTxn("0", "food", "2024-05-01"))

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)
	assert.Empty(t, pub.types())
}

func TestCreateTransaction_PublishFailureDoesNotFail(t *testing.T) {
	svc, _, pub := newTestService(t, 0)
	pub.err = errors.New("broker down")

	_, err := svc.CreateTransaction(context.Background(), newTxn("5", "food", "2024-05-01"))
	require.NoError(t, err)

	st := svc.Stats()
	assert.EqualValues(t, 0, st.EventsPublished)
	assert.EqualValues(t, 1, st.EventsFailed)
}

func TestCreateTransaction_NilPublisher(t *testing.T) {
	reg := core.DefaultRegistry()
	svc := NewFinanceService(memory.New(reg), analytics.NewAggregator(analytics.NewResolver(reg, nil)), nil, Options{})

	_, err := svc.CreateTransaction(context.Background(), newTxn("5", "food", "2024-05-01"))
	require.NoError(t, err)
	assert.NoError(t, svc.Close())
}

func TestUpdateTransaction(t *testing.T) {
	svc, _, pub := newTestService(t, 0)
	ctx := context.Background()
	created, err := svc.CreateTransaction(ctx, newTxn("10", "food", "2024-05-01"))
	require.NoError(t, err)

	amount := decimal.RequireFromString("42.10")
	updated, err := svc.UpdateTransaction(ctx, created.ID, core.TransactionPatch{Amount: &amount})
	require.NoError(t, err)

	assert.True(t, amount.Equal(updated.Amount))
	assert.Equal(t, created.Description, updated.Description)
	assert.Equal(t, created.Category, updated.Category)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))
	assert.Equal(t, []amqp.EventType{amqp.TransactionCreated, amqp.TransactionUpdated}, pub.types())
}

func TestUpdateTransaction_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	ctx := context.Background()
	created, err := svc.CreateTransaction(ctx, newTxn("10", "food", "2024-05-01"))
	require.NoError(t, err)

	t.Run("empty patch", func(t *testing.T) {
		_, err := svc.UpdateTransaction(ctx, created.ID, core.TransactionPatch{})
		assert.ErrorIs(t, err, core.ErrEmptyPatch)
	})

	t.Run("unknown id", func(t *testing.T) {
		desc := "x"
		_, err := svc.UpdateTransaction(ctx, "missing", core.TransactionPatch{Description: &desc})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("invalid result", func(t *testing.T) {
		negative := decimal.RequireFromString("-1")
		_, err := svc.UpdateTransaction(ctx, created.ID, core.TransactionPatch{Amount: &negative})
		assert.ErrorIs(t, err, core.ErrInvalidAmount)

		got, err := svc.GetTransaction(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(10)), "stored amount must be unchanged")
	})
}

func TestDeleteTransaction(t *testing.T) {
	svc, _, pub := newTestService(t, 0)
	ctx := context.Background()
	created, err := svc.CreateTransaction(ctx, newTxn("10", "food", "2024-05-01"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTransaction(ctx, created.ID))
	assert.ErrorIs(t, svc.DeleteTransaction(ctx, created.ID), core.ErrNotFound)
	_, err = svc.GetTransaction(ctx, created.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, []amqp.EventType{amqp.TransactionCreated, amqp.TransactionDeleted}, pub.types())
}

func TestSaveBudget(t *testing.T) {
	svc, _, pub := newTestService(t, 0)
	ctx := context.Background()

	b, err := svc.SaveBudget(ctx, map[string]decimal.Decimal{"food": decimal.NewFromInt(300)})
	require.NoError(t, err)
	assert.True(t, b.Limit("food").Equal(decimal.NewFromInt(300)))
	assert.True(t, b.Limit("transport").IsZero())
	assert.Len(t, b.Limits, svc.Registry().Len())

	// Full replace: food is reset when absent from the next payload
	b, err = svc.SaveBudget(ctx, map[string]decimal.Decimal{"transport": decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.True(t, b.Limit("food").IsZero())
	assert.True(t, b.Limit("transport").Equal(decimal.NewFromInt(50)))

	assert.Equal(t, []amqp.EventType{amqp.BudgetSaved, amqp.BudgetSaved}, pub.types())
}

func TestSaveBudget_Rejects(t *testing.T) {
	svc, _, pub := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.SaveBudget(ctx, map[string]decimal.Decimal{"groceries": decimal.NewFromInt(1)})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"groceries"}, verr.Values)
	assert.ErrorIs(t, err, core.ErrUnknownCategory)

	_, err = svc.SaveBudget(ctx, map[string]decimal.Decimal{"food": decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, core.ErrNegativeLimit)

	b, err := svc.GetBudget(ctx)
	require.NoError(t, err)
	for id, l := range b.Limits {
		assert.True(t, l.IsZero(), "limit %s must stay zero", id)
	}
	assert.Empty(t, pub.types())
}

func TestAnalytics(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	ctx := context.Background()

	for _, tr := range []core.Transaction{
		newTxn("150", "food", "2024-05-01"),
		newTxn("50", "Groceries food", "2024-05-02"),
		newTxn("30", "transport", "2024-05-03"),
	} {
		_, err := svc.CreateTransaction(ctx, tr)
		require.NoError(t, err)
	}
	_, err := svc.SaveBudget(ctx, map[string]decimal.Decimal{
		"food":      decimal.NewFromInt(200),
		"transport": decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200", totals.ByCategory.Get("food").String())
	assert.Equal(t, "230", totals.Total.String())

	insights, err := svc.Insights(ctx)
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, analytics.StatusWarning, insights[0].Status)
	assert.Equal(t, analytics.StatusGood, insights[1].Status)

	top, err := svc.TopCategories(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "food", top[0].Label)

	breakdown, err := svc.Breakdown(ctx)
	require.NoError(t, err)
	assert.Len(t, breakdown, svc.Registry().Len())

	comparison, err := svc.Comparison(ctx)
	require.NoError(t, err)
	assert.Len(t, comparison, svc.Registry().Len())

	dash, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dash.Transactions)
	assert.Len(t, dash.Recent, 3)
	assert.Equal(t, "2024-05-03", dash.Recent[0].Date.String())
}

func TestAnalytics_BudgetFailureDegrades(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	ctx := context.Background()
	_, err := svc.CreateTransaction(ctx, newTxn("10", "food", "2024-05-01"))
	require.NoError(t, err)

	store.budgetErr = errors.New("budget table locked")

	snap, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.BudgetAvailable)
	assert.Len(t, snap.Transactions, 1)

	insights, err := svc.Insights(ctx)
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestSnapshot_Cache(t *testing.T) {
	svc, store, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	_, err = svc.Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls(), "second read must be served from cache")

	_, err = svc.CreateTransaction(ctx, newTxn("10", "food", "2024-05-01"))
	require.NoError(t, err)

	dash, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls(), "writes must invalidate the cache")
	assert.Equal(t, 1, dash.Transactions)

	st := svc.Stats()
	assert.EqualValues(t, 1, st.Cache.Hits)
}

func TestSnapshot_NoCache(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	_, err = svc.Dashboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, store.listCalls())
	assert.Nil(t, svc.SnapshotCache())
}

// gatedStore lists, then holds the result until release is closed or its
// ctx is done.
type gatedStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(reg *core.Registry) *gatedStore {
	return &gatedStore{
		Store:   memory.New(reg),
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (s *gatedStore) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	txns, err := s.Store.ListTransactions(ctx)
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return txns, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newGatedService(t *testing.T, opts Options) (*FinanceService, *gatedStore) {
	t.Helper()
	reg := core.DefaultRegistry()
	store := newGatedStore(reg)
	svc := NewFinanceService(store, analytics.NewAggregator(analytics.NewResolver(reg, nil)), nil, opts)
	return svc, store
}

func waitEntered(t *testing.T, s *gatedStore) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("load never reached the store")
	}
}

type snapshotResult struct {
	snap Snapshot
	err  error
}

func TestSnapshot_CancelledCallerDoesNotFailOthers(t *testing.T) {
	svc, store := newGatedService(t, Options{CacheTTL: time.Minute})

	ctxA, cancelA := context.WithCancel(context.Background())
	resA := make(chan snapshotResult, 1)
	go func() {
		snap, err := svc.Snapshot(ctxA)
		resA <- snapshotResult{snap, err}
	}()
	waitEntered(t, store)

	resB := make(chan snapshotResult, 1)
	go func() {
		snap, err := svc.Snapshot(context.Background())
		resB <- snapshotResult{snap, err}
	}()
	// Give B time to join the load A started.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case r := <-resA:
		assert.ErrorIs(t, r.err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	select {
	case r := <-resB:
		t.Fatalf("other caller finished early with err=%v", r.err)
	default:
	}

	close(store.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, core.BudgetKey, r.snap.Budget.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("other caller never got the snapshot")
	}

	// The detached load still filled the cache.
	_, ok := svc.SnapshotCache().Get(snapshotKey)
	assert.True(t, ok)
}

func TestSnapshot_LoadTimeout(t *testing.T) {
	svc, store := newGatedService(t, Options{LoadTimeout: 20 * time.Millisecond})

	_, err := svc.Snapshot(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	waitEntered(t, store)
}

func TestSnapshot_WriteDuringLoadIsNotCached(t *testing.T) {
	svc, store := newGatedService(t, Options{CacheTTL: time.Minute})
	ctx := context.Background()

	stale := make(chan snapshotResult, 1)
	go func() {
		snap, err := svc.Snapshot(ctx)
		stale <- snapshotResult{snap, err}
	}()
	waitEntered(t, store)

	_, err := svc.CreateTransaction(ctx, newTxn("10", "food", "2024-05-01"))
	require.NoError(t, err)

	// A read after the write starts its own load instead of joining the old one.
	fresh := make(chan snapshotResult, 1)
	go func() {
		snap, err := svc.Snapshot(ctx)
		fresh <- snapshotResult{snap, err}
	}()
	waitEntered(t, store)
	close(store.release)

	r := <-stale
	require.NoError(t, r.err)
	assert.Empty(t, r.snap.Transactions)

	r = <-fresh
	require.NoError(t, r.err)
	assert.Len(t, r.snap.Transactions, 1)

	cached, ok := svc.SnapshotCache().Get(snapshotKey)
	require.True(t, ok)
	assert.Len(t, cached.Transactions, 1, "the stale load must not overwrite the cache")
}

func TestInvalidateDropsCachedSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, svc.SnapshotCache().Size())

	svc.invalidate()
	assert.Equal(t, 0, svc.SnapshotCache().Size())

	// A fill for a generation that has moved on is ignored.
	svc.fill(svc.generation.Load()-1, Snapshot{})
	assert.Equal(t, 0, svc.SnapshotCache().Size())
}

func TestClose(t *testing.T) {
	svc, _, pub := newTestService(t, 0)

	require.NoError(t, svc.Close())
	assert.True(t, pub.closed)
}
