package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"fintrack/internal/amqp"
	"fintrack/internal/analytics"
	"fintrack/internal/core"
	"fintrack/internal/services"
	"fintrack/internal/sheets"
	"fintrack/internal/storage/memory"
)

// fakeMirror records writes. upsertErrs are returned, in order, by the
// first upsert calls.
type fakeMirror struct {
	mu         sync.Mutex
	rows       map[string]sheets.TransactionRow
	order      []string
	budget     []sheets.BudgetRow
	upserts    int
	deletes    []string
	replaces   int
	budgets    int
	upsertErrs []error
	alwaysErr  error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{rows: make(map[string]sheets.TransactionRow)}
}

func (m *fakeMirror) UpsertTransaction(_ context.Context, row sheets.TransactionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.alwaysErr != nil {
		return m.alwaysErr
	}
	if len(m.upsertErrs) > 0 {
		err := m.upsertErrs[0]
		m.upsertErrs = m.upsertErrs[1:]
		return err
	}
	if _, ok := m.rows[row.ID]; !ok {
		m.order = append(m.order, row.ID)
	}
	m.rows[row.ID] = row
	return nil
}

func (m *fakeMirror) DeleteTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, id)
	delete(m.rows, id)
	return nil
}

func (m *fakeMirror) ReplaceTransactions(_ context.Context, rows []sheets.TransactionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	m.rows = make(map[string]sheets.TransactionRow, len(rows))
	m.order = m.order[:0]
	for _, r := range rows {
		m.rows[r.ID] = r
		m.order = append(m.order, r.ID)
	}
	return nil
}

func (m *fakeMirror) WriteBudget(_ context.Context, rows []sheets.BudgetRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets++
	m.budget = rows
	return nil
}

// mirrorState is a copy of what the fake has recorded.
type mirrorState struct {
	rows     map[string]sheets.TransactionRow
	order    []string
	budget   []sheets.BudgetRow
	upserts  int
	deletes  []string
	replaces int
	budgets  int
}

func (m *fakeMirror) snapshot() mirrorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make(map[string]sheets.TransactionRow, len(m.rows))
	for k, v := range m.rows {
		rows[k] = v
	}
	return mirrorState{
		rows:     rows,
		order:    append([]string(nil), m.order...),
		budget:   m.budget,
		upserts:  m.upserts,
		deletes:  append([]string(nil), m.deletes...),
		replaces: m.replaces,
		budgets:  m.budgets,
	}
}

type fixture struct {
	store  *memory.Store
	svc    *services.FinanceService
	mirror *fakeMirror
	worker *MirrorWorker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := core.DefaultRegistry()
	store := memory.New(reg)
	svc := services.NewFinanceService(store, analytics.NewAggregator(analytics.NewResolver(reg, nil)), nil, services.Options{})
	mirror := newFakeMirror()
	w := NewMirrorWorker(svc, mirror, Options{
		InitialInterval: time.Millisecond,
		MaxElapsed:      50 * time.Millisecond,
	})
	return &fixture{store: store, svc: svc, mirror: mirror, worker: w}
}

func (f *fixture) add(t *testing.T, id, amount, category string, day int) {
	t.Helper()
	now := time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC)
	_, err := f.store.CreateTransaction(context.Background(), core.Transaction{
		ID:          id,
		Amount:      decimal.RequireFromString(amount),
		Description: "txn " + id,
		Category:    category,
		Date:        core.NewDate(2024, 3, day),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)
}

func TestHandleEvent_CreatedUpsertsRowAndBudget(t *testing.T) {
	f := newFixture(t)
	f.add(t, "t1", "42.10", "Food", 3)
	_, err := f.store.SaveBudget(context.Background(), map[string]decimal.Decimal{"food": decimal.NewFromInt(50)})
	require.NoError(t, err)

	err = f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.TransactionCreated, "t1"))
	require.NoError(t, err)

	got := f.mirror.snapshot()
	require.Contains(t, got.rows, "t1")
	assert.Equal(t, "food", got.rows["t1"].CategoryID)
	assert.Equal(t, "42.10", got.rows["t1"].Amount)

	require.Len(t, got.budget, core.DefaultRegistry().Len())
	assert.Equal(t, sheets.BudgetRow{CategoryID: "food", Name: got.budget[0].Name, Limit: "50.00", Spent: "42.10", Status: "warning"}, got.budget[0])
	assert.Equal(t, int64(1), f.worker.Stats().Processed)
}

func TestHandleEvent_UpdatedButGoneDeletesRow(t *testing.T) {
	f := newFixture(t)

	err := f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.TransactionUpdated, "ghost"))
	require.NoError(t, err)

	got := f.mirror.snapshot()
	assert.Equal(t, []string{"ghost"}, got.deletes)
	assert.Zero(t, got.upserts)
}

func TestHandleEvent_Deleted(t *testing.T) {
	f := newFixture(t)

	err := f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.TransactionDeleted, "t1"))
	require.NoError(t, err)

	got := f.mirror.snapshot()
	assert.Equal(t, []string{"t1"}, got.deletes)
	assert.Equal(t, 1, got.budgets)
}

func TestHandleEvent_BudgetSavedOnlyRewritesBudget(t *testing.T) {
	f := newFixture(t)

	err := f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.BudgetSaved, core.BudgetKey))
	require.NoError(t, err)

	got := f.mirror.snapshot()
	assert.Zero(t, got.upserts)
	assert.Empty(t, got.deletes)
	assert.Equal(t, 1, got.budgets)
}

func TestHandleEvent_RetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	f.add(t, "t1", "5", "food", 1)
	f.mirror.upsertErrs = []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		&googleapi.Error{Code: http.StatusTooManyRequests},
	}

	err := f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.TransactionCreated, "t1"))
	require.NoError(t, err)

	got := f.mirror.snapshot()
	assert.Equal(t, 3, got.upserts)
	assert.Contains(t, got.rows, "t1")
}

func TestHandleEvent_PermanentErrorDropsEvent(t *testing.T) {
	f := newFixture(t)
	f.add(t, "t1", "5", "food", 1)
	f.mirror.alwaysErr = &googleapi.Error{Code: http.StatusForbidden, Message: "caller does not have permission"}

	err := f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.TransactionCreated, "t1"))
	require.NoError(t, err)

	got := f.mirror.snapshot()
	assert.Equal(t, 1, got.upserts, "permanent errors must not be retried")
	assert.Zero(t, got.budgets)
	assert.Equal(t, int64(1), f.worker.Stats().Dropped)
}

func TestHandleEvent_TransientErrorRequeues(t *testing.T) {
	f := newFixture(t)
	f.add(t, "t1", "5", "food", 1)
	f.mirror.alwaysErr = errors.New("connection reset")

	err := f.worker.HandleEvent(context.Background(), amqp.NewChangeEvent(amqp.TransactionCreated, "t1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	got := f.mirror.snapshot()
	assert.Greater(t, got.upserts, 1)
	assert.Equal(t, int64(1), f.worker.Stats().Failed)
}

func TestFullSync(t *testing.T) {
	f := newFixture(t)
	f.add(t, "old", "1", "transport", 1)
	f.add(t, "new", "2", "Entertainment", 9)
	f.add(t, "mid", "3", "mystery", 5)

	require.NoError(t, f.worker.FullSync(context.Background()))

	got := f.mirror.snapshot()
	assert.Equal(t, 1, got.replaces)
	assert.Equal(t, []string{"new", "mid", "old"}, got.order)
	assert.Equal(t, "entertainment", got.rows["new"].CategoryID)
	assert.Equal(t, core.FallbackCategoryID, got.rows["mid"].CategoryID)
	assert.Equal(t, 1, got.budgets)
	assert.Equal(t, int64(1), f.worker.Stats().FullSyncs)
}

// fakeConsumer delivers its events, then blocks until ctx is done.
type fakeConsumer struct {
	events  []*amqp.ChangeEvent
	handled chan error
}

func (c *fakeConsumer) Consume(ctx context.Context, handler func(context.Context, *amqp.ChangeEvent) error) error {
	for _, ev := range c.events {
		c.handled <- handler(ctx, ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	f.add(t, "t1", "10", "food", 2)

	consumer := &fakeConsumer{
		events:  []*amqp.ChangeEvent{amqp.NewChangeEvent(amqp.TransactionUpdated, "t1")},
		handled: make(chan error, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx, consumer) }()

	select {
	case err := <-consumer.handled:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not handled")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	stats := f.worker.Stats()
	assert.Equal(t, int64(1), stats.FullSyncs)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, true},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, true},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, false},
		{"server error", &googleapi.Error{Code: http.StatusInternalServerError}, false},
		{"wrapped", errors.Join(errors.New("update"), &googleapi.Error{Code: http.StatusForbidden}), true},
		{"plain", errors.New("timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPermanent(tt.err))
		})
	}
}
