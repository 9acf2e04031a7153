// Package services orchestrates the tracker's use cases on top of a
// storage backend: validated writes, change events and cached analytics.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"fintrack/internal/amqp"
	"fintrack/internal/analytics"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

const (
	snapshotKey = "snapshot"

	defaultLoadTimeout = 10 * time.Second
)

// Publisher delivers change events. *amqp.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, ev *amqp.ChangeEvent) error
}

// Options tunes a FinanceService. The zero value disables caching.
type Options struct {
	CacheTTL time.Duration
	// LoadTimeout bounds a shared snapshot load, which runs detached from
	// the callers waiting on it. Defaults to 10s.
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// Snapshot is one consistent read of everything the analytics need.
type Snapshot struct {
	Transactions []core.Transaction
	Budget       core.Budget
	// BudgetAvailable is false when the budget read failed and the
	// analytics fell back to zero limits.
	BudgetAvailable bool
}

// Totals is the resolved per-category spending plus the grand total.
type Totals struct {
	ByCategory analytics.CategoryTotals
	Total      decimal.Decimal
}

// Stats exposes counters for the metrics endpoint.
type Stats struct {
	Cache           cache.Stats
	EventsPublished int64
	EventsFailed    int64
}

// FinanceService orchestrates transaction and budget operations across the
// store, the event publisher and the analytics cache.
type FinanceService struct {
	store     storage.Store
	registry  *core.Registry
	agg       *analytics.Aggregator
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	loadTimeout time.Duration
	snapshots   cache.Cache[Snapshot]
	// cacheMu orders cache fills against invalidation; generation counts
	// writes so a load that raced one is never cached.
	cacheMu    sync.Mutex
	generation atomic.Uint64
	group      singleflight.Group

	published atomic.Int64
	failed    atomic.Int64
}

// NewFinanceService wires a service. publisher may be nil, in which case
// change events are skipped.
func NewFinanceService(store storage.Store, agg *analytics.Aggregator, publisher Publisher, opts Options) *FinanceService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = defaultLoadTimeout
	}
	s := &FinanceService{
		store:       store,
		registry:    agg.Resolver().Registry(),
		agg:         agg,
		publisher:   publisher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		loadTimeout: loadTimeout,
	}
	if opts.CacheTTL > 0 {
		s.snapshots = cache.NewLRUCache[Snapshot](1, opts.CacheTTL)
	}
	return s
}

// Registry returns the category registry.
func (s *FinanceService) Registry() *core.Registry {
	return s.registry
}

// ResolveCategory maps a free-text label onto a registry category id.
func (s *FinanceService) ResolveCategory(label string) string {
	return s.agg.Resolver().Resolve(label)
}

// SnapshotCache returns the analytics cache for registration with a
// cleanup manager, or nil when caching is disabled.
func (s *FinanceService) SnapshotCache() cache.Cache[Snapshot] {
	return s.snapshots
}

func (s *FinanceService) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	txns, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (s *FinanceService) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// CreateTransaction assigns an id and timestamps, validates and stores t,
// then announces it. Publishing failures never fail the request.
func (s *FinanceService) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := s.now()
	t.ID = uuid.NewString()
	t.Description = strings.TrimSpace(t.Description)
	t.Category = strings.TrimSpace(t.Category)
	t.CreatedAt, t.UpdatedAt = now, now
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	created, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.invalidate()
	s.publish(ctx, amqp.TransactionCreated, created.ID)
	return created, nil
}

// UpdateTransaction applies a partial update: fields present in patch
// replace the stored ones.
func (s *FinanceService) UpdateTransaction(ctx context.Context, id string, patch core.TransactionPatch) (core.Transaction, error) {
	if patch.IsEmpty() {
		return core.Transaction{}, &core.ValidationError{Field: "body", Err: core.ErrEmptyPatch}
	}
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}

	next := patch.Apply(current)
	next.Description = strings.TrimSpace(next.Description)
	next.Category = strings.TrimSpace(next.Category)
	next.UpdatedAt = s.now()
	if err := next.Validate(); err != nil {
		return core.Transaction{}, err
	}

	updated, err := s.store.UpdateTransaction(ctx, next)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, err)
	}
	s.invalidate()
	s.publish(ctx, amqp.TransactionUpdated, id)
	return updated, nil
}

func (s *FinanceService) DeleteTransaction(ctx context.Context, id string) error {
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	s.invalidate()
	s.publish(ctx, amqp.TransactionDeleted, id)
	return nil
}

func (s *FinanceService) GetBudget(ctx context.Context) (core.Budget, error) {
	b, err := s.store.GetBudget(ctx)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

// SaveBudget replaces all limits. Categories missing from limits are reset
// to zero; unknown categories and negative limits are rejected.
func (s *FinanceService) SaveBudget(ctx context.Context, limits map[string]decimal.Decimal) (core.Budget, error) {
	normalized, err := core.NormalizeLimits(s.registry, limits)
	if err != nil {
		return core.Budget{}, err
	}
	b, err := s.store.SaveBudget(ctx, normalized)
	if err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}
	s.invalidate()
	s.publish(ctx, amqp.BudgetSaved, core.BudgetKey)
	return b, nil
}

// Snapshot returns transactions and budget, served from cache when fresh.
// Concurrent misses share one load. The load is detached from ctx so a
// caller that gives up does not fail the others; each caller still stops
// waiting when its own ctx is done.
func (s *FinanceService) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.snapshots != nil {
		if snap, ok := s.snapshots.Get(snapshotKey); ok {
			return snap, nil
		}
	}

	// Keyed by generation: a read issued after a write never joins a load
	// that started before it.
	gen := s.generation.Load()
	key := fmt.Sprintf("%s-%d", snapshotKey, gen)
	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		snap, err := s.loadSnapshot(loadCtx)
		if err != nil {
			return Snapshot{}, err
		}
		s.fill(gen, snap)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

// fill caches snap unless a write happened since gen was read.
func (s *FinanceService) fill(gen uint64, snap Snapshot) {
	if s.snapshots == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generation.Load() == gen {
		s.snapshots.Set(snapshotKey, snap)
	}
}

func (s *FinanceService) loadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		txns, err := s.store.ListTransactions(gctx)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		snap.Transactions = txns
		return nil
	})
	g.Go(func() error {
		b, err := s.store.GetBudget(gctx)
		if err != nil {
			// Analytics still work without limits
			s.logger.WarnContext(ctx, "Budget unavailable, using zero limits", "error", err)
			snap.Budget = core.Budget{ID: core.BudgetKey, Limits: core.ZeroLimits(s.registry)}
			return nil
		}
		snap.Budget, snap.BudgetAvailable = b, true
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *FinanceService) Totals(ctx context.Context) (Totals, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Totals{}, err
	}
	return Totals{
		ByCategory: s.agg.CategoryTotals(snap.Transactions),
		Total:      s.agg.TotalExpenses(snap.Transactions),
	}, nil
}

func (s *FinanceService) Insights(ctx context.Context) ([]analytics.Insight, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.agg.Insights(snap.Transactions, snap.Budget.Limits), nil
}

func (s *FinanceService) TopCategories(ctx context.Context, n int) ([]analytics.LabelTotal, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.agg.TopCategories(snap.Transactions, n), nil
}

func (s *FinanceService) Breakdown(ctx context.Context) ([]analytics.CategoryShare, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.agg.Breakdown(snap.Transactions), nil
}

func (s *FinanceService) Comparison(ctx context.Context) ([]analytics.BudgetLine, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.agg.Compare(snap.Transactions, snap.Budget.Limits), nil
}

func (s *FinanceService) Dashboard(ctx context.Context) (analytics.Dashboard, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return analytics.Dashboard{}, err
	}
	return s.agg.Summarize(snap.Transactions, snap.Budget.Limits), nil
}

// Ping checks the backing store.
func (s *FinanceService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Stats returns cache and event counters.
func (s *FinanceService) Stats() Stats {
	st := Stats{
		EventsPublished: s.published.Load(),
		EventsFailed:    s.failed.Load(),
	}
	if s.snapshots != nil {
		st.Cache = s.snapshots.Stats()
	}
	return st
}

func (s *FinanceService) invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.generation.Add(1)
	if s.snapshots != nil {
		s.snapshots.Delete(snapshotKey)
	}
}

func (s *FinanceService) publish(ctx context.Context, t amqp.EventType, id string) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "Event publishing disabled, skipping change event", applog.FieldEventType, t, "id", id)
		return
	}
	if err := s.publisher.Publish(ctx, amqp.NewChangeEvent(t, id)); err != nil {
		s.failed.Add(1)
		// Don't fail the request, the write is already stored
		s.logger.ErrorContext(ctx, "Failed to publish change event",
			applog.FieldOperation, applog.OpPublish,
			applog.FieldEventType, t,
			"id", id,
			applog.FieldError, err)
		return
	}
	s.published.Add(1)
}

// Close closes the store and, when it holds resources, the publisher.
func (s *FinanceService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if closer, ok := s.publisher.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close finance service: %w", err)
	}
	return nil
}
