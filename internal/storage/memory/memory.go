// Package memory is an in-process backend for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

type Store struct {
	mu       sync.RWMutex
	registry *core.Registry
	items    map[string]core.Transaction
	budget   *core.Budget
	now      func() time.Time
}

func New(reg *core.Registry) *Store {
	return &Store{
		registry: reg,
		items:    make(map[string]core.Transaction),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type seedTransaction struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Date        core.Date       `json:"date"`
}

type seedFile struct {
	Transactions []seedTransaction         `json:"transactions"`
	Budget       map[string]decimal.Decimal `json:"budget"`
}

// NewFromFile builds a store pre-loaded from a JSON seed file. A missing
// file yields an empty store.
func NewFromFile(path string, reg *core.Registry) (*Store, error) {
	s := New(reg)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	ctx := context.Background()
	for i, st := range seed.Transactions {
		t := core.Transaction{
			ID:          uuid.NewString(),
			Amount:      st.Amount,
			Description: st.Description,
			Category:    st.Category,
			Date:        st.Date,
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("seed transaction %d: %w", i, err)
		}
		if _, err := s.CreateTransaction(ctx, t); err != nil {
			return nil, err
		}
	}
	if seed.Budget != nil {
		limits, err := core.NormalizeLimits(reg, seed.Budget)
		if err != nil {
			return nil, fmt.Errorf("seed budget: %w", err)
		}
		if _, err := s.SaveBudget(ctx, limits); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ListTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.RLock()
	out := make([]core.Transaction, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t)
	}
	s.mu.RUnlock()
	core.SortNewestFirst(out)
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, nil
}

func (s *Store) CreateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, dup := s.items[t.ID]; dup {
		return core.Transaction{}, fmt.Errorf("transaction %s already exists", t.ID)
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	s.items[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[t.ID]
	if !ok {
		return core.Transaction{}, core.ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	s.items[t.ID] = t
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) GetBudget(_ context.Context) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget == nil {
		now := s.now()
		s.budget = &core.Budget{
			ID:        core.BudgetKey,
			Limits:    core.ZeroLimits(s.registry),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return copyBudget(*s.budget), nil
}

func (s *Store) SaveBudget(_ context.Context, limits map[string]decimal.Decimal) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.budget == nil {
		s.budget = &core.Budget{ID: core.BudgetKey, CreatedAt: now}
	}
	s.budget.Limits = copyLimits(limits)
	s.budget.UpdatedAt = now
	return copyBudget(*s.budget), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copyBudget(b core.Budget) core.Budget {
	b.Limits = copyLimits(b.Limits)
	return b
}

func copyLimits(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
