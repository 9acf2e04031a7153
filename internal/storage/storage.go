// Package storage defines the persistence ports of the tracker. Backends
// live in the memory, sqlite and postgres subpackages.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// TransactionStore persists transactions. Get, Update and Delete return
// core.ErrNotFound for unknown ids. List returns newest first.
type TransactionStore interface {
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
}

// BudgetStore persists the single budget record stored under core.BudgetKey.
type BudgetStore interface {
	// GetBudget returns the budget, creating it with zero limits on first
	// read. Concurrent first reads create exactly one record.
	GetBudget(ctx context.Context) (core.Budget, error)
	// SaveBudget replaces the stored limits with the given map. Callers
	// pass limits already normalized against the registry.
	SaveBudget(ctx context.Context, limits map[string]decimal.Decimal) (core.Budget, error)
}

// Store is a complete backend.
type Store interface {
	TransactionStore
	BudgetStore
	Ping(ctx context.Context) error
	Close() error
}
