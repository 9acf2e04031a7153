// Package postgres is the PostgreSQL backend built on pgx/v5.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

type Repository struct {
	pool     *pgxpool.Pool
	registry *core.Registry
}

// NewRepository migrates the database at databaseURL and opens a pool on it.
func NewRepository(ctx context.Context, databaseURL string, reg *core.Registry) (*Repository, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool, registry: reg}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const selectTransaction = `SELECT id::text, amount::text, description, category, date::text, created_at, updated_at FROM transactions`

func (r *Repository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx, selectTransaction+` ORDER BY date DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, selectTransaction+` WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, err
}

func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transactions (id, amount, description, category, date, created_at, updated_at)
		 VALUES ($1::uuid, $2::numeric, $3, $4, $5::date, $6, $7)`,
		t.ID, t.Amount.String(), t.Description, t.Category, t.Date.String(), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to Postgres",
		"id", t.ID,
		"amount", t.Amount.String(),
		"category", t.Category,
		"date", t.Date.String())

	return r.GetTransaction(ctx, t.ID)
}

func (r *Repository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET amount = $2::numeric, description = $3, category = $4, date = $5::date, updated_at = $6
		 WHERE id::text = $1`,
		t.ID, t.Amount.String(), t.Description, t.Category, t.Date.String(), t.UpdatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.Transaction{}, core.ErrNotFound
	}
	return r.GetTransaction(ctx, t.ID)
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Transaction deleted from Postgres", "id", id)
	return nil
}

func (r *Repository) GetBudget(ctx context.Context) (core.Budget, error) {
	zero, err := json.Marshal(core.ZeroLimits(r.registry))
	if err != nil {
		return core.Budget{}, fmt.Errorf("encode limits: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO budgets (id, limits) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO NOTHING`,
		core.BudgetKey, string(zero)); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return r.readBudget(ctx)
}

func (r *Repository) SaveBudget(ctx context.Context, limits map[string]decimal.Decimal) (core.Budget, error) {
	b, err := json.Marshal(limits)
	if err != nil {
		return core.Budget{}, fmt.Errorf("encode limits: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO budgets (id, limits) VALUES ($1, $2::jsonb)
		 ON CONFLICT (id) DO UPDATE SET limits = EXCLUDED.limits, updated_at = now()`,
		core.BudgetKey, string(b)); err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget saved to Postgres", "categories", len(limits))

	return r.readBudget(ctx)
}

func (r *Repository) readBudget(ctx context.Context) (core.Budget, error) {
	var (
		limits string
		b      = core.Budget{ID: core.BudgetKey}
	)
	err := r.pool.QueryRow(ctx,
		`SELECT limits::text, created_at, updated_at FROM budgets WHERE id = $1`, core.BudgetKey).
		Scan(&limits, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return core.Budget{}, fmt.Errorf("read budget: %w", err)
	}
	if err := json.Unmarshal([]byte(limits), &b.Limits); err != nil {
		return core.Budget{}, fmt.Errorf("decode limits: %w", err)
	}
	return b, nil
}

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		t            core.Transaction
		amount, date string
		created      time.Time
		updated      time.Time
	)
	if err := row.Scan(&t.ID, &amount, &t.Description, &t.Category, &date, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan transaction: %w", err)
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if t.Date, err = core.ParseDate(date); err != nil {
		return t, err
	}
	t.CreatedAt, t.UpdatedAt = created.UTC(), updated.UTC()
	return t, nil
}
