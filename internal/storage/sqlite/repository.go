// Package sqlite is the single-file SQL backend built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Repository struct {
	db       *sql.DB
	registry *core.Registry
}

func NewRepository(dbPath string, reg *core.Registry) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time keeps SQLite free of SQLITE_BUSY under load
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, registry: reg}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const selectTransaction = `SELECT id, amount, description, category, date, created_at, updated_at FROM transactions`

func (r *Repository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, selectTransaction+` ORDER BY date DESC, created_at DESC`)
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
	row := r.db.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, err
}

func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, amount, description, category, date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Amount.String(), t.Description, t.Category, t.Date.String(),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"amount", t.Amount.String(),
		"category", t.Category,
		"date", t.Date.String())

	return t, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET amount = ?, description = ?, category = ?, date = ?, updated_at = ?
		 WHERE id = ?`,
		t.Amount.String(), t.Description, t.Category, t.Date.String(), formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Transaction{}, core.ErrNotFound
	}
	return r.GetTransaction(ctx, t.ID)
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Transaction deleted from SQLite", "id", id)
	return nil
}

func (r *Repository) GetBudget(ctx context.Context) (core.Budget, error) {
	zero, err := json.Marshal(core.ZeroLimits(r.registry))
	if err != nil {
		return core.Budget{}, fmt.Errorf("encode limits: %w", err)
	}
	now := formatTime(time.Now())
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, limits, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		core.BudgetKey, string(zero), now, now); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return r.readBudget(ctx)
}

func (r *Repository) SaveBudget(ctx context.Context, limits map[string]decimal.Decimal) (core.Budget, error) {
	b, err := json.Marshal(limits)
	if err != nil {
		return core.Budget{}, fmt.Errorf("encode limits: %w", err)
	}
	now := formatTime(time.Now())
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, limits, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET limits = excluded.limits, updated_at = excluded.updated_at`,
		core.BudgetKey, string(b), now, now); err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget saved to SQLite", "categories", len(limits))

	return r.readBudget(ctx)
}

func (r *Repository) readBudget(ctx context.Context) (core.Budget, error) {
	var (
		limits, created, updated string
		b                        = core.Budget{ID: core.BudgetKey}
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT limits, created_at, updated_at FROM budgets WHERE id = ?`, core.BudgetKey).
		Scan(&limits, &created, &updated)
	if err != nil {
		return core.Budget{}, fmt.Errorf("read budget: %w", err)
	}
	if err := json.Unmarshal([]byte(limits), &b.Limits); err != nil {
		return core.Budget{}, fmt.Errorf("decode limits: %w", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return core.Budget{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Budget{}, err
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		t                               core.Transaction
		amount, date, created, updated string
	)
	if err := s.Scan(&t.ID, &amount, &t.Description, &t.Category, &date, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, err
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
