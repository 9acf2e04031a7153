// Package sheets defines the spreadsheet mirror the worker keeps in sync
// with the primary store. The store stays the source of truth; the mirror
// is a read-only copy for people who live in spreadsheets.
package sheets

import (
	"context"
	"time"

	"fintrack/internal/analytics"
	"fintrack/internal/core"
)

// TransactionRow is one transaction as written to the transactions tab.
// Every cell is preformatted text.
type TransactionRow struct {
	ID          string
	Date        string
	Description string
	Category    string
	CategoryID  string
	Amount      string
	UpdatedAt   string
}

// BudgetRow is one category line of the budget tab.
type BudgetRow struct {
	CategoryID string
	Name       string
	Limit      string
	Spent      string
	Status     string
}

// TransactionWriter upserts and removes single transaction rows.
type TransactionWriter interface {
	UpsertTransaction(ctx context.Context, row TransactionRow) error
	DeleteTransaction(ctx context.Context, id string) error
}

// Mirror is the full write surface of a spreadsheet mirror.
type Mirror interface {
	TransactionWriter
	ReplaceTransactions(ctx context.Context, rows []TransactionRow) error
	WriteBudget(ctx context.Context, rows []BudgetRow) error
}

// NewTransactionRow formats t for the mirror. categoryID is the resolved
// registry id, kept next to the raw label so sheet formulas can group on it.
func NewTransactionRow(t core.Transaction, categoryID string) TransactionRow {
	return TransactionRow{
		ID:          t.ID,
		Date:        t.Date.String(),
		Description: t.Description,
		Category:    t.Category,
		CategoryID:  categoryID,
		Amount:      t.Amount.StringFixed(2),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// NewBudgetRows builds one row per comparison line, in registry order.
// Status comes from the matching insight; categories without a positive
// budget have none and are left blank.
func NewBudgetRows(lines []analytics.BudgetLine, insights []analytics.Insight) []BudgetRow {
	status := make(map[string]analytics.Status, len(insights))
	for _, in := range insights {
		status[in.CategoryID] = in.Status
	}
	rows := make([]BudgetRow, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, BudgetRow{
			CategoryID: l.Category.ID,
			Name:       l.Category.Name,
			Limit:      l.Budget.StringFixed(2),
			Spent:      l.Actual.StringFixed(2),
			Status:     string(status[l.Category.ID]),
		})
	}
	return rows
}
