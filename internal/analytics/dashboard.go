package analytics

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const (
	DashboardTopCategories = 3
	DashboardRecent        = 3
)

// Dashboard is the one-shot summary rendered on the landing view.
type Dashboard struct {
	TotalExpenses decimal.Decimal
	Transactions  int
	TopCategories []LabelTotal
	Recent        []core.Transaction
	Breakdown     []CategoryShare
	Comparison    []BudgetLine
	Insights      []Insight
}

// Summarize builds every dashboard view from one snapshot of the data.
func (a *Aggregator) Summarize(txns []core.Transaction, budgets map[string]decimal.Decimal) Dashboard {
	return Dashboard{
		TotalExpenses: a.TotalExpenses(txns),
		Transactions:  len(txns),
		TopCategories: a.TopCategories(txns, DashboardTopCategories),
		Recent:        a.Recent(txns, DashboardRecent),
		Breakdown:     a.Breakdown(txns),
		Comparison:    a.Compare(txns, budgets),
		Insights:      a.Insights(txns, budgets),
	}
}
