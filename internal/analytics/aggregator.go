package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

var hundred = decimal.NewFromInt(100)

// CategoryTotals maps resolved category id to summed amount.
// A category with no transactions is absent and reads as zero.
type CategoryTotals map[string]decimal.Decimal

// Get returns the total for id, zero when absent.
func (t CategoryTotals) Get(id string) decimal.Decimal {
	if v, ok := t[id]; ok {
		return v
	}
	return decimal.Zero
}

// LabelTotal is a spending total keyed by the raw transaction label.
type LabelTotal struct {
	Label string
	Total decimal.Decimal
}

// CategoryShare is one slice of the category breakdown.
type CategoryShare struct {
	Category core.Category
	Total    decimal.Decimal
	Share    decimal.Decimal // percent of the grand total
}

// BudgetLine pairs a category's budget with its actual spending.
type BudgetLine struct {
	Category core.Category
	Budget   decimal.Decimal
	Actual   decimal.Decimal
}

// Aggregator computes read-only views over transactions.
type Aggregator struct {
	resolver *Resolver
	registry *core.Registry
}

func NewAggregator(resolver *Resolver) *Aggregator {
	return &Aggregator{resolver: resolver, registry: resolver.Registry()}
}

// Resolver returns the resolver shared by every view.
func (a *Aggregator) Resolver() *Resolver {
	return a.resolver
}

// CategoryTotals sums amounts per resolved category id.
func (a *Aggregator) CategoryTotals(txns []core.Transaction) CategoryTotals {
	totals := make(CategoryTotals)
	for _, t := range txns {
		id := a.resolver.Resolve(t.Category)
		totals[id] = totals.Get(id).Add(t.Amount)
	}
	return totals
}

// TotalExpenses is the plain sum of all amounts.
func (a *Aggregator) TotalExpenses(txns []core.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txns {
		sum = sum.Add(t.Amount)
	}
	return sum
}

// Insights reports budget usage for every category with a positive budget,
// in registry order.
func (a *Aggregator) Insights(txns []core.Transaction, budgets map[string]decimal.Decimal) []Insight {
	totals := a.CategoryTotals(txns)
	insights := make([]Insight, 0, a.registry.Len())
	for _, c := range a.registry.Categories() {
		budget, ok := budgets[c.ID]
		if !ok || !budget.IsPositive() {
			continue
		}
		spent := totals.Get(c.ID)
		pct := percentOf(spent, budget)
		insights = append(insights, Insight{
			CategoryID:   c.ID,
			CategoryName: c.Name,
			Spent:        spent,
			Budget:       budget,
			Percentage:   pct,
			Status:       classify(pct),
		})
	}
	return insights
}

// TopCategories groups by the raw label, not the resolved id, and returns
// the n largest totals. Ties keep first-occurrence order.
func (a *Aggregator) TopCategories(txns []core.Transaction, n int) []LabelTotal {
	if n <= 0 {
		return []LabelTotal{}
	}
	var order []LabelTotal
	pos := make(map[string]int)
	for _, t := range txns {
		i, ok := pos[t.Category]
		if !ok {
			i = len(order)
			pos[t.Category] = i
			order = append(order, LabelTotal{Label: t.Category, Total: decimal.Zero})
		}
		order[i].Total = order[i].Total.Add(t.Amount)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Total.GreaterThan(order[j].Total)
	})
	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		return []LabelTotal{}
	}
	return order
}

// Breakdown lists every registry category with its resolved total and its
// share of the grand total. Shares are zero when nothing was spent.
func (a *Aggregator) Breakdown(txns []core.Transaction) []CategoryShare {
	totals := a.CategoryTotals(txns)
	grand := decimal.Zero
	for _, v := range totals {
		grand = grand.Add(v)
	}
	out := make([]CategoryShare, 0, a.registry.Len())
	for _, c := range a.registry.Categories() {
		total := totals.Get(c.ID)
		out = append(out, CategoryShare{Category: c, Total: total, Share: percentOf(total, grand)})
	}
	return out
}

// Compare lists budget against actual spending for every registry category,
// zero budgets included.
func (a *Aggregator) Compare(txns []core.Transaction, budgets map[string]decimal.Decimal) []BudgetLine {
	totals := a.CategoryTotals(txns)
	out := make([]BudgetLine, 0, a.registry.Len())
	for _, c := range a.registry.Categories() {
		budget := decimal.Zero
		if b, ok := budgets[c.ID]; ok {
			budget = b
		}
		out = append(out, BudgetLine{Category: c, Budget: budget, Actual: totals.Get(c.ID)})
	}
	return out
}

// Recent returns the n most recent transactions, newest date first.
// Same-day transactions keep creation order, newest first, then input order.
func (a *Aggregator) Recent(txns []core.Transaction, n int) []core.Transaction {
	if n <= 0 {
		return []core.Transaction{}
	}
	sorted := make([]core.Transaction, len(txns))
	copy(sorted, txns)
	core.SortNewestFirst(sorted)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// percentOf returns part/whole*100, zero when whole is not positive.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole)
}
