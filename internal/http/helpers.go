package http

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/analytics"
	"fintrack/internal/core"
)

// sanitizeInput removes control characters except tab, newline and carriage
// return, then trims whitespace.
func sanitizeInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func sortStrings(in []string) []string {
	sort.Strings(in)
	return in
}

// money renders an amount with exactly two decimals as a bare JSON number.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type transactionJSON struct {
	ID          string      `json:"id"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	CategoryID  string      `json:"category_id"`
	Date        core.Date   `json:"date"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (s *Server) transactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          t.ID,
		Amount:      money(t.Amount),
		Description: t.Description,
		Category:    t.Category,
		CategoryID:  s.svc.ResolveCategory(t.Category),
		Date:        t.Date,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (s *Server) transactionsJSON(txns []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, len(txns))
	for i, t := range txns {
		out[i] = s.transactionJSON(t)
	}
	return out
}

type budgetJSON struct {
	ID        string                 `json:"id"`
	Limits    map[string]json.Number `json:"limits"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func toBudgetJSON(b core.Budget) budgetJSON {
	limits := make(map[string]json.Number, len(b.Limits))
	for id, l := range b.Limits {
		limits[id] = money(l)
	}
	return budgetJSON{ID: b.ID, Limits: limits, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt}
}

type insightJSON struct {
	CategoryID   string           `json:"category_id"`
	CategoryName string           `json:"category_name"`
	Spent        json.Number      `json:"spent"`
	Budget       json.Number      `json:"budget"`
	Percentage   json.Number      `json:"percentage"`
	Status       analytics.Status `json:"status"`
	Message      string           `json:"message"`
}

func toInsightsJSON(in []analytics.Insight) []insightJSON {
	out := make([]insightJSON, len(in))
	for i, v := range in {
		out[i] = insightJSON{
			CategoryID:   v.CategoryID,
			CategoryName: v.CategoryName,
			Spent:        money(v.Spent),
			Budget:       money(v.Budget),
			Percentage:   json.Number(v.Percentage.StringFixed(2)),
			Status:       v.Status,
			Message:      v.Message(),
		}
	}
	return out
}

type labelTotalJSON struct {
	Category string      `json:"category"`
	Total    json.Number `json:"total"`
}

func toLabelTotalsJSON(in []analytics.LabelTotal) []labelTotalJSON {
	out := make([]labelTotalJSON, len(in))
	for i, v := range in {
		out[i] = labelTotalJSON{Category: v.Label, Total: money(v.Total)}
	}
	return out
}

type shareJSON struct {
	core.Category
	Total json.Number `json:"total"`
	Share json.Number `json:"share"`
}

func toBreakdownJSON(in []analytics.CategoryShare) []shareJSON {
	out := make([]shareJSON, len(in))
	for i, v := range in {
		out[i] = shareJSON{Category: v.Category, Total: money(v.Total), Share: json.Number(v.Share.StringFixed(2))}
	}
	return out
}

type budgetLineJSON struct {
	core.Category
	Budget json.Number `json:"budget"`
	Actual json.Number `json:"actual"`
}

func toComparisonJSON(in []analytics.BudgetLine) []budgetLineJSON {
	out := make([]budgetLineJSON, len(in))
	for i, v := range in {
		out[i] = budgetLineJSON{Category: v.Category, Budget: money(v.Budget), Actual: money(v.Actual)}
	}
	return out
}

type totalsJSON struct {
	Categories map[string]json.Number `json:"categories"`
	Total      json.Number            `json:"total"`
}

type dashboardJSON struct {
	TotalExpenses json.Number       `json:"total_expenses"`
	Transactions  int               `json:"transactions"`
	TopCategories []labelTotalJSON  `json:"top_categories"`
	Recent        []transactionJSON `json:"recent"`
	Breakdown     []shareJSON       `json:"breakdown"`
	Comparison    []budgetLineJSON  `json:"comparison"`
	Insights      []insightJSON     `json:"insights"`
}
