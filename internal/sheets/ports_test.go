package sheets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fintrack/internal/analytics"
	"fintrack/internal/core"
)

func TestNewTransactionRow(t *testing.T) {
	txn := core.Transaction{
		ID:          "abc",
		Amount:      decimal.RequireFromString("7.5"),
		Description: "Bus ticket",
		Category:    "Transport",
		Date:        core.NewDate(2024, 2, 29),
		UpdatedAt:   time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600)),
	}

	row := NewTransactionRow(txn, "transport")

	assert.Equal(t, TransactionRow{
		ID:          "abc",
		Date:        "2024-02-29",
		Description: "Bus ticket",
		Category:    "Transport",
		CategoryID:  "transport",
		Amount:      "7.50",
		UpdatedAt:   "2024-03-01T08:30:00Z",
	}, row)
}

func TestNewBudgetRows(t *testing.T) {
	reg := core.DefaultRegistry()
	food, _ := reg.Lookup("food")
	other, _ := reg.Lookup("other")

	lines := []analytics.BudgetLine{
		{Category: food, Budget: decimal.NewFromInt(100), Actual: decimal.RequireFromString("95.5")},
		{Category: other, Budget: decimal.Zero, Actual: decimal.NewFromInt(3)},
	}
	insights := []analytics.Insight{{CategoryID: "food", Status: analytics.StatusWarning}}

	rows := NewBudgetRows(lines, insights)

	assert.Equal(t, []BudgetRow{
		{CategoryID: "food", Name: food.Name, Limit: "100.00", Spent: "95.50", Status: "warning"},
		{CategoryID: "other", Name: other.Name, Limit: "0.00", Spent: "3.00", Status: ""},
	}, rows)
}
