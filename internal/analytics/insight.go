package analytics

import (
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

// Status classifies budget usage.
type Status string

const (
	StatusGood    Status = "good"
	StatusWarning Status = "warning"
	StatusOver    Status = "over"
)

var warningThreshold = decimal.NewFromInt(80)

// Insight is the budget usage of one category.
type Insight struct {
	CategoryID   string
	CategoryName string
	Spent        decimal.Decimal
	Budget       decimal.Decimal
	Percentage   decimal.Decimal
	Status       Status
}

// classify: over above 100%, warning above 80%, good otherwise.
// Exactly 100% is still a warning.
func classify(pct decimal.Decimal) Status {
	switch {
	case pct.GreaterThan(hundred):
		return StatusOver
	case pct.GreaterThan(warningThreshold):
		return StatusWarning
	default:
		return StatusGood
	}
}

// Overage is how far spending exceeds the budget, zero when within it.
func (i Insight) Overage() decimal.Decimal {
	over := i.Spent.Sub(i.Budget)
	if over.IsPositive() {
		return over
	}
	return decimal.Zero
}

// Message is the human-readable status line shown next to the insight.
func (i Insight) Message() string {
	switch i.Status {
	case StatusOver:
		return "Over budget by " + core.FormatAmount(i.Overage())
	case StatusWarning:
		return "Close to budget limit"
	default:
		return "Within budget"
	}
}
