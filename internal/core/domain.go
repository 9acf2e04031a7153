package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// BudgetKey is the storage key of the single budget record.
const BudgetKey = "default"

// DateLayout is the wire and storage format of a transaction date.
const DateLayout = "2006-01-02"

// MaxDescriptionLength bounds a transaction description, in characters.
const MaxDescriptionLength = 200

type (
	Date struct {
		time.Time
	}

	Transaction struct {
		ID          string
		Amount      decimal.Decimal
		Description string
		Category    string // free text, may not match a registry id
		Date        Date
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// TransactionPatch carries the fields of a partial update.
	// Nil fields are left untouched.
	TransactionPatch struct {
		Amount      *decimal.Decimal
		Description *string
		Category    *string
		Date        *Date
	}

	Budget struct {
		ID        string
		Limits    map[string]decimal.Decimal
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = fmt.Errorf("description too long (max %d characters)", MaxDescriptionLength)
	ErrEmptyCategory      = errors.New("empty category")
	ErrUnknownCategory    = errors.New("invalid budget categories")
	ErrNegativeLimit      = errors.New("budget limit cannot be negative")
	ErrEmptyPatch         = errors.New("no fields to update")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD and full RFC 3339 timestamps; the time of day is dropped.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks the write rules of a transaction: positive amount, a
// description within bounds, a category label and a date.
func (t Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if err := t.Date.Validate(); err != nil {
		return &ValidationError{Field: "date", Err: err}
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Amount == nil && p.Description == nil && p.Category == nil && p.Date == nil
}

// Apply returns t with the patch's fields replaced.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	return t
}

// SortNewestFirst orders transactions by date, newest first, then by
// creation time, newest first. Equal keys keep their relative order.
func SortNewestFirst(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date.Time) {
			return txns[i].Date.After(txns[j].Date.Time)
		}
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
}

// Limit returns the limit for a category id, zero when absent.
func (b Budget) Limit(categoryID string) decimal.Decimal {
	if l, ok := b.Limits[categoryID]; ok {
		return l
	}
	return decimal.Zero
}

// ZeroLimits returns a limit of zero for every registry category.
func ZeroLimits(reg *Registry) map[string]decimal.Decimal {
	limits := make(map[string]decimal.Decimal, reg.Len())
	for _, id := range reg.IDs() {
		limits[id] = decimal.Zero
	}
	return limits
}

// NormalizeLimits validates a budget payload against the registry and
// returns the full replacement limits: every registry category is present
// and categories missing from the payload are reset to zero.
func NormalizeLimits(reg *Registry, limits map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	var unknown, negative []string
	for id, l := range limits {
		if !reg.Has(id) {
			unknown = append(unknown, id)
			continue
		}
		if l.IsNegative() {
			negative = append(negative, id)
		}
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{Field: "limits", Values: sortedCopy(unknown), Err: ErrUnknownCategory}
	}
	if len(negative) > 0 {
		return nil, &ValidationError{Field: "limits", Values: sortedCopy(negative), Err: ErrNegativeLimit}
	}

	out := ZeroLimits(reg)
	for id, l := range limits {
		out[id] = l
	}
	return out, nil
}
