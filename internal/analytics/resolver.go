// Package analytics turns stored transactions and budgets into the derived
// views of the tracker: per-category totals, budget insights, top
// categories and the dashboard summary.
//
// Everything here is pure. A Resolver and an Aggregator hold only the
// immutable category registry and are safe for concurrent use.
package analytics

import (
	"log/slog"
	"strings"

	"github.com/agnivade/levenshtein"

	"fintrack/internal/core"
)

// UnmatchedFunc observes labels that fell through to the fallback category.
type UnmatchedFunc func(label string)

type indexedCategory struct {
	id        string
	lowerID   string
	lowerName string
}

// Resolver maps free-text transaction labels onto registry category ids.
type Resolver struct {
	registry   *core.Registry
	categories []indexedCategory
	unmatched  UnmatchedFunc
}

// NewResolver builds a resolver over reg. onUnmatched may be nil.
func NewResolver(reg *core.Registry, onUnmatched UnmatchedFunc) *Resolver {
	cats := reg.Categories()
	indexed := make([]indexedCategory, len(cats))
	for i, c := range cats {
		indexed[i] = indexedCategory{
			id:        c.ID,
			lowerID:   strings.ToLower(c.ID),
			lowerName: strings.ToLower(c.Name),
		}
	}
	return &Resolver{registry: reg, categories: indexed, unmatched: onUnmatched}
}

// Registry returns the registry the resolver was built with.
func (r *Resolver) Registry() *core.Registry {
	return r.registry
}

// Resolve returns the category id for label. Rules, first match wins:
// empty label is the fallback; an exact id matches itself; otherwise the
// first category, in registry order, whose lower-cased name contains the
// lower-cased label or whose lower-cased id is contained in it.
func (r *Resolver) Resolve(label string) string {
	if label == "" {
		return core.FallbackCategoryID
	}
	if r.registry.Has(label) {
		return label
	}
	lower := strings.ToLower(label)
	for _, c := range r.categories {
		if strings.Contains(c.lowerName, lower) || strings.Contains(lower, c.lowerID) {
			return c.id
		}
	}
	if r.unmatched != nil {
		r.unmatched(label)
	}
	return core.FallbackCategoryID
}

// Nearest returns the category id closest to label by edit distance over
// ids and names. Only used for diagnostics; resolution never depends on it.
func (r *Resolver) Nearest(label string) string {
	lower := strings.ToLower(label)
	best, bestDist := core.FallbackCategoryID, -1
	for _, c := range r.categories {
		d := min(levenshtein.ComputeDistance(lower, c.lowerID), levenshtein.ComputeDistance(lower, c.lowerName))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c.id, d
		}
	}
	return best
}

// LogUnmatched returns an UnmatchedFunc that logs unmatched labels at debug
// level together with the nearest category, to help spot typos.
func LogUnmatched(logger *slog.Logger, reg *core.Registry) UnmatchedFunc {
	lookup := NewResolver(reg, nil)
	return func(label string) {
		logger.Debug("Category label fell back to default",
			"label", label,
			"fallback", core.FallbackCategoryID,
			"nearest", lookup.Nearest(label))
	}
}
