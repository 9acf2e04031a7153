package core

import (
	"errors"
	"fmt"
	"strings"
)

// FallbackCategoryID is the category every unresolvable label lands in.
const FallbackCategoryID = "other"

var (
	ErrEmptyCategoryID     = errors.New("empty category id")
	ErrDuplicateCategoryID = errors.New("duplicate category id")
)

// Category is a fixed spending category. Color is a display token (hex).
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Registry is the ordered, immutable set of known categories.
// Registry order drives every ordered view built on top of it.
type Registry struct {
	categories []Category
	index      map[string]int
}

// NewRegistry builds a registry preserving the given order.
func NewRegistry(categories ...Category) (*Registry, error) {
	r := &Registry{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for _, c := range categories {
		if strings.TrimSpace(c.ID) == "" {
			return nil, ErrEmptyCategoryID
		}
		if _, dup := r.index[c.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCategoryID, c.ID)
		}
		r.index[c.ID] = len(r.categories)
		r.categories = append(r.categories, c)
	}
	return r, nil
}

// DefaultRegistry returns the built-in category list.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Category{ID: "food", Name: "Food & Dining", Color: "#EF4444"},
		Category{ID: "transport", Name: "Transportation", Color: "#3B82F6"},
		Category{ID: "utilities", Name: "Utilities", Color: "#10B981"},
		Category{ID: "entertainment", Name: "Entertainment", Color: "#F59E0B"},
		Category{ID: "shopping", Name: "Shopping", Color: "#8B5CF6"},
		Category{ID: "health", Name: "Healthcare", Color: "#EC4899"},
		Category{ID: FallbackCategoryID, Name: "Other", Color: "#6B7280"},
	)
	if err != nil {
		panic(fmt.Sprintf("default category registry: %v", err))
	}
	return r
}

// Categories returns a copy of the categories in registry order.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.categories))
	copy(out, r.categories)
	return out
}

// Lookup returns the category with the exact id.
func (r *Registry) Lookup(id string) (Category, bool) {
	i, ok := r.index[id]
	if !ok {
		return Category{}, false
	}
	return r.categories[i], true
}

// Has reports whether id is a known category id.
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

// IDs returns the category ids in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.categories))
	for i, c := range r.categories {
		ids[i] = c.ID
	}
	return ids
}

// Len returns the number of categories.
func (r *Registry) Len() int {
	return len(r.categories)
}

// Name returns the display name for id, or id itself when unknown.
func (r *Registry) Name(id string) string {
	if c, ok := r.Lookup(id); ok {
		return c.Name
	}
	return id
}
