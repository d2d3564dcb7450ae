package models

import (
	"slices"
	"strings"
)

// Category is an Atom category. Scheme and Term identify it; Label is
// presentation only.
type Category struct {
	Scheme string `json:"scheme,omitempty"`
	Term   string `json:"term"`
	Label  string `json:"label,omitempty"`
}

func compareCategories(a, b Category) int {
	if c := strings.Compare(a.Scheme, b.Scheme); c != 0 {
		return c
	}
	return strings.Compare(a.Term, b.Term)
}

// NormalizeCategories returns the set of distinct (scheme, term) pairs in
// cs, sorted. On duplicates the first label seen wins. Empty terms are
// dropped.
func NormalizeCategories(cs []Category) []Category {
	out := make([]Category, 0, len(cs))
	for _, c := range cs {
		c.Scheme = strings.TrimSpace(c.Scheme)
		c.Term = strings.TrimSpace(c.Term)
		if c.Term == "" {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, compareCategories)
	return slices.CompactFunc(out, func(a, b Category) bool {
		return compareCategories(a, b) == 0
	})
}

// UnionCategories merges several category sets into one normalized set.
func UnionCategories(sets ...[]Category) []Category {
	var all []Category
	for _, s := range sets {
		all = append(all, s...)
	}
	return NormalizeCategories(all)
}

// HasCategory reports whether cs contains (scheme, term).
func HasCategory(cs []Category, scheme, term string) bool {
	for _, c := range cs {
		if c.Scheme == scheme && c.Term == term {
			return true
		}
	}
	return false
}

// SameCategories compares two sets by (scheme, term), ignoring order and
// labels.
func SameCategories(a, b []Category) bool {
	na, nb := NormalizeCategories(a), NormalizeCategories(b)
	return slices.EqualFunc(na, nb, func(x, y Category) bool {
		return compareCategories(x, y) == 0
	})
}
