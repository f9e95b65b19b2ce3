package permission

import (
	"slices"
	"sort"
	"strings"
)

// Index is an immutable, sorted view over a user's effective grants. Lookups
// binary-search the (name, scope) prefix and then walk the short run of
// grants sharing it. An empty index answers every probe false without
// searching.
type Index struct {
	grants []Grant
}

// NewIndex copies and sorts grants into lookup order. Duplicate rows are
// harmless; they collapse into the same run.
func NewIndex(grants []Grant) Index {
	sorted := slices.Clone(grants)
	slices.SortFunc(sorted, compareGrants)
	return Index{grants: sorted}
}

// Len reports the number of grant rows in the index.
func (ix Index) Len() int { return len(ix.grants) }

// Has reports whether the index holds a resource-unscoped grant of name in
// the given scope. A nil orgID probes the global scope only; callers wanting
// org-or-global semantics probe twice.
func (ix Index) Has(name string, orgID *string) bool {
	if len(ix.grants) == 0 {
		return false
	}
	i := ix.lowerBound(name, orgID)
	if i >= len(ix.grants) {
		return false
	}
	g := ix.grants[i]
	// The run is resource-nil-first, so only its head can satisfy an
	// unscoped probe.
	return g.Name == name && compareScope(g.OrgID, orgID) == 0 && g.ResourceID == nil
}

// HasResource reports whether the index covers the named resource in the
// given scope, either through a matching resource-scoped grant or through a
// resource-unscoped grant for the same (name, scope).
func (ix Index) HasResource(name string, orgID *string, resourceID string) bool {
	if len(ix.grants) == 0 {
		return false
	}
	for i := ix.lowerBound(name, orgID); i < len(ix.grants); i++ {
		g := ix.grants[i]
		if g.Name != name || compareScope(g.OrgID, orgID) != 0 {
			return false
		}
		if g.ResourceID == nil || *g.ResourceID == resourceID {
			return true
		}
	}
	return false
}

// lowerBound finds the first grant at or after the (name, orgID) prefix.
func (ix Index) lowerBound(name string, orgID *string) int {
	return sort.Search(len(ix.grants), func(i int) bool {
		g := ix.grants[i]
		if c := strings.Compare(g.Name, name); c != 0 {
			return c > 0
		}
		return compareScope(g.OrgID, orgID) >= 0
	})
}
