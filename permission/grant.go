package permission

import "strings"

// Grant is one entitlement row: a permission name, an optional organization
// scope, and an optional resource scope. A nil OrgID means the grant is
// global; a nil ResourceID means it covers every resource in its scope.
type Grant struct {
	Name       string
	OrgID      *string
	ResourceID *string
}

// Scoped is a convenience for building org-scoped grants in literals.
func Scoped(name, orgID string) Grant {
	return Grant{Name: name, OrgID: &orgID}
}

// Global is a convenience for building globally-scoped grants in literals.
func Global(name string) Grant {
	return Grant{Name: name}
}

// compareGrants orders by name, then by scope with nil (global) last, then
// by resource with nil (unscoped) first. The ordering is what Index's binary
// search depends on.
func compareGrants(a, b Grant) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := compareScope(a.OrgID, b.OrgID); c != 0 {
		return c
	}
	return compareResource(a.ResourceID, b.ResourceID)
}

// compareResource orders resource pointers with nil sorting before every
// concrete value, so the covering (resource-unscoped) grant for a given
// (name, scope) run is always the first hit.
func compareResource(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return strings.Compare(*a, *b)
	}
}

// compareScope orders scope pointers with nil sorting after every concrete
// value.
func compareScope(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return strings.Compare(*a, *b)
	}
}
