package permission

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Directory is the read side the resolver pulls entitlements from: the
// user's direct grants, the user's roles, and each role's grants.
type Directory interface {
	UserGrants(ctx context.Context, userID string) ([]Grant, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	RoleGrants(ctx context.Context, role string) ([]Grant, error)
}

// Resolver materializes per-user grant indexes on demand, with an optional
// LRU cache in front and singleflight collapsing concurrent builds for the
// same user. Safe for concurrent use.
type Resolver struct {
	dir   Directory
	cache *lru.Cache[string, Index]
	group singleflight.Group
}

// NewResolver builds a resolver over dir. cacheSize <= 0 disables caching;
// every lookup then rebuilds the index from the directory.
func NewResolver(dir Directory, cacheSize int) (*Resolver, error) {
	r := &Resolver{dir: dir}
	if cacheSize > 0 {
		cache, err := lru.New[string, Index](cacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// IndexFor returns the effective grant index for userID, building and
// caching it if needed.
func (r *Resolver) IndexFor(ctx context.Context, userID string) (Index, error) {
	if r.cache != nil {
		if ix, ok := r.cache.Get(userID); ok {
			return ix, nil
		}
	}

	v, err, _ := r.group.Do(userID, func() (any, error) {
		ix, err := r.build(ctx, userID)
		if err != nil {
			return Index{}, err
		}
		if r.cache != nil {
			r.cache.Add(userID, ix)
		}
		return ix, nil
	})
	if err != nil {
		return Index{}, err
	}
	return v.(Index), nil
}

// HasPermission probes the user's index for name in orgID's scope, falling
// back to the global scope. A nil orgID probes the global scope only.
func (r *Resolver) HasPermission(ctx context.Context, userID, name string, orgID *string) (bool, error) {
	ix, err := r.IndexFor(ctx, userID)
	if err != nil {
		return false, err
	}
	if orgID != nil && ix.Has(name, orgID) {
		return true, nil
	}
	return ix.Has(name, nil), nil
}

// HasResourcePermission is HasPermission for a resource-scoped probe.
func (r *Resolver) HasResourcePermission(ctx context.Context, userID, name string, orgID *string, resourceID string) (bool, error) {
	ix, err := r.IndexFor(ctx, userID)
	if err != nil {
		return false, err
	}
	if orgID != nil && ix.HasResource(name, orgID, resourceID) {
		return true, nil
	}
	return ix.HasResource(name, nil, resourceID), nil
}

// Invalidate drops the cached index for one user. The next lookup rebuilds
// from the directory.
func (r *Resolver) Invalidate(userID string) {
	if r.cache != nil {
		r.cache.Remove(userID)
	}
}

// InvalidateAll drops every cached index.
func (r *Resolver) InvalidateAll() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Resolver) build(ctx context.Context, userID string) (Index, error) {
	direct, err := r.dir.UserGrants(ctx, userID)
	if err != nil {
		return Index{}, err
	}
	roles, err := r.dir.UserRoles(ctx, userID)
	if err != nil {
		return Index{}, err
	}

	all := slices.Clone(direct)
	for _, role := range roles {
		rg, err := r.dir.RoleGrants(ctx, role)
		if err != nil {
			return Index{}, err
		}
		all = append(all, rg...)
	}
	return NewIndex(all), nil
}
