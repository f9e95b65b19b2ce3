package permission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeDirectory struct {
	grants map[string][]Grant
	roles  map[string][]string
	role   map[string][]Grant

	userGrantCalls atomic.Int64
	fail           bool
}

func (d *fakeDirectory) UserGrants(_ context.Context, userID string) ([]Grant, error) {
	d.userGrantCalls.Add(1)
	if d.fail {
		return nil, errors.New("directory down")
	}
	return d.grants[userID], nil
}

func (d *fakeDirectory) UserRoles(_ context.Context, userID string) ([]string, error) {
	if d.fail {
		return nil, errors.New("directory down")
	}
	return d.roles[userID], nil
}

func (d *fakeDirectory) RoleGrants(_ context.Context, role string) ([]Grant, error) {
	if d.fail {
		return nil, errors.New("directory down")
	}
	return d.role[role], nil
}

func TestResolverMergesRoleGrants(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{
		grants: map[string][]Grant{"u1": {{Name: "doc.read", OrgID: org("o1")}}},
		roles:  map[string][]string{"u1": {"editor"}},
		role:   map[string][]Grant{"editor": {{Name: "doc.write", OrgID: org("o1")}}},
	}
	r, err := NewResolver(dir, 16)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	for _, name := range []string{"doc.read", "doc.write"} {
		ok, err := r.HasPermission(ctx, "u1", name, org("o1"))
		if err != nil {
			t.Fatalf("HasPermission(%s) failed: %v", name, err)
		}
		if !ok {
			t.Fatalf("expected %s allowed", name)
		}
	}
}

func TestResolverGlobalFallback(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{
		grants: map[string][]Grant{"u1": {{Name: "platform.admin"}}},
	}
	r, err := NewResolver(dir, 16)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	// Org probe falls back to the global scope.
	ok, err := r.HasPermission(ctx, "u1", "platform.admin", org("o9"))
	if err != nil {
		t.Fatalf("HasPermission failed: %v", err)
	}
	if !ok {
		t.Fatal("global grant must satisfy an org-scoped probe")
	}
}

func TestResolverCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{
		grants: map[string][]Grant{"u1": {{Name: "doc.read"}}},
	}
	r, err := NewResolver(dir, 16)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.HasPermission(ctx, "u1", "doc.read", nil); err != nil {
			t.Fatalf("HasPermission failed: %v", err)
		}
	}
	if calls := dir.userGrantCalls.Load(); calls != 1 {
		t.Fatalf("expected one directory build, got %d", calls)
	}

	r.Invalidate("u1")
	if _, err := r.HasPermission(ctx, "u1", "doc.read", nil); err != nil {
		t.Fatalf("HasPermission after invalidate failed: %v", err)
	}
	if calls := dir.userGrantCalls.Load(); calls != 2 {
		t.Fatalf("expected rebuild after invalidate, got %d calls", calls)
	}
}

func TestResolverPropagatesDirectoryErrors(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{fail: true}
	r, err := NewResolver(dir, 16)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	if _, err := r.HasPermission(ctx, "u1", "doc.read", nil); err == nil {
		t.Fatal("expected directory error to propagate")
	}
	// A failed build must not be cached.
	dir.fail = false
	dir.grants = map[string][]Grant{"u1": {{Name: "doc.read"}}}
	ok, err := r.HasPermission(ctx, "u1", "doc.read", nil)
	if err != nil {
		t.Fatalf("HasPermission after recovery failed: %v", err)
	}
	if !ok {
		t.Fatal("expected allow after directory recovery")
	}
}
