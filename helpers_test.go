package keyrail

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keyrail/keyrail/password"
	"github.com/keyrail/keyrail/permission"
)

const testPassword = "correct horse battery"

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type fakeDirectory struct {
	mu           sync.Mutex
	users        map[string]*UserRecord
	byIdentifier map[string]string
	factors      map[string][]AuthFactor
	grants       map[string][]permission.Grant
	roles        map[string][]string
	roleGrants   map[string][]permission.Grant
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:        map[string]*UserRecord{},
		byIdentifier: map[string]string{},
		factors:      map[string][]AuthFactor{},
		grants:       map[string][]permission.Grant{},
		roles:        map[string][]string{},
		roleGrants:   map[string][]permission.Grant{},
	}
}

func (d *fakeDirectory) addUser(u UserRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copied := u
	d.users[u.ID] = &copied
	d.byIdentifier[u.Identifier] = u.ID
}

func (d *fakeDirectory) deactivate(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	d.users[userID].DeactivatedAt = &now
}

func (d *fakeDirectory) reactivate(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID].DeactivatedAt = nil
}

func (d *fakeDirectory) GetUserByIdentifier(_ context.Context, identifier string) (*UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byIdentifier[identifier]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *d.users[id]
	return &copied, nil
}

func (d *fakeDirectory) GetUserByID(_ context.Context, id string) (*UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (d *fakeDirectory) AuthFactors(_ context.Context, userID string) ([]AuthFactor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AuthFactor(nil), d.factors[userID]...), nil
}

func (d *fakeDirectory) CreateAuthFactor(_ context.Context, factor AuthFactor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factors[factor.UserID] = append(d.factors[factor.UserID], factor)
	return nil
}

func (d *fakeDirectory) DeleteAuthFactor(_ context.Context, userID string, factorType FactorType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.factors[userID][:0]
	for _, f := range d.factors[userID] {
		if f.Type != factorType {
			kept = append(kept, f)
		}
	}
	d.factors[userID] = kept
	return nil
}

func (d *fakeDirectory) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (d *fakeDirectory) UserGrants(_ context.Context, userID string) ([]permission.Grant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]permission.Grant(nil), d.grants[userID]...), nil
}

func (d *fakeDirectory) UserRoles(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.roles[userID]...), nil
}

func (d *fakeDirectory) RoleGrants(_ context.Context, role string) ([]permission.Grant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]permission.Grant(nil), d.roleGrants[role]...), nil
}

// testConfig keeps hashing at floor cost so the suite stays fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Key = testSigningKey
	cfg.Password = PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.Audit.Enabled = false
	cfg.Security.EnableLoginThrottle = false
	cfg.Security.EnableRefreshThrottle = false
	return cfg
}

func hashPassword(t *testing.T, cfg Config, pass string) string {
	t.Helper()
	h, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	hash, err := h.Hash(pass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return hash
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeDirectory) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := newFakeDirectory()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, dir
}

func newTestEngineWithSink(t *testing.T, cfg Config, sink AuditSink) (*Engine, *fakeDirectory) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dir := newFakeDirectory()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, dir
}

func seedUser(t *testing.T, dir *fakeDirectory, cfg Config, id, identifier string) {
	t.Helper()
	dir.addUser(UserRecord{
		ID:           id,
		Identifier:   identifier,
		OrgID:        "o1",
		Name:         "Test User",
		Email:        identifier,
		PasswordHash: hashPassword(t, cfg, testPassword),
	})
}
