package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func TestLoginBudget(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    3,
		LoginCooldown:       time.Minute,
	})

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "alice"); err != nil {
			t.Fatalf("attempt %d: CheckLogin failed: %v", i, err)
		}
		if err := l.RecordLoginFailure(ctx, "alice"); err != nil {
			t.Fatalf("attempt %d: RecordLoginFailure failed: %v", i, err)
		}
	}

	if err := l.RecordLoginFailure(ctx, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 4th failure, got %v", err)
	}
	if err := l.CheckLogin(ctx, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected CheckLogin to reject, got %v", err)
	}

	// Another identifier is unaffected.
	if err := l.CheckLogin(ctx, "bob"); err != nil {
		t.Fatalf("independent identifier throttled: %v", err)
	}
}

func TestResetLoginClearsBudget(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    1,
		LoginCooldown:       time.Minute,
	})

	_ = l.RecordLoginFailure(ctx, "alice")
	_ = l.RecordLoginFailure(ctx, "alice")
	if err := l.CheckLogin(ctx, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected throttle, got %v", err)
	}

	if err := l.ResetLogin(ctx, "alice"); err != nil {
		t.Fatalf("ResetLogin failed: %v", err)
	}
	if err := l.CheckLogin(ctx, "alice"); err != nil {
		t.Fatalf("expected clean slate after reset, got %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{
		EnableLoginThrottle: true,
		MaxLoginAttempts:    1,
		LoginCooldown:       time.Minute,
	})

	_ = l.RecordLoginFailure(ctx, "alice")
	_ = l.RecordLoginFailure(ctx, "alice")
	if err := l.CheckLogin(ctx, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected throttle, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "alice"); err != nil {
		t.Fatalf("expected window expiry, got %v", err)
	}
}

func TestRefreshBudgetConsumesOnCheck(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle: true,
		MaxRefreshAttempts:    2,
		RefreshCooldown:       time.Minute,
	})

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "lineage-1"); err != nil {
			t.Fatalf("attempt %d: CheckRefresh failed: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "lineage-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckRefresh(ctx, "lineage-2"); err != nil {
		t.Fatalf("independent lineage throttled: %v", err)
	}
}

func TestPrefixNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{
		EnableLoginThrottle:   true,
		MaxLoginAttempts:      3,
		LoginCooldown:         time.Minute,
		EnableRefreshThrottle: true,
		MaxRefreshAttempts:    3,
		RefreshCooldown:       time.Minute,
		Prefix:                "acme",
	})

	if err := l.RecordLoginFailure(ctx, "alice"); err != nil {
		t.Fatalf("RecordLoginFailure failed: %v", err)
	}
	if err := l.CheckRefresh(ctx, "lineage-1"); err != nil {
		t.Fatalf("CheckRefresh failed: %v", err)
	}

	if !mr.Exists("acme:rl:login:alice") {
		t.Fatal("login counter must live under the configured prefix")
	}
	if !mr.Exists("acme:rl:refresh:lineage-1") {
		t.Fatal("refresh counter must live under the configured prefix")
	}
	if mr.Exists("kr:rl:login:alice") {
		t.Fatal("default prefix must not be used when one is configured")
	}
}

func TestDisabledThrottleIsNoOp(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{})

	for i := 0; i < 100; i++ {
		if err := l.CheckLogin(ctx, "alice"); err != nil {
			t.Fatalf("disabled throttle must allow: %v", err)
		}
		if err := l.RecordLoginFailure(ctx, "alice"); err != nil {
			t.Fatalf("disabled throttle must allow: %v", err)
		}
		if err := l.CheckRefresh(ctx, "lineage"); err != nil {
			t.Fatalf("disabled throttle must allow: %v", err)
		}
	}
}
