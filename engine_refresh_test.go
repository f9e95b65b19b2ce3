package keyrail

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshRotatesLineage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	first, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	second, err := engine.Refresh(ctx, first.AccessCredential, first.RefreshSecret)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.AccessCredential == first.AccessCredential {
		t.Fatal("expected a new credential")
	}
	if second.RefreshSecret == first.RefreshSecret {
		t.Fatal("expected a new refresh secret")
	}
	if _, err := engine.Validate(ctx, second.AccessCredential); err != nil {
		t.Fatalf("rotated credential must validate: %v", err)
	}

	// The new pair keeps rotating.
	third, err := engine.Refresh(ctx, second.AccessCredential, second.RefreshSecret)
	if err != nil {
		t.Fatalf("chained Refresh failed: %v", err)
	}
	if _, err := engine.Validate(ctx, third.AccessCredential); err != nil {
		t.Fatalf("chained credential must validate: %v", err)
	}
}

func TestRefreshRevokesOldLineage(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Security.StrictValidation = true
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	first, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, first.AccessCredential, first.RefreshSecret); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Strict validation sees the old auth token gone.
	if _, err := engine.Validate(ctx, first.AccessCredential); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("old credential must be revoked, got %v", err)
	}
}

func TestRefreshDuplicateReturnsIdenticalPair(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	first, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	winner, err := engine.Refresh(ctx, first.AccessCredential, first.RefreshSecret)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// A retry of the same exchange lands after the rotation but must still
	// succeed with the winner's exact pair, not an error.
	retry, err := engine.Refresh(ctx, first.AccessCredential, first.RefreshSecret)
	if err != nil {
		t.Fatalf("duplicate Refresh failed: %v", err)
	}
	if retry.AccessCredential != winner.AccessCredential || retry.RefreshSecret != winner.RefreshSecret {
		t.Fatal("duplicate must receive the identical pair")
	}
}

func TestRefreshConcurrentDuplicatesConverge(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	first, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	type outcome struct {
		pair *SessionPair
		err  error
	}
	results := make(chan outcome, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			pair, err := engine.Refresh(ctx, first.AccessCredential, first.RefreshSecret)
			results <- outcome{pair, err}
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	credentials := map[string]bool{}
	for out := range results {
		if out.err != nil {
			t.Fatalf("concurrent refresh failed: %v", out.err)
		}
		credentials[out.pair.AccessCredential+"|"+out.pair.RefreshSecret] = true
	}
	if len(credentials) != 1 {
		t.Fatalf("every duplicate must converge on one pair, saw %d", len(credentials))
	}
}

func TestRefreshRejectsMismatchedPairing(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	a, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	b, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Session A's credential with session B's refresh secret is not a pair.
	if _, err := engine.Refresh(ctx, a.AccessCredential, b.RefreshSecret); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefreshDeactivatedUserIssuesNothing(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	pair, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	dir.deactivate("u1")

	if _, err := engine.Refresh(ctx, pair.AccessCredential, pair.RefreshSecret); !errors.Is(err, ErrUserDeactivated) {
		t.Fatalf("expected ErrUserDeactivated, got %v", err)
	}

	// The refresh secret was burned with the failed attempt: even after the
	// account comes back, it cannot rotate anything.
	dir.reactivate("u1")
	if _, err := engine.Refresh(ctx, pair.AccessCredential, pair.RefreshSecret); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound after failed rotation, got %v", err)
	}
}

func TestRefreshGarbageCredential(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	if _, err := engine.Refresh(ctx, "garbage", "also-garbage"); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken, got %v", err)
	}
}

func TestRefreshThrottle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Security.EnableRefreshThrottle = true
	cfg.Security.MaxRefreshAttempts = 2
	engine, dir := newTestEngine(t, cfg)
	seedUser(t, dir, cfg, "u1", "ada@example.com")

	pair, err := engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Attempts are counted per lineage, valid or not.
	if _, err := engine.Refresh(ctx, pair.AccessCredential, "wrong-secret"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.AccessCredential, "wrong-secret"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	if _, err := engine.Refresh(ctx, pair.AccessCredential, pair.RefreshSecret); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
