package jwt

import (
	"errors"
	"testing"
	"time"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{Key: testKey, Issuer: "keyrail-test", TTL: ttl})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerRejectsWeakKey(t *testing.T) {
	if _, err := NewManager(Config{Key: []byte("short"), TTL: time.Minute}); err == nil {
		t.Fatal("expected short key rejection")
	}
	if _, err := NewManager(Config{Key: testKey, TTL: 0}); err == nil {
		t.Fatal("expected zero TTL rejection")
	}
}

func TestSignAndParseRoundTrip(t *testing.T) {
	m := testManager(t, time.Minute)
	now := time.Now()

	signed, expiresAt, err := m.Sign(UserClaims{ID: "u1", Name: "Ada", Email: "ada@example.com", OrgID: "o1"}, "auth-secret", now)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if want := now.Add(time.Minute); expiresAt.Unix() != want.Unix() {
		t.Fatalf("unexpected expiry %v, want %v", expiresAt, want)
	}

	claims, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.User.ID != "u1" || claims.User.OrgID != "o1" {
		t.Fatalf("unexpected user claims %+v", claims.User)
	}
	if claims.ID != "auth-secret" {
		t.Fatalf("jti must carry the auth secret, got %q", claims.ID)
	}
	if claims.Issuer != "keyrail-test" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestSignRequiresIDAndJTI(t *testing.T) {
	m := testManager(t, time.Minute)
	if _, _, err := m.Sign(UserClaims{}, "jti", time.Now()); err == nil {
		t.Fatal("expected missing user id rejection")
	}
	if _, _, err := m.Sign(UserClaims{ID: "u1"}, "", time.Now()); err == nil {
		t.Fatal("expected missing jti rejection")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := testManager(t, time.Second)

	signed, _, err := m.Sign(UserClaims{ID: "u1"}, "secret", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if _, err := m.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for lapsed credential, got %v", err)
	}

	claims, err := m.ParseExpired(signed)
	if err != nil {
		t.Fatalf("ParseExpired failed: %v", err)
	}
	if claims.User.ID != "u1" || claims.ID != "secret" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	m := testManager(t, time.Minute)
	other, err := NewManager(Config{Key: []byte("ffffffffffffffffffffffffffffffff"), Issuer: "keyrail-test", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	signed, _, err := other.Sign(UserClaims{ID: "u1"}, "secret", time.Now())
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := m.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature rejection, got %v", err)
	}
	if _, err := m.ParseExpired(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("ParseExpired must still verify the signature")
	}
}

func TestParseExpiredRejectsForeignIssuer(t *testing.T) {
	foreign, err := NewManager(Config{Key: testKey, Issuer: "someone-else", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	signed, _, err := foreign.Sign(UserClaims{ID: "u1"}, "secret", time.Now())
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	m := testManager(t, time.Minute)
	if _, err := m.ParseExpired(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("ParseExpired must enforce the issuer")
	}
}
