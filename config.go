package keyrail

import (
	"errors"
	"time"
)

// TokenConfig sets the lifetimes of every stored token kind plus the Redis
// key prefix.
type TokenConfig struct {
	AuthTTL       time.Duration
	RefreshTTL    time.Duration
	EnrollTTL     time.Duration
	ResetTTL      time.Duration
	InvitationTTL time.Duration
	ExchangeTTL   time.Duration
	RedisPrefix   string
}

// JWTConfig sets the credential signing parameters. The credential lifetime
// follows TokenConfig.AuthTTL.
type JWTConfig struct {
	Key    []byte
	Issuer string
	Leeway time.Duration
}

// PasswordConfig sets the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// TOTPConfig sets one-time-code verification parameters.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// CookieConfig shapes the session cookie the middleware helpers write.
type CookieConfig struct {
	Name   string
	Domain string
	Path   string
	Secure bool
}

// SecurityConfig sets throttling and authorization policy knobs.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration

	// AdminOverridePermission lets its holders remove other users' factors
	// without a proof code. Empty disables the override.
	AdminOverridePermission string

	// StrictValidation makes Validate confirm token liveness in the store on
	// every call instead of trusting the signature alone.
	StrictValidation bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls counter collection.
type MetricsConfig struct {
	Enabled bool
}

// CacheConfig sizes the permission index cache. Zero disables caching.
type CacheConfig struct {
	PermissionCacheSize int
}

// Config is the full engine configuration. Zero-value sections are filled by
// [DefaultConfig]; Validate rejects configurations the engine cannot run
// safely with.
type Config struct {
	Token    TokenConfig
	JWT      JWTConfig
	Password PasswordConfig
	TOTP     TOTPConfig
	Cookie   CookieConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Cache    CacheConfig
}

// DefaultConfig returns the development-friendly baseline. The JWT key is
// deliberately absent; every deployment must supply its own.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AuthTTL:       15 * time.Minute,
			RefreshTTL:    720 * time.Hour,
			EnrollTTL:     15 * time.Minute,
			ResetTTL:      30 * time.Minute,
			InvitationTTL: 168 * time.Hour,
			ExchangeTTL:   60 * time.Second,
			RedisPrefix:   "kr",
		},
		JWT: JWTConfig{
			Issuer: "keyrail",
			Leeway: 30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		TOTP: TOTPConfig{
			Issuer: "keyrail",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		Cookie: CookieConfig{
			Name: "session",
			Path: "/",
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			MaxLoginAttempts:      10,
			LoginCooldown:         10 * time.Minute,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    30,
			RefreshCooldown:       time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Cache:   CacheConfig{PermissionCacheSize: 4096},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	switch {
	case len(c.JWT.Key) < 32:
		return errors.New("JWT.Key must carry at least 32 bytes")
	case c.Token.AuthTTL <= 0:
		return errors.New("Token.AuthTTL must be positive")
	case c.Token.RefreshTTL < c.Token.AuthTTL:
		return errors.New("Token.RefreshTTL must not be shorter than Token.AuthTTL")
	case c.Token.EnrollTTL <= 0:
		return errors.New("Token.EnrollTTL must be positive")
	case c.Token.ResetTTL <= 0:
		return errors.New("Token.ResetTTL must be positive")
	case c.Token.InvitationTTL <= 0:
		return errors.New("Token.InvitationTTL must be positive")
	case c.Token.ExchangeTTL <= 0:
		return errors.New("Token.ExchangeTTL must be positive")
	case c.Cookie.Name == "":
		return errors.New("Cookie.Name must not be empty")
	}

	if c.Security.EnableLoginThrottle &&
		(c.Security.MaxLoginAttempts <= 0 || c.Security.LoginCooldown <= 0) {
		return errors.New("login throttle requires MaxLoginAttempts and LoginCooldown")
	}
	if c.Security.EnableRefreshThrottle &&
		(c.Security.MaxRefreshAttempts <= 0 || c.Security.RefreshCooldown <= 0) {
		return errors.New("refresh throttle requires MaxRefreshAttempts and RefreshCooldown")
	}

	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.Key = append([]byte(nil), c.JWT.Key...)
	return out
}
