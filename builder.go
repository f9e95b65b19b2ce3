package keyrail

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/keyrail/keyrail/internal/audit"
	"github.com/keyrail/keyrail/internal/metrics"
	"github.com/keyrail/keyrail/internal/rate"
	"github.com/keyrail/keyrail/jwt"
	"github.com/keyrail/keyrail/otp"
	"github.com/keyrail/keyrail/password"
	"github.com/keyrail/keyrail/permission"
	"github.com/keyrail/keyrail/token"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build exactly once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory Directory
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New starts a builder carrying [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSigningKey sets the JWT signing key without replacing the rest of the
// configuration.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.JWT.Key = append([]byte(nil), key...)
	return b
}

// WithRedis sets the Redis client backing tokens and rate limiting.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the application-owned user and entitlement reader.
func (b *Builder) WithDirectory(dir Directory) *Builder {
	b.directory = dir
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger for engine warnings. Absent a
// logger, warnings are discarded.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	signer, err := jwt.NewManager(jwt.Config{
		Key:    cfg.JWT.Key,
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.Token.AuthTTL,
		Leeway: cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := permission.NewResolver(
		directoryGrants{b.directory},
		cfg.Cache.PermissionCacheSize,
	)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger,
		directory: b.directory,
		tokens:    token.NewStore(b.redis, cfg.Token.RedisPrefix),
		signer:    signer,
		password:  hasher,
		otp: otp.NewManager(otp.Config{
			Issuer: cfg.TOTP.Issuer,
			Digits: cfg.TOTP.Digits,
			Period: cfg.TOTP.Period,
			Skew:   cfg.TOTP.Skew,
		}),
		resolver: resolver,
		limiter: rate.New(b.redis, rate.Config{
			EnableLoginThrottle:   cfg.Security.EnableLoginThrottle,
			EnableRefreshThrottle: cfg.Security.EnableRefreshThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldown:         cfg.Security.LoginCooldown,
			MaxRefreshAttempts:    cfg.Security.MaxRefreshAttempts,
			RefreshCooldown:       cfg.Security.RefreshCooldown,
			Prefix:                cfg.Token.RedisPrefix,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled}),
	}

	b.built = true
	return engine, nil
}

// directoryGrants narrows the application [Directory] to the read surface
// the permission resolver needs.
type directoryGrants struct {
	dir Directory
}

func (d directoryGrants) UserGrants(ctx context.Context, userID string) ([]permission.Grant, error) {
	return d.dir.UserGrants(ctx, userID)
}

func (d directoryGrants) UserRoles(ctx context.Context, userID string) ([]string, error) {
	return d.dir.UserRoles(ctx, userID)
}

func (d directoryGrants) RoleGrants(ctx context.Context, role string) ([]permission.Grant, error) {
	return d.dir.RoleGrants(ctx, role)
}
