package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. Prefix namespaces the
// counter keys alongside the token store's; empty selects "kr".
type Config struct {
	EnableLoginThrottle   bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
	Prefix                string
}

// Limiter enforces fixed-window attempt budgets for login and refresh
// operations using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	prefix string
}

// New creates a [Limiter] backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "kr"
	}
	return &Limiter{redis: client, config: cfg, prefix: prefix}
}

func (l *Limiter) loginKey(identifier string) string {
	return l.prefix + ":rl:login:" + identifier
}

func (l *Limiter) refreshKey(lineage string) string {
	return l.prefix + ":rl:refresh:" + lineage
}

// CheckLogin reports whether the identifier is still within its failed-login
// budget. It does not consume an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, identifier string) error {
	if !l.config.EnableLoginThrottle {
		return nil
	}

	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordLoginFailure consumes one attempt for the identifier.
func (l *Limiter) RecordLoginFailure(ctx context.Context, identifier string) error {
	if !l.config.EnableLoginThrottle {
		return nil
	}

	count, err := l.incrementWindow(ctx, l.loginKey(identifier), l.config.LoginCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the failed-login counter, called after a successful
// authentication or a completed password reset.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if !l.config.EnableLoginThrottle {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRefresh consumes one rotation attempt for the credential lineage and
// rejects when the window budget is exhausted.
func (l *Limiter) CheckRefresh(ctx context.Context, lineage string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWindow(ctx, l.refreshKey(lineage), l.config.RefreshCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
