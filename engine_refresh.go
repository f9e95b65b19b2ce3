package keyrail

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keyrail/keyrail/internal"
	"github.com/keyrail/keyrail/internal/flows"
	"github.com/keyrail/keyrail/internal/metrics"
	"github.com/keyrail/keyrail/jwt"
	"github.com/keyrail/keyrail/token"
)

// Refresh exchanges an expired or expiring credential plus its refresh
// secret for a fresh pair. The old authentication token is revoked in the
// same atomic step that creates the new pair. Concurrent duplicates for the
// same lineage all succeed with identical values; the transport may retry
// freely.
func (e *Engine) Refresh(ctx context.Context, credential, refreshSecret string) (*SessionPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	var user *UserRecord

	deps := flows.RefreshDeps{
		DecodeCredential: func(cred string) (string, string, error) {
			claims, err := e.signer.ParseExpired(cred)
			if err != nil {
				return "", "", err
			}
			return claims.User.ID, claims.ID, nil
		},
		UserState: func(ctx context.Context, userID string) (flows.UserState, error) {
			record, err := e.directory.GetUserByID(ctx, userID)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					return flows.UserMissing, nil
				}
				return flows.UserActive, err
			}
			if record.Deactivated() {
				return flows.UserInactive, nil
			}
			user = record
			return flows.UserActive, nil
		},
		ConsumeRefresh: func(ctx context.Context, secret string) error {
			_, err := e.tokens.Redeem(ctx, token.TypeSessionRefresh, secret)
			if errors.Is(err, token.ErrNotFound) {
				return nil
			}
			return err
		},
		Rotate: func(ctx context.Context, authSecret, refreshSecret string) (*token.RotateResult, error) {
			return e.rotatePair(ctx, user, authSecret, refreshSecret)
		},
		RateLimiter: e.refreshLimiter(),
		Warn: func(msg string, args ...any) {
			e.logger.Warn(msg, args...)
		},
	}

	result := flows.RunRefresh(ctx, credential, refreshSecret, deps)
	return e.mapRefreshResult(ctx, result)
}

// rotatePair builds the complete replacement pair and commits it through
// the atomic rotation script, which also redeems the presented refresh
// token. The exchange record embeds the signed pair so every concurrent
// caller returns the same bytes.
func (e *Engine) rotatePair(ctx context.Context, user *UserRecord, oldAuthSecret, oldRefreshSecret string) (*token.RotateResult, error) {
	authSecret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}
	newRefreshSecret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	access, expiresAt, err := e.signer.Sign(jwt.UserClaims{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		OrgID: user.OrgID,
	}, authSecret, now)
	if err != nil {
		return nil, err
	}

	cfg := e.config.Token
	newAuth := &token.Token{
		ID:        uuid.NewString(),
		Secret:    authSecret,
		Type:      token.TypeAuthentication,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		Payload:   map[string]string{"refresh_secret": newRefreshSecret},
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(cfg.AuthTTL).Unix(),
	}
	newRefresh := &token.Token{
		ID:        uuid.NewString(),
		Secret:    newRefreshSecret,
		Type:      token.TypeSessionRefresh,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		Payload:   map[string]string{"auth_secret": authSecret},
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(cfg.RefreshTTL).Unix(),
	}
	exchange := &token.Token{
		ID:        uuid.NewString(),
		Secret:    oldAuthSecret,
		Type:      token.TypeExchange,
		UserID:    user.ID,
		OrgID:     user.OrgID,
		Payload:   flows.NewExchangePayload(access, newRefreshSecret, expiresAt),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(cfg.ExchangeTTL).Unix(),
	}

	return e.tokens.Rotate(ctx, token.RotateRequest{
		OldAuthSecret:    oldAuthSecret,
		OldRefreshSecret: oldRefreshSecret,
		UserID:           user.ID,
		NewAuth:          newAuth,
		AuthTTL:          cfg.AuthTTL,
		NewRefresh:       newRefresh,
		RefreshTTL:       cfg.RefreshTTL,
		Exchange:         exchange,
		ExchangeTTL:      cfg.ExchangeTTL,
	})
}

func (e *Engine) mapRefreshResult(ctx context.Context, result flows.RefreshResult) (*SessionPair, error) {
	switch result.Failure {
	case flows.RefreshFailureNone:
		if result.Recovered {
			e.metrics.Inc(metrics.MetricRotationConflict)
			e.metrics.Inc(metrics.MetricRefreshRecovered)
			e.emitAudit(ctx, EventRefreshRecovered, result.UserID, "", result.OldAuthSecret, true, nil, nil)
		} else {
			e.metrics.Inc(metrics.MetricRefreshSuccess)
			e.metrics.Inc(metrics.MetricTokenRedeemed)
			e.emitAudit(ctx, EventRefreshSucceeded, result.UserID, "", result.OldAuthSecret, true, nil, nil)
		}
		return &SessionPair{
			AccessCredential: result.Access,
			RefreshSecret:    result.RefreshSecret,
			ExpiresAt:        result.ExpiresAt,
		}, nil

	case flows.RefreshFailureDecode:
		e.metrics.Inc(metrics.MetricRefreshFailure)
		return nil, ErrInvalidAccessToken

	case flows.RefreshFailureRateLimited:
		e.metrics.Inc(metrics.MetricRefreshRateLimited)
		e.emitAudit(ctx, EventRefreshThrottled, result.UserID, "", result.OldAuthSecret, false, ErrRateLimited, nil)
		return nil, ErrRateLimited

	case flows.RefreshFailureTokenNotFound:
		e.metrics.Inc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshFailed, result.UserID, "", result.OldAuthSecret, false, ErrTokenNotFound, nil)
		return nil, ErrTokenNotFound

	case flows.RefreshFailureLineageMismatch:
		e.metrics.Inc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshFailed, result.UserID, "", result.OldAuthSecret, false, ErrInvalidRefreshToken, nil)
		return nil, ErrInvalidRefreshToken

	case flows.RefreshFailureUserNotFound:
		e.metrics.Inc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshFailed, result.UserID, "", result.OldAuthSecret, false, ErrUserNotFound, nil)
		return nil, ErrUserNotFound

	case flows.RefreshFailureUserDeactivated:
		e.metrics.Inc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, EventRefreshFailed, result.UserID, "", result.OldAuthSecret, false, ErrUserDeactivated, nil)
		return nil, ErrUserDeactivated

	default:
		e.metrics.Inc(metrics.MetricRefreshFailure)
		return nil, result.Err
	}
}

// refreshLimiter adapts the rate limiter to the flow interface, or nil when
// refresh throttling is disabled.
func (e *Engine) refreshLimiter() flows.RefreshRateLimiter {
	if !e.config.Security.EnableRefreshThrottle {
		return nil
	}
	return refreshLimiterAdapter{e}
}

type refreshLimiterAdapter struct {
	engine *Engine
}

func (a refreshLimiterAdapter) CheckRefresh(ctx context.Context, lineage string) error {
	return a.engine.limiter.CheckRefresh(ctx, lineage)
}
