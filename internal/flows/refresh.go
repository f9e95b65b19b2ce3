package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/keyrail/keyrail/token"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureTokenNotFound
	RefreshFailureLineageMismatch
	RefreshFailureUserNotFound
	RefreshFailureUserDeactivated
	RefreshFailureDirectory
	RefreshFailureRotate
)

// UserState is the directory's answer about the refreshing user.
type UserState int

const (
	UserActive UserState = iota
	UserMissing
	UserInactive
)

// RefreshResult carries either the issued pair or failure metadata.
// Recovered marks the concurrent-duplicate path: the pair was read back from
// the winner's exchange record instead of being rotated by this caller.
type RefreshResult struct {
	Failure       RefreshFailureKind
	Err           error
	UserID        string
	OldAuthSecret string
	Recovered     bool

	Access        string
	RefreshSecret string
	ExpiresAt     time.Time
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, lineage string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	DecodeCredential func(credential string) (userID, authSecret string, err error)
	UserState        func(ctx context.Context, userID string) (UserState, error)
	ConsumeRefresh   func(ctx context.Context, secret string) error
	Rotate           func(ctx context.Context, authSecret, refreshSecret string) (*token.RotateResult, error)
	RateLimiter      RefreshRateLimiter
	Warn             func(string, ...any)
}

// RunRefresh executes rotation without root package dependencies. The
// presented credential may be expired; its claims bind the refresh secret to
// one authentication lineage. Redemption of the refresh token happens inside
// the rotation transaction, so concurrent duplicates all land on one atomic
// decision: the first commits the new pair, every other caller receives that
// same pair back from the exchange record the winner wrote.
func RunRefresh(ctx context.Context, credential, refreshSecret string, deps RefreshDeps) RefreshResult {
	userID, authSecret, err := deps.DecodeCredential(credential)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, authSecret); err != nil {
			return RefreshResult{
				Failure:       RefreshFailureRateLimited,
				Err:           err,
				UserID:        userID,
				OldAuthSecret: authSecret,
			}
		}
	}

	state, err := deps.UserState(ctx, userID)
	if err != nil {
		return RefreshResult{
			Failure:       RefreshFailureDirectory,
			Err:           err,
			UserID:        userID,
			OldAuthSecret: authSecret,
		}
	}
	if state != UserActive {
		// The presented refresh secret dies with the failed rotation; no
		// replacement tokens are created for a missing or deactivated user.
		if deps.ConsumeRefresh != nil {
			if err := deps.ConsumeRefresh(ctx, refreshSecret); err != nil && deps.Warn != nil {
				deps.Warn("refresh token cleanup failed", "err", err)
			}
		}
		failure := RefreshFailureUserNotFound
		if state == UserInactive {
			failure = RefreshFailureUserDeactivated
		}
		return RefreshResult{
			Failure:       failure,
			UserID:        userID,
			OldAuthSecret: authSecret,
		}
	}

	rotated, err := deps.Rotate(ctx, authSecret, refreshSecret)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNotFound):
			return RefreshResult{
				Failure:       RefreshFailureTokenNotFound,
				Err:           err,
				UserID:        userID,
				OldAuthSecret: authSecret,
			}
		case errors.Is(err, token.ErrLineageMismatch):
			return RefreshResult{
				Failure:       RefreshFailureLineageMismatch,
				Err:           err,
				UserID:        userID,
				OldAuthSecret: authSecret,
			}
		default:
			return RefreshResult{
				Failure:       RefreshFailureRotate,
				Err:           err,
				UserID:        userID,
				OldAuthSecret: authSecret,
			}
		}
	}

	access, secret, expiresAt, err := PairFromExchange(rotated.Exchange)
	if err != nil {
		return RefreshResult{
			Failure:       RefreshFailureRotate,
			Err:           err,
			UserID:        userID,
			OldAuthSecret: authSecret,
		}
	}

	return RefreshResult{
		Failure:       RefreshFailureNone,
		UserID:        userID,
		OldAuthSecret: authSecret,
		Recovered:     rotated.Outcome == token.AlreadyRotated,
		Access:        access,
		RefreshSecret: secret,
		ExpiresAt:     expiresAt,
	}
}

// Exchange payload keys. The exchange record embeds the fully issued pair so
// every concurrent caller hands back identical values.
const (
	ExchangeAccessKey  = "access"
	ExchangeRefreshKey = "refresh"
	ExchangeExpiresKey = "expires_at"
)

// NewExchangePayload builds the exchange record payload for an issued pair.
func NewExchangePayload(access, refreshSecret string, expiresAt time.Time) map[string]string {
	return map[string]string{
		ExchangeAccessKey:  access,
		ExchangeRefreshKey: refreshSecret,
		ExchangeExpiresKey: strconv.FormatInt(expiresAt.Unix(), 10),
	}
}

// PairFromExchange reads the issued pair back out of an exchange record.
func PairFromExchange(exchange *token.Token) (access, refreshSecret string, expiresAt time.Time, err error) {
	access = exchange.PayloadValue(ExchangeAccessKey)
	refreshSecret = exchange.PayloadValue(ExchangeRefreshKey)
	raw := exchange.PayloadValue(ExchangeExpiresKey)
	if access == "" || refreshSecret == "" || raw == "" {
		return "", "", time.Time{}, errors.New("exchange record missing pair fields")
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", "", time.Time{}, errors.New("exchange record has invalid expiry")
	}
	return access, refreshSecret, time.Unix(unix, 0), nil
}
