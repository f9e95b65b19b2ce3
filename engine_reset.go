package keyrail

import (
	"context"
	"errors"
	"time"

	"github.com/keyrail/keyrail/internal/metrics"
	"github.com/keyrail/keyrail/token"
)

// BeginPasswordReset issues a single-use reset secret for the identified
// user. Delivery is the application's concern; the engine only mints the
// secret. Callers wanting to hide account existence must map
// [ErrUserNotFound] themselves.
func (e *Engine) BeginPasswordReset(ctx context.Context, identifier string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	user, err := e.directory.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}
	if user.Deactivated() {
		return "", ErrUserDeactivated
	}

	reset, err := e.tokens.Issue(ctx, token.IssueRequest{
		Type:   token.TypePasswordReset,
		UserID: user.ID,
		OrgID:  user.OrgID,
		TTL:    e.config.Token.ResetTTL,
	})
	if err != nil {
		return "", err
	}

	e.metrics.Inc(metrics.MetricPasswordResetRequest)
	e.emitAudit(ctx, EventPasswordResetBegin, user.ID, user.OrgID, reset.ID, true, nil, nil)
	return reset.Secret, nil
}

// CompletePasswordReset consumes a reset secret, stores the new password
// digest, and revokes every live session of the user.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetSecret, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	reset, err := e.tokens.Redeem(ctx, token.TypePasswordReset, resetSecret)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	hash, err := e.password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, reset.UserID, hash); err != nil {
		return err
	}

	// A reset proves control of the account's recovery path; existing
	// sessions and the failed-login budget no longer apply.
	if _, err := e.tokens.DeleteAllForUser(ctx, reset.UserID); err != nil {
		e.logger.Warn("session revocation after password reset failed", "err", err)
	}
	if user, lookupErr := e.directory.GetUserByID(ctx, reset.UserID); lookupErr == nil {
		if err := e.limiter.ResetLogin(ctx, user.Identifier); err != nil {
			e.logger.Warn("login throttle reset failed", "err", err)
		}
	}

	e.metrics.Inc(metrics.MetricPasswordResetConfirm)
	e.emitAudit(ctx, EventPasswordResetDone, reset.UserID, reset.OrgID, reset.ID, true, nil, nil)
	return nil
}

// Invitation is a redeemed invitation token's contents.
type Invitation struct {
	OrgID     string
	Payload   map[string]string
	ExpiresAt time.Time
}

// IssueInvitation mints an org-scoped invitation secret carrying arbitrary
// application payload.
func (e *Engine) IssueInvitation(ctx context.Context, orgID string, payload map[string]string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	invite, err := e.tokens.Issue(ctx, token.IssueRequest{
		Type:    token.TypeInvitation,
		OrgID:   orgID,
		Payload: payload,
		TTL:     e.config.Token.InvitationTTL,
	})
	if err != nil {
		return "", err
	}

	e.metrics.Inc(metrics.MetricInvitationIssued)
	e.emitAudit(ctx, EventInvitationIssued, "", orgID, invite.ID, true, nil, nil)
	return invite.Secret, nil
}

// RedeemInvitation consumes an invitation secret. Exactly one concurrent
// redeemer succeeds; the rest get [ErrTokenNotFound].
func (e *Engine) RedeemInvitation(ctx context.Context, secret string) (*Invitation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	invite, err := e.tokens.Redeem(ctx, token.TypeInvitation, secret)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	e.metrics.Inc(metrics.MetricInvitationRedeemed)
	e.emitAudit(ctx, EventInvitationRedeemed, "", invite.OrgID, invite.ID, true, nil, nil)
	return &Invitation{
		OrgID:     invite.OrgID,
		Payload:   invite.Payload,
		ExpiresAt: time.Unix(invite.ExpiresAt, 0),
	}, nil
}

// InvalidatePermissions drops cached permission indexes after an
// entitlement change, for one user or for everyone.
func (e *Engine) InvalidatePermissions(userID string) {
	if e == nil || e.resolver == nil {
		return
	}
	if userID == "" {
		e.resolver.InvalidateAll()
		return
	}
	e.resolver.Invalidate(userID)
}
