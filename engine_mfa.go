package keyrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/keyrail/keyrail/internal/metrics"
	"github.com/keyrail/keyrail/otp"
	"github.com/keyrail/keyrail/token"
)

// Pending enrollments are tracked through a per-user alias in the token
// store: one pending enrollment per factor kind per user, while the token
// secret itself stays random. Beginning again replaces the pending state.

// BeginTOTPEnrollment mints a fresh time-based factor secret for the user
// and parks it in a short-lived enrollment token. The factor activates only
// after [Engine.CompleteTOTPEnrollment] proves the user's device produces
// matching codes.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, err := e.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.requireNotEnrolled(ctx, userID, FactorTOTP); err != nil {
		return nil, err
	}

	account := user.Email
	if account == "" {
		account = user.Identifier
	}
	material, err := e.otp.BeginTOTP(account)
	if err != nil {
		return nil, err
	}

	if err := e.tokens.DeleteByAlias(ctx, token.TypeTOTPEnroll, userID); err != nil {
		return nil, err
	}
	if _, err := e.tokens.Issue(ctx, token.IssueRequest{
		Type:    token.TypeTOTPEnroll,
		Alias:   userID,
		UserID:  userID,
		OrgID:   user.OrgID,
		Payload: map[string]string{"secret": material.Secret},
		TTL:     e.config.Token.EnrollTTL,
	}); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventFactorEnrollBegin, userID, user.OrgID, "", true, nil, map[string]string{"factor": string(FactorTOTP)})
	return &Enrollment{
		Secret: material.Secret,
		URI:    material.URI,
		QRPNG:  material.QRPNG,
	}, nil
}

// CompleteTOTPEnrollment activates the pending time-based factor once the
// user proves possession with a valid code. A wrong code leaves the pending
// enrollment intact so the user can retry within its lifetime.
func (e *Engine) CompleteTOTPEnrollment(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	pending, err := e.tokens.PeekByAlias(ctx, token.TypeTOTPEnroll, userID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	secret := pending.PayloadValue("secret")
	if !e.otp.VerifyTOTP(secret, code) {
		e.metrics.Inc(metrics.MetricFactorFailure)
		e.emitAudit(ctx, EventFactorEnrollFailed, userID, pending.OrgID, "", false, ErrInvalidCredential, map[string]string{"factor": string(FactorTOTP)})
		return ErrInvalidCredential
	}

	return e.activateFactor(ctx, pending, FactorTOTP, secret)
}

// BeginSOTPEnrollment parks a caller-supplied static key as a pending
// static-code factor. The key must be exactly 32 base32 characters.
func (e *Engine) BeginSOTPEnrollment(ctx context.Context, userID, staticKey string) error {
	if err := e.ready(); err != nil {
		return err
	}

	user, err := e.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.requireNotEnrolled(ctx, userID, FactorSOTP); err != nil {
		return err
	}
	if !otp.ValidStaticKey(staticKey) {
		return fmt.Errorf("%w: static key must be 32 base32 characters", ErrInvalidCredential)
	}

	if err := e.tokens.DeleteByAlias(ctx, token.TypeTOTPSecret, userID); err != nil {
		return err
	}
	if _, err := e.tokens.Issue(ctx, token.IssueRequest{
		Type:    token.TypeTOTPSecret,
		Alias:   userID,
		UserID:  userID,
		OrgID:   user.OrgID,
		Payload: map[string]string{"key": staticKey},
		TTL:     e.config.Token.EnrollTTL,
	}); err != nil {
		return err
	}

	e.emitAudit(ctx, EventFactorEnrollBegin, userID, user.OrgID, "", true, nil, map[string]string{"factor": string(FactorSOTP)})
	return nil
}

// CompleteSOTPEnrollment activates the pending static factor once a code
// derived from the key verifies.
func (e *Engine) CompleteSOTPEnrollment(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	pending, err := e.tokens.PeekByAlias(ctx, token.TypeTOTPSecret, userID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	key := pending.PayloadValue("key")
	if !e.otp.VerifyStatic(key, code) {
		e.metrics.Inc(metrics.MetricFactorFailure)
		e.emitAudit(ctx, EventFactorEnrollFailed, userID, pending.OrgID, "", false, ErrInvalidCredential, map[string]string{"factor": string(FactorSOTP)})
		return ErrInvalidCredential
	}

	return e.activateFactor(ctx, pending, FactorSOTP, key)
}

// RemoveAuthFactor ejects an enrolled factor. Self-service removal demands a
// fresh proof code from one of the user's enrolled factors; an actor holding
// the admin-override permission may remove anyone's factor without proof.
func (e *Engine) RemoveAuthFactor(ctx context.Context, actorID, userID string, factorType FactorType, proofCode string) error {
	if err := e.ready(); err != nil {
		return err
	}

	factors, err := e.secondFactors(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := findFactor(factors, factorType); !ok {
		return ErrAuthFactorNotFound
	}

	override, err := e.hasAdminOverride(ctx, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && !override {
		return ErrAuthorization
	}
	if !override {
		if proofCode == "" {
			return &FactorRequiredError{Factors: factorTypes(factors)}
		}
		if !e.verifyAnyFactor(factors, proofCode) {
			e.metrics.Inc(metrics.MetricFactorFailure)
			e.emitAudit(ctx, EventFactorEnrollFailed, userID, "", "", false, ErrInvalidCredential, map[string]string{"factor": string(factorType), "op": "remove"})
			return ErrInvalidCredential
		}
	}

	if err := e.directory.DeleteAuthFactor(ctx, userID, factorType); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricFactorRemoved)
	e.emitAudit(ctx, EventFactorRemoved, userID, "", "", true, nil, map[string]string{"factor": string(factorType), "actor": actorID})
	return nil
}

func (e *Engine) activateFactor(ctx context.Context, pending *token.Token, factorType FactorType, secret string) error {
	if err := e.requireNotEnrolled(ctx, pending.UserID, factorType); err != nil {
		return err
	}

	// Consume the pending enrollment before persisting: a replayed complete
	// call cannot activate twice.
	if _, err := e.tokens.RedeemByAlias(ctx, pending.Type, pending.UserID); err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	if err := e.directory.CreateAuthFactor(ctx, AuthFactor{
		UserID: pending.UserID,
		Type:   factorType,
		Secret: secret,
	}); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricFactorEnrolled)
	e.emitAudit(ctx, EventFactorEnrolled, pending.UserID, pending.OrgID, "", true, nil, map[string]string{"factor": string(factorType)})
	return nil
}

func (e *Engine) requireNotEnrolled(ctx context.Context, userID string, factorType FactorType) error {
	factors, err := e.secondFactors(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := findFactor(factors, factorType); ok {
		return ErrDuplicateAuthFactor
	}
	return nil
}

func (e *Engine) verifyAnyFactor(factors []AuthFactor, code string) bool {
	for _, f := range factors {
		if e.verifyFactorCode(f, code) {
			return true
		}
	}
	return false
}

func (e *Engine) hasAdminOverride(ctx context.Context, actorID string) (bool, error) {
	name := e.config.Security.AdminOverridePermission
	if name == "" || actorID == "" {
		return false, nil
	}
	return e.resolver.HasPermission(ctx, actorID, name, nil)
}

func (e *Engine) activeUser(ctx context.Context, userID string) (*UserRecord, error) {
	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Deactivated() {
		return nil, ErrUserDeactivated
	}
	return user, nil
}
