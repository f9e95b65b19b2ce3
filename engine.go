package keyrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyrail/keyrail/internal"
	"github.com/keyrail/keyrail/internal/audit"
	"github.com/keyrail/keyrail/internal/metrics"
	"github.com/keyrail/keyrail/internal/rate"
	"github.com/keyrail/keyrail/jwt"
	"github.com/keyrail/keyrail/otp"
	"github.com/keyrail/keyrail/password"
	"github.com/keyrail/keyrail/permission"
	"github.com/keyrail/keyrail/token"
)

// Engine is the session and authorization core. Construct it through
// [Builder]; a zero Engine is not usable. All methods are safe for
// concurrent use.
type Engine struct {
	config    Config
	logger    *slog.Logger
	directory Directory
	tokens    *token.Store
	signer    *jwt.Manager
	password  *password.Hasher
	otp       *otp.Manager
	resolver  *permission.Resolver
	limiter   *rate.Limiter
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) ready() error {
	if e == nil || e.tokens == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Login authenticates the primary factor. When the user has a secondary
// factor enrolled the call fails with a [FactorRequiredError] listing the
// available factor types and issues nothing; the client then retries through
// [Engine.LoginWithFactor].
func (e *Engine) Login(ctx context.Context, identifier, pass string) (*SessionPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, err := e.verifyPrimary(ctx, identifier, pass)
	if err != nil {
		return nil, err
	}

	factors, err := e.secondFactors(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(factors) > 0 {
		e.metrics.Inc(metrics.MetricFactorChallenge)
		e.emitAudit(ctx, EventLoginChallenged, user.ID, user.OrgID, "", false, ErrAuthFactorRequired, nil)
		return nil, &FactorRequiredError{Factors: factorTypes(factors)}
	}

	return e.finishLogin(ctx, user)
}

// LoginWithFactor authenticates the primary factor plus one enrolled
// secondary factor.
func (e *Engine) LoginWithFactor(ctx context.Context, identifier, pass string, factorType FactorType, code string) (*SessionPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, err := e.verifyPrimary(ctx, identifier, pass)
	if err != nil {
		return nil, err
	}

	factors, err := e.secondFactors(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	factor, ok := findFactor(factors, factorType)
	if !ok {
		return nil, ErrAuthFactorNotFound
	}
	if !e.verifyFactorCode(factor, code) {
		e.metrics.Inc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailed, user.ID, user.OrgID, "", false, ErrInvalidCredential, map[string]string{"factor": string(factorType)})
		if limitErr := e.limiter.RecordLoginFailure(ctx, identifier); limitErr != nil && !errors.Is(limitErr, rate.ErrRateLimited) {
			e.logger.Warn("login failure accounting unavailable", "err", limitErr)
		}
		return nil, ErrInvalidCredential
	}

	return e.finishLogin(ctx, user)
}

// verifyPrimary runs the shared front half of both login variants: throttle
// check, user lookup, deactivation gate, password verification.
func (e *Engine) verifyPrimary(ctx context.Context, identifier, pass string) (*UserRecord, error) {
	if err := e.limiter.CheckLogin(ctx, identifier); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(metrics.MetricLoginRateLimited)
			e.emitAudit(ctx, EventLoginThrottled, "", "", "", false, ErrRateLimited, map[string]string{"identifier": identifier})
			return nil, ErrRateLimited
		}
		return nil, err
	}

	user, err := e.directory.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.Inc(metrics.MetricLoginFailure)
			e.emitAudit(ctx, EventLoginFailed, "", "", "", false, ErrUserNotFound, map[string]string{"identifier": identifier})
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Deactivated() {
		e.metrics.Inc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailed, user.ID, user.OrgID, "", false, ErrUserDeactivated, nil)
		return nil, ErrUserDeactivated
	}

	ok, err := e.password.Verify(pass, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !ok {
		e.metrics.Inc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailed, user.ID, user.OrgID, "", false, ErrInvalidCredential, nil)
		if limitErr := e.limiter.RecordLoginFailure(ctx, identifier); limitErr != nil && !errors.Is(limitErr, rate.ErrRateLimited) {
			e.logger.Warn("login failure accounting unavailable", "err", limitErr)
		}
		return nil, ErrInvalidCredential
	}

	return user, nil
}

func (e *Engine) finishLogin(ctx context.Context, user *UserRecord) (*SessionPair, error) {
	pair, err := e.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := e.limiter.ResetLogin(ctx, user.Identifier); err != nil {
		e.logger.Warn("login throttle reset failed", "err", err)
	}
	e.metrics.Inc(metrics.MetricLoginSuccess)
	e.emitAudit(ctx, EventLoginSucceeded, user.ID, user.OrgID, "", true, nil, nil)
	return pair, nil
}

// issuePair mints a linked authentication/refresh token pair and signs the
// transportable credential. The two secrets reference each other so revoking
// one side can find the other.
func (e *Engine) issuePair(ctx context.Context, user *UserRecord) (*SessionPair, error) {
	authSecret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}
	refreshSecret, err := internal.NewSecret()
	if err != nil {
		return nil, err
	}

	if _, err := e.tokens.Issue(ctx, token.IssueRequest{
		Type:    token.TypeAuthentication,
		Secret:  authSecret,
		UserID:  user.ID,
		OrgID:   user.OrgID,
		Payload: map[string]string{"refresh_secret": refreshSecret},
		TTL:     e.config.Token.AuthTTL,
	}); err != nil {
		return nil, err
	}
	if _, err := e.tokens.Issue(ctx, token.IssueRequest{
		Type:    token.TypeSessionRefresh,
		Secret:  refreshSecret,
		UserID:  user.ID,
		OrgID:   user.OrgID,
		Payload: map[string]string{"auth_secret": authSecret},
		TTL:     e.config.Token.RefreshTTL,
	}); err != nil {
		// Best effort rollback; an orphaned auth token still expires on its
		// own TTL.
		_ = e.tokens.Delete(ctx, token.TypeAuthentication, authSecret)
		return nil, err
	}
	e.metrics.Inc(metrics.MetricTokenIssued)

	access, expiresAt, err := e.signer.Sign(jwt.UserClaims{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		OrgID: user.OrgID,
	}, authSecret, time.Now())
	if err != nil {
		_ = e.tokens.Delete(ctx, token.TypeAuthentication, authSecret)
		_ = e.tokens.Delete(ctx, token.TypeSessionRefresh, refreshSecret)
		return nil, err
	}

	return &SessionPair{
		AccessCredential: access,
		RefreshSecret:    refreshSecret,
		ExpiresAt:        expiresAt,
	}, nil
}

// Validate checks a credential and returns the principal it carries. In
// strict mode the backing authentication token must still be live in the
// store, so revocation takes effect immediately; otherwise the signature and
// expiry alone decide.
func (e *Engine) Validate(ctx context.Context, credential string) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.signer.Parse(credential)
	if err != nil {
		e.metrics.Inc(metrics.MetricValidateFailure)
		return nil, ErrInvalidAccessToken
	}

	if e.config.Security.StrictValidation {
		if _, err := e.tokens.Peek(ctx, token.TypeAuthentication, claims.ID); err != nil {
			e.metrics.Inc(metrics.MetricValidateFailure)
			if errors.Is(err, token.ErrNotFound) {
				return nil, ErrTokenNotFound
			}
			return nil, err
		}
	}

	e.metrics.Inc(metrics.MetricValidateSuccess)
	return identityFromClaims(claims), nil
}

// Authorize validates the credential and probes the named permission in the
// caller's scope: the context organization when set, otherwise the
// credential's, and the global scope as fallback either way.
func (e *Engine) Authorize(ctx context.Context, credential, permissionName string) (*Identity, error) {
	identity, err := e.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}

	allowed, err := e.resolver.HasPermission(ctx, identity.UserID, permissionName, e.scopeFor(ctx, identity))
	if err != nil {
		return nil, err
	}
	if !allowed {
		e.metrics.Inc(metrics.MetricAuthorizeDenied)
		e.emitAudit(ctx, EventAuthorizationDenied, identity.UserID, identity.OrgID, identity.TokenID, false, ErrAuthorization, map[string]string{"permission": permissionName})
		return nil, ErrAuthorization
	}

	e.metrics.Inc(metrics.MetricAuthorizeAllowed)
	return identity, nil
}

// AuthorizeResource is [Engine.Authorize] for a resource-scoped probe.
func (e *Engine) AuthorizeResource(ctx context.Context, credential, permissionName, resourceID string) (*Identity, error) {
	identity, err := e.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}

	allowed, err := e.resolver.HasResourcePermission(ctx, identity.UserID, permissionName, e.scopeFor(ctx, identity), resourceID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		e.metrics.Inc(metrics.MetricAuthorizeDenied)
		e.emitAudit(ctx, EventAuthorizationDenied, identity.UserID, identity.OrgID, identity.TokenID, false, ErrAuthorization, map[string]string{"permission": permissionName, "resource": resourceID})
		return nil, ErrAuthorization
	}

	e.metrics.Inc(metrics.MetricAuthorizeAllowed)
	return identity, nil
}

func (e *Engine) scopeFor(ctx context.Context, identity *Identity) *string {
	if orgID, ok := orgIDFromContext(ctx); ok {
		return &orgID
	}
	if identity.OrgID != "" {
		orgID := identity.OrgID
		return &orgID
	}
	return nil
}

// Logout revokes the session behind a credential: the backing authentication
// token and its paired refresh token. Expired credentials are accepted so a
// lapsed session can still be torn down; an already-revoked session is not
// an error.
func (e *Engine) Logout(ctx context.Context, credential string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.signer.ParseExpired(credential)
	if err != nil {
		return ErrInvalidAccessToken
	}

	authTok, err := e.tokens.Redeem(ctx, token.TypeAuthentication, claims.ID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil
		}
		return err
	}
	if refreshSecret := authTok.PayloadValue("refresh_secret"); refreshSecret != "" {
		if err := e.tokens.Delete(ctx, token.TypeSessionRefresh, refreshSecret); err != nil {
			e.logger.Warn("paired refresh token removal failed", "err", err)
		}
	}

	e.metrics.Inc(metrics.MetricLogout)
	e.emitAudit(ctx, EventLogout, claims.User.ID, claims.User.OrgID, claims.ID, true, nil, nil)
	return nil
}

// LogoutAll revokes every live session of a user. Returns the number of
// tokens removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	removed, err := e.tokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	e.metrics.Inc(metrics.MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, userID, "", "", true, nil, map[string]string{"removed": fmt.Sprintf("%d", removed)})
	return removed, nil
}

func (e *Engine) secondFactors(ctx context.Context, userID string) ([]AuthFactor, error) {
	factors, err := e.directory.AuthFactors(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := factors[:0:0]
	for _, f := range factors {
		if f.Type == FactorTOTP || f.Type == FactorSOTP {
			out = append(out, f)
		}
	}
	return out, nil
}

func (e *Engine) verifyFactorCode(factor AuthFactor, code string) bool {
	switch factor.Type {
	case FactorTOTP:
		return e.otp.VerifyTOTP(factor.Secret, code)
	case FactorSOTP:
		return e.otp.VerifyStatic(factor.Secret, code)
	default:
		return false
	}
}

func findFactor(factors []AuthFactor, factorType FactorType) (AuthFactor, bool) {
	for _, f := range factors {
		if f.Type == factorType {
			return f, true
		}
	}
	return AuthFactor{}, false
}

func factorTypes(factors []AuthFactor) []FactorType {
	out := make([]FactorType, 0, len(factors))
	for _, f := range factors {
		out = append(out, f.Type)
	}
	return out
}

func identityFromClaims(claims *jwt.Claims) *Identity {
	identity := &Identity{
		UserID:  claims.User.ID,
		OrgID:   claims.User.OrgID,
		Name:    claims.User.Name,
		Email:   claims.User.Email,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity
}
