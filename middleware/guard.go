package middleware

import (
	"context"
	"net/http"

	keyrail "github.com/keyrail/keyrail"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity a guard attached to the request
// context.
func IdentityFromContext(ctx context.Context) (*keyrail.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*keyrail.Identity)
	return identity, ok
}

// Guard returns middleware that validates the request credential and, when
// permission is non-empty, enforces it. Credentials are pulled from the
// given sources in order; no sources means Bearer then the engine's session
// cookie. The validated identity is attached to the request context.
func Guard(engine *keyrail.Engine, permission string, sources ...Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, http.StatusUnauthorized, keyrail.ErrEngineNotReady)
				return
			}

			active := sources
			if len(active) == 0 {
				active = []Source{BearerSource{}, CookieSource{}}
			}
			credential, ok := credentialFrom(r, active)
			if !ok {
				WriteError(w, http.StatusUnauthorized, keyrail.ErrInvalidAccessToken)
				return
			}

			var (
				identity *keyrail.Identity
				err      error
			)
			if permission == "" {
				identity, err = engine.Validate(r.Context(), credential)
			} else {
				identity, err = engine.Authorize(r.Context(), credential, permission)
			}
			if err != nil {
				WriteError(w, statusFor(err), err)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth is Guard with no permission check.
func RequireAuth(engine *keyrail.Engine, sources ...Source) func(http.Handler) http.Handler {
	return Guard(engine, "", sources...)
}

func statusFor(err error) int {
	switch keyrail.ErrorCode(err) {
	case keyrail.CodeAuthorization:
		return http.StatusForbidden
	case keyrail.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}
