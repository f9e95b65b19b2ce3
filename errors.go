package keyrail

import "errors"

var (
	// ErrTokenNotFound reports a token secret that is absent, expired, or
	// already redeemed; the three cases are deliberately indistinguishable.
	ErrTokenNotFound = errors.New("token not found")
	// ErrInvalidAccessToken reports a credential that fails signature, claim,
	// or liveness checks.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrInvalidRefreshToken reports a refresh secret that does not pair with
	// the presented credential's lineage.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrUserNotFound reports an identifier or user id the directory cannot
	// resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserDeactivated reports an operation attempted by or for a
	// deactivated user. No tokens are created on this path.
	ErrUserDeactivated = errors.New("user deactivated")
	// ErrAuthorization reports a permission probe that resolved to deny.
	ErrAuthorization = errors.New("not authorized")
	// ErrInvalidCredential reports a failed password or one-time-code check.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrDuplicateAuthFactor reports an enrollment for a factor type that is
	// already active.
	ErrDuplicateAuthFactor = errors.New("auth factor already enrolled")
	// ErrAuthFactorNotFound reports an operation on a factor the user has not
	// enrolled.
	ErrAuthFactorNotFound = errors.New("auth factor not found")
	// ErrRateLimited reports an exhausted login or refresh attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrEngineNotReady reports use of an Engine whose Build failed or never
	// ran.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrAuthFactorRequired is the bare sentinel behind [FactorRequiredError];
// errors.Is(err, ErrAuthFactorRequired) matches both.
var ErrAuthFactorRequired = errors.New("auth factor required")

// FactorRequiredError demands a second factor, listing the factor types the
// user can satisfy it with.
type FactorRequiredError struct {
	Factors []FactorType
}

func (e *FactorRequiredError) Error() string {
	return "auth factor required"
}

func (e *FactorRequiredError) Is(target error) bool {
	return target == ErrAuthFactorRequired
}

// Stable numeric codes for the wire envelope. Codes are grouped by concern
// and never reused.
const (
	CodeUnknown             = 1000
	CodeTokenNotFound       = 1101
	CodeInvalidAccessToken  = 1102
	CodeInvalidRefreshToken = 1103
	CodeUserNotFound        = 1201
	CodeUserDeactivated     = 1202
	CodeAuthorization       = 1301
	CodeInvalidCredential   = 1401
	CodeDuplicateAuthFactor = 1501
	CodeAuthFactorNotFound  = 1502
	CodeAuthFactorRequired  = 1503
	CodeRateLimited         = 1601
)

// ErrorCode maps an engine error to its stable numeric code. Wrapped errors
// match through errors.Is; anything unrecognized maps to [CodeUnknown].
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrTokenNotFound):
		return CodeTokenNotFound
	case errors.Is(err, ErrInvalidAccessToken):
		return CodeInvalidAccessToken
	case errors.Is(err, ErrInvalidRefreshToken):
		return CodeInvalidRefreshToken
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrUserDeactivated):
		return CodeUserDeactivated
	case errors.Is(err, ErrAuthorization):
		return CodeAuthorization
	case errors.Is(err, ErrInvalidCredential):
		return CodeInvalidCredential
	case errors.Is(err, ErrDuplicateAuthFactor):
		return CodeDuplicateAuthFactor
	case errors.Is(err, ErrAuthFactorNotFound):
		return CodeAuthFactorNotFound
	case errors.Is(err, ErrAuthFactorRequired):
		return CodeAuthFactorRequired
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeUnknown
	}
}
