package internaldefs

import (
	keyrail "github.com/keyrail/keyrail"
)

// CounterDef binds one engine counter to its exported name and help text.
type CounterDef struct {
	ID   keyrail.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: keyrail.MetricLoginSuccess, Name: "keyrail_login_success_total", Help: "Successful login attempts."},
	{ID: keyrail.MetricLoginFailure, Name: "keyrail_login_failure_total", Help: "Failed login attempts."},
	{ID: keyrail.MetricLoginRateLimited, Name: "keyrail_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: keyrail.MetricFactorChallenge, Name: "keyrail_factor_challenge_total", Help: "Logins answered with a second-factor challenge."},
	{ID: keyrail.MetricRefreshSuccess, Name: "keyrail_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: keyrail.MetricRefreshRecovered, Name: "keyrail_refresh_recovered_total", Help: "Refreshes answered from an exchange record."},
	{ID: keyrail.MetricRefreshFailure, Name: "keyrail_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: keyrail.MetricRefreshRateLimited, Name: "keyrail_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: keyrail.MetricValidateSuccess, Name: "keyrail_validate_success_total", Help: "Successful credential validations."},
	{ID: keyrail.MetricValidateFailure, Name: "keyrail_validate_failure_total", Help: "Failed credential validations."},
	{ID: keyrail.MetricAuthorizeAllowed, Name: "keyrail_authorize_allowed_total", Help: "Permission probes that resolved to allow."},
	{ID: keyrail.MetricAuthorizeDenied, Name: "keyrail_authorize_denied_total", Help: "Permission probes that resolved to deny."},
	{ID: keyrail.MetricTokenIssued, Name: "keyrail_token_issued_total", Help: "Issued session token pairs."},
	{ID: keyrail.MetricTokenRedeemed, Name: "keyrail_token_redeemed_total", Help: "Redeemed single-use tokens."},
	{ID: keyrail.MetricRotationConflict, Name: "keyrail_rotation_conflict_total", Help: "Concurrent rotations resolved idempotently."},
	{ID: keyrail.MetricLogout, Name: "keyrail_logout_total", Help: "Single-session logout operations."},
	{ID: keyrail.MetricLogoutAll, Name: "keyrail_logout_all_total", Help: "Logout-all operations."},
	{ID: keyrail.MetricFactorEnrolled, Name: "keyrail_factor_enrolled_total", Help: "Activated factor enrollments."},
	{ID: keyrail.MetricFactorRemoved, Name: "keyrail_factor_removed_total", Help: "Removed auth factors."},
	{ID: keyrail.MetricFactorFailure, Name: "keyrail_factor_failure_total", Help: "Failed factor code verifications."},
	{ID: keyrail.MetricPasswordResetRequest, Name: "keyrail_password_reset_request_total", Help: "Password reset requests."},
	{ID: keyrail.MetricPasswordResetConfirm, Name: "keyrail_password_reset_confirm_total", Help: "Completed password resets."},
	{ID: keyrail.MetricInvitationIssued, Name: "keyrail_invitation_issued_total", Help: "Issued invitations."},
	{ID: keyrail.MetricInvitationRedeemed, Name: "keyrail_invitation_redeemed_total", Help: "Redeemed invitations."},
}
